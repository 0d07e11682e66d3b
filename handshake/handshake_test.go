package handshake

import (
	"context"
	"crypto/rand"
	"net"
	"sync"
	"testing"

	"github.com/cwtch-go/core/channel"
	"github.com/cwtch-go/core/framing"
	"github.com/cwtch-go/core/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeAndEcho(t *testing.T) {
	connA, connB := net.Pipe()

	idA, err := identity.GenerateIdentity(rand.Reader)
	require.NoError(t, err)
	idB, err := identity.GenerateIdentity(rand.Reader)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)

	var initErr, respErr error
	var initChan, respChan *channel.PeerChannel

	go func() {
		defer wg.Done()
		initChan, initErr = RunInitiator(context.Background(), connA, idA, Config{})
	}()

	go func() {
		defer wg.Done()
		respChan, respErr = RunResponder(context.Background(), connB, idB, Config{})
	}()

	wg.Wait()

	require.NoError(t, initErr)
	require.NoError(t, respErr)
	require.NotNil(t, initChan)
	require.NotNil(t, respChan)
	defer initChan.Close()
	defer respChan.Close()

	require.NoError(t, initChan.Send(framing.TypeMessage, []byte("hello")))

	frame, err := respChan.Receive()
	require.NoError(t, err)
	assert.Equal(t, framing.TypeMessage, frame.Type)
	assert.Equal(t, "hello", string(frame.Payload))

	require.NoError(t, respChan.Send(framing.TypeMessage, frame.Payload))

	echoed, err := initChan.Receive()
	require.NoError(t, err)
	assert.Equal(t, framing.TypeMessage, echoed.Type)
	assert.Equal(t, "hello", string(echoed.Payload))
}

func TestHandshake_SignTranscript(t *testing.T) {
	connA, connB := net.Pipe()

	idA, err := identity.GenerateIdentity(rand.Reader)
	require.NoError(t, err)
	idB, err := identity.GenerateIdentity(rand.Reader)
	require.NoError(t, err)

	cfg := Config{SignTranscript: true}

	var wg sync.WaitGroup
	wg.Add(2)

	var initErr, respErr error

	go func() {
		defer wg.Done()
		_, initErr = RunInitiator(context.Background(), connA, idA, cfg)
	}()
	go func() {
		defer wg.Done()
		_, respErr = RunResponder(context.Background(), connB, idB, cfg)
	}()

	wg.Wait()

	assert.NoError(t, initErr)
	assert.NoError(t, respErr)
}

func TestParseHello_RejectsBadPrefix(t *testing.T) {
	_, err := parseHello("NOT_A_HELLO:abc:def\n", Config{})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestParseHello_RejectsTooFewFields(t *testing.T) {
	_, err := parseHello("CWTCH_HELLO:onlyonefield\n", Config{})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestParseHello_RejectsBadBase64(t *testing.T) {
	_, err := parseHello("CWTCH_HELLO:not-valid-base64!!:alsoBad!!\n", Config{})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestRunResponder_FailsOnMalformedWireHello(t *testing.T) {
	connA, connB := net.Pipe()

	idB, err := identity.GenerateIdentity(rand.Reader)
	require.NoError(t, err)

	go func() {
		_, _ = connA.Write([]byte("GARBAGE_NOT_A_HELLO\n"))
	}()

	_, err = RunResponder(context.Background(), connB, idB, Config{})
	require.Error(t, err)

	var failed *FailedHandshakeError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, AwaitingHello, failed.State)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Start", Start.String())
	assert.Equal(t, "Handshaken", Handshaken.String())
	assert.Equal(t, "Failed", Failed.String())
}
