package overlay

import (
	"context"
	"net"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/cwtch-go/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events chan peer.Event
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan peer.Event, 16)}
}

func (s *recordingSink) Emit(ev peer.Event) {
	s.events <- ev
}

var onionPattern = regexp.MustCompile(`^[a-z2-7]{56}\.onion$`)

func TestOfflineControlPort_PublishFormat(t *testing.T) {
	var cp OfflineControlPort
	addr, err := cp.Publish(context.Background(), 9878)
	require.NoError(t, err)
	assert.Regexp(t, onionPattern, addr)
}

func TestStaticControlPort_PublishReturnsConfiguredAddress(t *testing.T) {
	cp := StaticControlPort{Address: "fixedaddressxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx.onion"}
	addr, err := cp.Publish(context.Background(), 1234)
	require.NoError(t, err)
	assert.Equal(t, cp.Address, addr)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestStartStop_PublishesAddressAndEmitsEvents(t *testing.T) {
	port := freePort(t)
	sink := newRecordingSink()

	accepted := make(chan struct{}, 1)
	svc := NewOverlayService(
		Config{ListenPort: port, OfflineMode: true},
		OfflineControlPort{},
		sink,
		func(ctx context.Context, conn net.Conn) error {
			accepted <- struct{}{}
			return conn.Close()
		},
	)

	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	assert.Regexp(t, onionPattern, svc.OnionAddress())
	assert.True(t, svc.Connected())
	assert.Equal(t, 1.0, svc.Progress())

	sawConnected := false
	for i := 0; i < 4 && !sawConnected; i++ {
		select {
		case ev := <-sink.events:
			if status, ok := ev.(peer.OverlayEvent); ok && status.Connected {
				sawConnected = true
			}
		case <-time.After(time.Second):
		}
	}
	assert.True(t, sawConnected, "expected a connected OverlayEvent to be emitted")

	require.NoError(t, svc.Stop())
	assert.False(t, svc.Connected())
	assert.Equal(t, "stopped", svc.StatusMessage())
}

func TestAcceptLoop_InvokesHandlerOnInboundConnection(t *testing.T) {
	port := freePort(t)
	sink := newRecordingSink()

	accepted := make(chan struct{}, 1)
	svc := NewOverlayService(
		Config{ListenPort: port, OfflineMode: true},
		OfflineControlPort{},
		sink,
		func(ctx context.Context, conn net.Conn) error {
			accepted <- struct{}{}
			return conn.Close()
		},
	)

	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound connection to be handled")
	}
}

func TestDial_OfflineModeDialsDirectly(t *testing.T) {
	// Dial always targets defaultListenPort on the given host; bind a
	// listener there so the offline dial has something to reach.
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(defaultListenPort)))
	if err != nil {
		t.Skipf("cannot bind default listen port for this test: %v", err)
	}
	defer ln.Close()

	accepted := make(chan struct{}, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- struct{}{}
			conn.Close()
		}
	}()

	svc := NewOverlayService(Config{OfflineMode: true}, OfflineControlPort{}, nil, nil)

	conn, err := svc.Dial(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	conn.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for offline dial to reach listener")
	}
}

func TestDial_UnreachableTargetReturnsError(t *testing.T) {
	svc := NewOverlayService(Config{OfflineMode: true}, OfflineControlPort{}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := svc.Dial(ctx, "127.0.0.1")
	assert.Error(t, err)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, defaultListenPort, cfg.ListenPort)
	assert.Equal(t, defaultSocksAddress, cfg.SocksAddress)
}
