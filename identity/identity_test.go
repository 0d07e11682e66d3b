package identity

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIdentity(t *testing.T) {
	id, err := GenerateIdentity(rand.Reader)
	require.NoError(t, err)
	require.NotNil(t, id)

	pub := id.PublicBytes()
	assert.Len(t, pub, 32)
	assert.NotEqual(t, [32]byte{}, pub)
}

func TestGenerateIdentity_FatalOnBadReader(t *testing.T) {
	_, err := GenerateIdentity(bytes.NewReader(nil))
	require.Error(t, err)

	var fatal *FatalError
	assert.True(t, errors.As(err, &fatal))
}

func TestPublicBase64_RoundTrips(t *testing.T) {
	id, err := GenerateIdentity(rand.Reader)
	require.NoError(t, err)

	b64 := id.PublicBase64()
	assert.NotEmpty(t, b64)

	decoded, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	pub := id.PublicBytes()
	assert.Equal(t, pub[:], decoded)
}

func TestFromPrivateKey(t *testing.T) {
	id, err := GenerateIdentity(rand.Reader)
	require.NoError(t, err)

	priv := id.PrivateBytes()
	restored, err := FromPrivateKey(priv)
	require.NoError(t, err)
	assert.Equal(t, id.PublicBytes(), restored.PublicBytes())
}

func TestFromPrivateKey_RejectsBadSize(t *testing.T) {
	_, err := FromPrivateKey([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	id, err := GenerateIdentity(rand.Reader)
	require.NoError(t, err)

	msg := []byte("transcript-binding-test")
	sig := id.Sign(msg)

	assert.True(t, Verify(id.PublicBytes(), msg, sig))
	assert.False(t, Verify(id.PublicBytes(), []byte("tampered"), sig))
}

func TestVerify_RejectsWrongKey(t *testing.T) {
	id1, err := GenerateIdentity(rand.Reader)
	require.NoError(t, err)
	id2, err := GenerateIdentity(rand.Reader)
	require.NoError(t, err)

	msg := []byte("hello")
	sig := id1.Sign(msg)

	assert.False(t, Verify(id2.PublicBytes(), msg, sig))
}

func TestZeroize(t *testing.T) {
	id, err := GenerateIdentity(rand.Reader)
	require.NoError(t, err)

	id.Zeroize()

	allZero := true
	for _, b := range id.private {
		if b != 0 {
			allZero = false
			break
		}
	}
	assert.True(t, allZero)
}
