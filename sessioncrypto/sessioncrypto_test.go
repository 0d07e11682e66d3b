package sessioncrypto

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateEphemeral(t *testing.T) {
	kp, err := GenerateEphemeral()
	require.NoError(t, err)
	pub := kp.PublicBytes()
	assert.NotEqual(t, [32]byte{}, pub)
}

func TestAgree_MatchingKeysDeriveSameSecret(t *testing.T) {
	alice, err := GenerateEphemeral()
	require.NoError(t, err)
	bob, err := GenerateEphemeral()
	require.NoError(t, err)

	aliceSecret, err := alice.Agree(bob.PublicBytes())
	require.NoError(t, err)

	bobSecret, err := bob.Agree(alice.PublicBytes())
	require.NoError(t, err)

	assert.Equal(t, aliceSecret, bobSecret)
}

func TestAgree_RejectsAllZeroSharedSecret(t *testing.T) {
	kp, err := GenerateEphemeral()
	require.NoError(t, err)

	// The all-zero public key is a known low-order point that forces an
	// all-zero X25519 output regardless of the private scalar.
	var zeroPub [32]byte
	_, err = kp.Agree(zeroPub)
	require.Error(t, err)
}

func TestDeriveSessionKey_Deterministic(t *testing.T) {
	secret := []byte("shared-secret-material-32-bytes")
	transcript := []byte("transcript")

	k1, err := DeriveSessionKey(secret, transcript)
	require.NoError(t, err)
	k2, err := DeriveSessionKey(secret, transcript)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
}

func TestDeriveSessionKey_DifferentTranscriptsDiverge(t *testing.T) {
	secret := []byte("shared-secret-material-32-bytes")

	k1, err := DeriveSessionKey(secret, []byte("transcript-a"))
	require.NoError(t, err)
	k2, err := DeriveSessionKey(secret, []byte("transcript-b"))
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestNonceSequence_MonotonicAndDirectionTagged(t *testing.T) {
	initSeq := NewNonceSequence(Initiator)
	respSeq := NewNonceSequence(Responder)

	n1, err := initSeq.Next()
	require.NoError(t, err)
	n2, err := initSeq.Next()
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2)

	r1, err := respSeq.Next()
	require.NoError(t, err)
	assert.NotEqual(t, n1, r1, "initiator and responder nonces must never collide")
}

func TestNonceSequence_Exhaustion(t *testing.T) {
	seq := &NonceSequence{dir: Initiator, counter: ^uint64(0)}
	_, err := seq.Next()
	assert.ErrorIs(t, err, ErrNonceExhausted)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	var key SessionKey
	_, err := rand.Read(key[:])
	require.NoError(t, err)

	seq := NewNonceSequence(Initiator)
	nonce, err := seq.Next()
	require.NoError(t, err)

	plaintext := []byte("hello across the overlay")
	ciphertext, err := Seal(key, nonce, plaintext, nil)
	require.NoError(t, err)

	opened, err := Open(key, nonce, ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpen_DetectsTampering(t *testing.T) {
	var key SessionKey
	_, err := rand.Read(key[:])
	require.NoError(t, err)

	seq := NewNonceSequence(Initiator)
	nonce, err := seq.Next()
	require.NoError(t, err)

	ciphertext, err := Seal(key, nonce, []byte("integrity matters"), nil)
	require.NoError(t, err)

	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xFF

	_, err = Open(key, nonce, tampered, nil)
	assert.True(t, errors.Is(err, ErrAuthFail))
}

func TestOpen_WrongKeyFails(t *testing.T) {
	var key1, key2 SessionKey
	_, err := rand.Read(key1[:])
	require.NoError(t, err)
	_, err = rand.Read(key2[:])
	require.NoError(t, err)

	seq := NewNonceSequence(Initiator)
	nonce, err := seq.Next()
	require.NoError(t, err)

	ciphertext, err := Seal(key1, nonce, []byte("secret"), nil)
	require.NoError(t, err)

	_, err = Open(key2, nonce, ciphertext, nil)
	assert.ErrorIs(t, err, ErrAuthFail)
}

func TestSessionKey_Zeroize(t *testing.T) {
	var key SessionKey
	_, err := rand.Read(key[:])
	require.NoError(t, err)

	key.Zeroize()
	assert.Equal(t, SessionKey{}, key)
}
