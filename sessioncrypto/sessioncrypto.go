// Package sessioncrypto implements the ephemeral X25519 key agreement,
// HKDF-SHA-256 session key derivation, and AES-256-GCM sealing used on an
// established peer channel.
package sessioncrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrAuthFail is returned by Open when the ciphertext or its tag do not
	// verify: tampering, corruption, or a wrong key.
	ErrAuthFail = errors.New("sessioncrypto: authentication failed")

	// ErrNonceExhausted is returned once a NonceSequence's counter would
	// wrap. The channel must be torn down and re-keyed; reusing a nonce
	// under the same key breaks AES-GCM's confidentiality guarantee.
	ErrNonceExhausted = errors.New("sessioncrypto: nonce sequence exhausted")

	errZeroSharedSecret = errors.New("sessioncrypto: shared secret is all-zero")
)

// SessionKey is the 256-bit symmetric key derived for one peer channel.
// Zero it via Zeroize once the channel closes.
type SessionKey [32]byte

// Zeroize overwrites the key material in place.
func (k *SessionKey) Zeroize() {
	for i := range k {
		k[i] = 0
	}
}

// EphemeralKeyPair is a single-use X25519 keypair generated fresh for each
// handshake.
type EphemeralKeyPair struct {
	private *ecdh.PrivateKey
	public  *ecdh.PublicKey
}

// GenerateEphemeral creates a fresh X25519 ephemeral keypair.
func GenerateEphemeral() (*EphemeralKeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: generate ephemeral key: %w", err)
	}
	return &EphemeralKeyPair{private: priv, public: priv.PublicKey()}, nil
}

// PublicBytes returns the 32-byte X25519 public key to place on the wire.
func (e *EphemeralKeyPair) PublicBytes() [32]byte {
	var out [32]byte
	copy(out[:], e.public.Bytes())
	return out
}

// Agree performs the X25519 Diffie-Hellman exchange against a peer's
// ephemeral public key and rejects the degenerate all-zero result a
// malicious or malformed peer key can produce.
func (e *EphemeralKeyPair) Agree(peerPublic [32]byte) ([]byte, error) {
	peerKey, err := ecdh.X25519().NewPublicKey(peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: invalid peer public key: %w", err)
	}

	secret, err := e.private.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: ecdh failed: %w", err)
	}

	zero := make([]byte, len(secret))
	if subtle.ConstantTimeCompare(secret, zero) == 1 {
		return nil, errZeroSharedSecret
	}

	return secret, nil
}

// DeriveSessionKey expands a raw ECDH shared secret into a SessionKey via
// HKDF-SHA-256 with the fixed info string "cwtch-go session key", salted
// with the caller's transcript (the handshake passes its two label strings
// followed by the initiator's and responder's ephemeral public keys) so
// each handshake yields an independent key even under secret reuse.
func DeriveSessionKey(sharedSecret []byte, transcript []byte) (SessionKey, error) {
	var key SessionKey

	kdf := hkdf.New(sha256.New, sharedSecret, transcript, []byte("cwtch-go session key"))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return SessionKey{}, fmt.Errorf("sessioncrypto: hkdf expand: %w", err)
	}
	return key, nil
}

// Direction selects which 4-byte tag a NonceSequence prefixes its counter
// with, so the two ends of one connection never share a nonce space under
// the same derived key.
type Direction uint32

const (
	Initiator Direction = 0x494e4954 // "INIT"
	Responder Direction = 0x5245535b // "RES["
)

// NonceSequence produces the 96-bit AES-GCM nonces used on one direction of
// a channel: a 4-byte direction tag followed by an 8-byte big-endian
// monotonic counter. The counter starts at zero and must never repeat
// under the same SessionKey.
type NonceSequence struct {
	dir     Direction
	counter uint64
}

// NewNonceSequence creates a counter starting at zero for the given
// direction.
func NewNonceSequence(dir Direction) *NonceSequence {
	return &NonceSequence{dir: dir}
}

// Next returns the next 12-byte nonce, or ErrNonceExhausted once the
// counter has been used 2^64-1 times.
func (n *NonceSequence) Next() ([]byte, error) {
	if n.counter == ^uint64(0) {
		return nil, ErrNonceExhausted
	}

	nonce := make([]byte, 12)
	binary.BigEndian.PutUint32(nonce[0:4], uint32(n.dir))
	binary.BigEndian.PutUint64(nonce[4:12], n.counter)
	n.counter++
	return nonce, nil
}

// Count returns the number of nonces issued so far. NonceSequence is owned
// by a single PeerChannel direction and is not safe for concurrent use.
func (n *NonceSequence) Count() uint64 {
	return n.counter
}

func newAEAD(key SessionKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: new gcm: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext under key using nonce and AES-256-GCM. aad is
// additional authenticated data bound to the ciphertext but not encrypted;
// PeerChannel passes nil since the frame length prefix is authenticated
// implicitly by being read before decryption, not as AEAD AAD.
func Seal(key SessionKey, nonce, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("sessioncrypto: nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

// Open decrypts and authenticates ciphertext under key using nonce and aad.
// A mismatched tag, truncated ciphertext, wrong aad, or wrong key all
// surface as ErrAuthFail — the channel must be closed on any such failure,
// per the tamper-detection contract.
func Open(key SessionKey, nonce, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("sessioncrypto: nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFail
	}
	return plaintext, nil
}
