// Package identity manages the long-lived Ed25519 keypair that names a peer
// on the overlay. The same keypair doubles as the transcript-signing key
// used by the handshake's optional SignTranscript toggle.
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/cwtch-go/core/internal/logger"
)

// FatalError marks an error that the process root must treat as
// unrecoverable (logged at Fatal level, then os.Exit(1)). Library code
// never performs that exit itself; only cmd/cwtchcore is allowed to.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("identity: fatal: %v", e.Cause)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// Identity wraps an Ed25519 keypair. The public half names the peer on the
// wire (hello lines, fingerprints); the private half signs transcripts when
// the handshake's SignTranscript toggle is enabled.
type Identity struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateIdentity creates a fresh Ed25519 keypair from rand. A failure to
// read from rand is a CryptoFatal condition: entropy starvation at key
// generation time cannot be worked around, only reported upward.
func GenerateIdentity(rand io.Reader) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, &FatalError{Cause: fmt.Errorf("generate ed25519 keypair: %w", err)}
	}
	return &Identity{public: pub, private: priv}, nil
}

// FromPrivateKey reconstructs an Identity from a previously persisted
// Ed25519 private key, e.g. after PrivacyGuard.Load decrypts it.
func FromPrivateKey(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: invalid private key size %d", len(priv))
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity: unexpected public key type")
	}
	return &Identity{public: pub, private: priv}, nil
}

// PublicBytes returns the 32-byte Ed25519 public key.
func (id *Identity) PublicBytes() [32]byte {
	var out [32]byte
	copy(out[:], id.public)
	return out
}

// PublicBase64 returns the public key base64-encoded, the form carried in
// the CWTCH_HELLO wire line.
func (id *Identity) PublicBase64() string {
	return base64.StdEncoding.EncodeToString(id.public)
}

// PrivateBytes returns the raw Ed25519 private key, for callers persisting
// it via PrivacyGuard.
func (id *Identity) PrivateBytes() []byte {
	out := make([]byte, len(id.private))
	copy(out, id.private)
	return out
}

// Sign signs data with the identity's private key. Used only by the
// handshake's optional transcript-signing toggle; never called on the
// default unauthenticated-ephemeral path.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.private, data)
}

// Verify checks sig over data against a peer's public key.
func Verify(peerPublic [32]byte, data, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(peerPublic[:]), data, sig)
}

// Zeroize overwrites the private key material in place. After calling this
// the Identity must not be used again; Sign/PrivateBytes on a zeroized
// Identity leak only zero bytes, not a crash, since callers under error
// paths are not always able to check ordering precisely.
func (id *Identity) Zeroize() {
	for i := range id.private {
		id.private[i] = 0
	}
	logger.Debug("identity zeroized")
}
