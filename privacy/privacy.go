// Package privacy implements PrivacyGuard: message padding, send jitter,
// an encrypted at-rest key-value store, secure wipe and panic-destroy, and
// deterministic public-key fingerprinting.
package privacy

import (
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/cwtch-go/core/internal/logger"
	"github.com/cwtch-go/core/internal/metrics"
)

// ErrNotUnlocked is returned by Save/Load before Unlock has succeeded.
var ErrNotUnlocked = errors.New("privacy: storage is not unlocked")

// ErrAuthFail is returned by Load when a stored file's AEAD tag does not
// verify: wrong passphrase or corrupted file.
var ErrAuthFail = errors.New("privacy: stored blob authentication failed")

const (
	pbkdf2Iterations = 100000
	saltSize         = 32
	keySize          = 32
	ivSize           = 12
	saltFileName     = ".salt"
)

// wordAlphabet is the fixed 32-word vocabulary word_fingerprint indexes
// into. Chosen for unambiguous pronunciation and no shared prefixes.
var wordAlphabet = [32]string{
	"anchor", "basil", "cedar", "delta", "ember", "falcon", "granite", "harbor",
	"indigo", "jasper", "kettle", "lumen", "mantle", "nectar", "onyx", "pepper",
	"quartz", "raven", "sable", "tundra", "umber", "velvet", "willow", "xenon",
	"yarrow", "zephyr", "amber", "birch", "coral", "dune", "zircon", "flint",
}

// Guard owns a storage root and, once unlocked, the derived 256-bit
// storage key. Panic zeroes the key in place.
type Guard struct {
	mu          sync.Mutex
	storageRoot string
	key         [keySize]byte
	unlocked    bool

	ghostMode      bool
	paddingEnabled bool
	jitterEnabled  bool
}

// NewGuard returns a Guard rooted at storageRoot, with padding and jitter
// enabled by default. The storage directory is created lazily by Unlock.
func NewGuard(storageRoot string) *Guard {
	return &Guard{storageRoot: storageRoot, paddingEnabled: true, jitterEnabled: true}
}

// GhostMode toggles padding-on/jitter-on together as a single operator
// switch; PeerManager consults IsGhostMode to decide whether presence
// updates are exposed to callbacks at all. Enabling ghost mode forces
// padding and jitter on regardless of their prior setting.
func (g *Guard) GhostMode(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ghostMode = enabled
	if enabled {
		g.paddingEnabled = true
		g.jitterEnabled = true
	}
}

// IsGhostMode reports the current ghost-mode setting.
func (g *Guard) IsGhostMode() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ghostMode
}

// IsUnlocked reports whether Unlock has succeeded and Panic has not since
// been called.
func (g *Guard) IsUnlocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unlocked
}

// SetPaddingEnabled controls whether PeerManager.Send pads outbound text.
func (g *Guard) SetPaddingEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paddingEnabled = enabled
}

// IsPaddingEnabled reports whether outbound padding is currently enabled.
func (g *Guard) IsPaddingEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paddingEnabled
}

// SetJitterEnabled controls whether PeerManager.Send sleeps a random
// delay before writing to the socket.
func (g *Guard) SetJitterEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.jitterEnabled = enabled
}

// IsJitterEnabled reports whether send jitter is currently enabled.
func (g *Guard) IsJitterEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.jitterEnabled
}

// --- Padding ---------------------------------------------------------------

// Pad computes padded_len = ceil((len(msg)+1)/256)*256, fills the tail
// with random bytes, writes the pad size into the final byte, and returns
// the result base64-encoded.
func Pad(msg string) (string, error) {
	raw := []byte(msg)
	paddedLen := ((len(raw) + 1 + 255) / 256) * 256
	padSize := paddedLen - len(raw)

	buf := make([]byte, paddedLen)
	copy(buf, raw)
	if _, err := crand.Read(buf[len(raw) : paddedLen-1]); err != nil {
		return "", fmt.Errorf("privacy: pad: %w", err)
	}
	buf[paddedLen-1] = byte(padSize)

	return base64.StdEncoding.EncodeToString(buf), nil
}

// Unpad reverses Pad. Any decode failure or an implausible pad_size
// returns the input unchanged, per the best-effort-transparency rule:
// a caller that receives a non-padded string (e.g. padding disabled on
// the sender) must not have its message corrupted.
func Unpad(encoded string) string {
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return encoded
	}
	if len(buf) == 0 {
		return encoded
	}

	// padSize is stored as an unsigned octet of (padded_len - len(msg)),
	// which ranges [1, 256]; 256 wraps to the stored byte 0, since padSize
	// is never itself 0.
	padSize := int(buf[len(buf)-1])
	if padSize == 0 {
		padSize = 256
	}
	if padSize > len(buf) {
		return encoded
	}

	return string(buf[:len(buf)-padSize])
}

// --- Jitter ------------------------------------------------------------

// RandomDelay samples uniformly from [100, 3000) ms using crypto/rand,
// not math/rand, so the schedule itself carries no observable bias an
// adversary could fingerprint. When enabled is false (scrambling off) it
// returns exactly 0 with no RNG draw.
func RandomDelay(enabled bool) (int64, error) {
	if !enabled {
		return 0, nil
	}
	const lo, span = int64(100), int64(2900)
	n, err := crand.Int(crand.Reader, big.NewInt(span))
	if err != nil {
		return 0, fmt.Errorf("privacy: random delay: %w", err)
	}
	return lo + n.Int64(), nil
}

// --- Encrypted at-rest store --------------------------------------------

// Unlock derives the 256-bit storage key from passphrase via PBKDF2. The
// salt is read from the storage root's .salt file, creating it on first
// use. passphrase is zeroized before Unlock returns.
func (g *Guard) Unlock(passphrase []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	defer Wipe(passphrase)

	if err := os.MkdirAll(g.storageRoot, 0700); err != nil {
		return fmt.Errorf("privacy: create storage root: %w", err)
	}

	salt, err := g.loadOrCreateSalt()
	if err != nil {
		return err
	}

	derived := pbkdf2.Key(passphrase, salt, pbkdf2Iterations, keySize, sha256.New)
	copy(g.key[:], derived)
	Wipe(derived)

	g.unlocked = true
	logger.Debug("privacy guard unlocked")
	return nil
}

func (g *Guard) loadOrCreateSalt() ([]byte, error) {
	saltPath := filepath.Join(g.storageRoot, saltFileName)

	existing, err := os.ReadFile(saltPath)
	if err == nil && len(existing) == saltSize {
		return existing, nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(crand.Reader, salt); err != nil {
		return nil, fmt.Errorf("privacy: generate salt: %w", err)
	}
	if err := os.WriteFile(saltPath, salt, 0600); err != nil {
		return nil, fmt.Errorf("privacy: persist salt: %w", err)
	}
	return salt, nil
}

// Save encrypts data with AES-256-GCM under a fresh random IV and writes
// iv||ciphertext||tag to <storageRoot>/<name>.dat.
func (g *Guard) Save(name string, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.unlocked {
		return ErrNotUnlocked
	}

	gcm, err := g.aead()
	if err != nil {
		return err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(crand.Reader, iv); err != nil {
		return fmt.Errorf("privacy: generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, data, nil)
	blob := append(iv, sealed...)

	path := g.blobPath(name)
	if err := os.WriteFile(path, blob, 0600); err != nil {
		return fmt.Errorf("privacy: write blob: %w", err)
	}
	return nil
}

// Load decrypts <storageRoot>/<name>.dat. A missing file returns
// (nil, nil) — the caller distinguishes "absent" from "error" by
// checking both return values; an authentication failure returns
// ErrAuthFail.
func (g *Guard) Load(name string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.unlocked {
		return nil, ErrNotUnlocked
	}

	path := g.blobPath(name)
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("privacy: read blob: %w", err)
	}

	if len(blob) < ivSize {
		return nil, ErrAuthFail
	}

	gcm, err := g.aead()
	if err != nil {
		return nil, err
	}

	iv, ciphertext := blob[:ivSize], blob[ivSize:]
	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFail
	}
	return plaintext, nil
}

func (g *Guard) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(g.key[:])
	if err != nil {
		return nil, fmt.Errorf("privacy: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (g *Guard) blobPath(name string) string {
	safe := filepath.Base(name)
	return filepath.Join(g.storageRoot, safe+".dat")
}

// --- Secure wipe and panic -----------------------------------------------

// Wipe overwrites buf with random bytes, then with zero.
func Wipe(buf []byte) {
	if len(buf) == 0 {
		return
	}
	_, _ = crand.Read(buf)
	for i := range buf {
		buf[i] = 0
	}
}

// WipeString best-effort-clears a string's backing bytes. Go strings are
// immutable by language contract; this cannot guarantee the original
// allocation is overwritten if the runtime has since copied or interned
// it. Use WipeString only as defense in depth, not as a correctness
// guarantee, and prefer []byte for anything that truly must be erasable.
func WipeString(s *string) {
	if s == nil || *s == "" {
		return
	}
	*s = strings.Repeat("\x00", len(*s))
}

// Panic zeroizes the storage key and destroys the storage root: every
// regular file is overwritten three times (all-zero, all-one, random)
// before being unlinked, then directories are removed bottom-up. A
// failure on any one file falls back to a plain unlink and does not
// abort the walk — panic-destroy must make a best effort even under
// partial filesystem failure. After Panic returns, the guard is locked
// again.
func (g *Guard) Panic() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.key {
		g.key[i] = 0
	}
	g.unlocked = false

	var firstErr error
	walkErr := destroyTree(g.storageRoot)
	if walkErr != nil && firstErr == nil {
		firstErr = walkErr
	}

	logger.Warn("privacy guard panic-destroy complete")
	metrics.PanicEvents.Inc()
	return firstErr
}

func destroyTree(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Stable order makes the walk deterministic for tests.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var lastErr error
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if entry.IsDir() {
			if err := destroyTree(path); err != nil {
				lastErr = err
			}
			if err := os.Remove(path); err != nil {
				lastErr = err
			}
			continue
		}
		if err := shredFile(path); err != nil {
			lastErr = err
			_ = os.Remove(path)
		}
	}
	return lastErr
}

func shredFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	size := info.Size()

	f, err := os.OpenFile(path, os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	passes := [][]byte{
		bytesOf(0x00, size),
		bytesOf(0xFF, size),
		nil, // random, filled below
	}

	for i, pass := range passes {
		if i == 2 {
			pass = make([]byte, size)
			if _, err := crand.Read(pass); err != nil {
				return err
			}
		}
		if _, err := f.WriteAt(pass, 0); err != nil {
			return err
		}
		if err := f.Sync(); err != nil {
			return err
		}
	}

	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

func bytesOf(b byte, n int64) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

// --- Fingerprint ---------------------------------------------------------

// HexFingerprint formats sha256(pubkey)[0:10] as five dash-separated
// four-hex-character groups, upper-case.
func HexFingerprint(pubkey []byte) string {
	sum := sha256.Sum256(pubkey)
	hexStr := strings.ToUpper(fmt.Sprintf("%x", sum[:10]))

	var groups []string
	for i := 0; i < len(hexStr); i += 4 {
		groups = append(groups, hexStr[i:i+4])
	}
	return strings.Join(groups, "-")
}

// WordFingerprint indexes the fixed 32-word alphabet with
// sha256(pubkey)[i] mod 32 for i in [0,6), joined by single spaces.
func WordFingerprint(pubkey []byte) string {
	sum := sha256.Sum256(pubkey)

	words := make([]string, 6)
	for i := 0; i < 6; i++ {
		words[i] = wordAlphabet[int(sum[i])%len(wordAlphabet)]
	}
	return strings.Join(words, " ")
}

// --- Cover traffic and decoys ---------------------------------------------

// CoverTraffic returns 256 cryptographically random bytes, for callers
// that want to emit indistinguishable filler frames.
func CoverTraffic() ([]byte, error) {
	buf := make([]byte, 256)
	if _, err := io.ReadFull(crand.Reader, buf); err != nil {
		return nil, fmt.Errorf("privacy: cover traffic: %w", err)
	}
	return buf, nil
}

// CreateDecoy writes a plausible-looking, fixed-content innocuous file at
// path. Informational only: it does not participate in the encrypted
// store.
func (g *Guard) CreateDecoy(path string) error {
	content := []byte("# notes\n\n(no content yet)\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("privacy: create decoy: %w", err)
	}
	return nil
}
