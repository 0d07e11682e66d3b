package privacy

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPadUnpad_RoundTrip(t *testing.T) {
	messages := []string{
		"",
		"a",
		"hello, world",
		strings.Repeat("x", 200),
		strings.Repeat("y", 255),
		strings.Repeat("z", 256),
		strings.Repeat("w", 257),
		strings.Repeat("v", 511),
		strings.Repeat("u", 512),
		"unicode: éè中文",
	}

	for _, m := range messages {
		padded, err := Pad(m)
		require.NoError(t, err)

		got := Unpad(padded)
		assert.Equal(t, m, got, "round trip failed for message of length %d", len(m))
	}
}

func TestPad_OutputIsMultipleOf256BeforeBase64(t *testing.T) {
	for _, m := range []string{"", "a", strings.Repeat("x", 255), strings.Repeat("x", 256)} {
		padded, err := Pad(m)
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(padded)
		require.NoError(t, err)

		assert.Greater(t, len(raw), 0)
		assert.Equal(t, 0, len(raw)%256)
	}
}

func TestPaddingHidesLength(t *testing.T) {
	short, err := Pad("a")
	require.NoError(t, err)
	long, err := Pad(strings.Repeat("a", 200))
	require.NoError(t, err)

	shortRaw, err := base64.StdEncoding.DecodeString(short)
	require.NoError(t, err)
	longRaw, err := base64.StdEncoding.DecodeString(long)
	require.NoError(t, err)

	assert.Equal(t, len(shortRaw), len(longRaw), "messages in the same 256-byte block must produce equal-length ciphertext")
}

func TestUnpad_InvalidBase64ReturnsUnchanged(t *testing.T) {
	input := "not valid base64!!"
	assert.Equal(t, input, Unpad(input))
}

func TestUnpad_ImplausiblePadSizeReturnsUnchanged(t *testing.T) {
	// A single byte whose value, interpreted as pad_size, exceeds the
	// buffer length.
	raw := []byte{0x05}
	encoded := base64.StdEncoding.EncodeToString(raw)
	assert.Equal(t, encoded, Unpad(encoded))
}

func TestRandomDelay_WithinBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		d, err := RandomDelay(true)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d, int64(100))
		assert.Less(t, d, int64(3000))
	}
}

func TestRandomDelay_DisabledReturnsZero(t *testing.T) {
	for i := 0; i < 10; i++ {
		d, err := RandomDelay(false)
		require.NoError(t, err)
		assert.Equal(t, int64(0), d)
	}
}

func TestStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard(dir)

	passphrase := []byte("correct horse battery staple")
	require.NoError(t, g.Unlock(passphrase))

	require.NoError(t, g.Save("note", []byte("secret contents")))

	got, err := g.Load("note")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret contents"), got)
}

func TestLoad_MissingFileReturnsNilNil(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard(dir)
	require.NoError(t, g.Unlock([]byte("pw")))

	got, err := g.Load("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoad_WrongPassphraseFailsAuth(t *testing.T) {
	dir := t.TempDir()

	g1 := NewGuard(dir)
	require.NoError(t, g1.Unlock([]byte("first passphrase")))
	require.NoError(t, g1.Save("secret", []byte("payload")))

	g2 := NewGuard(dir)
	require.NoError(t, g2.Unlock([]byte("wrong passphrase")))

	_, err := g2.Load("secret")
	assert.ErrorIs(t, err, ErrAuthFail)
}

func TestSaveLoad_BeforeUnlockReturnsNotUnlocked(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard(dir)

	err := g.Save("x", []byte("y"))
	assert.ErrorIs(t, err, ErrNotUnlocked)

	_, err = g.Load("x")
	assert.ErrorIs(t, err, ErrNotUnlocked)
}

func TestPanicWipe(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard(dir)

	require.NoError(t, g.Unlock([]byte("passphrase")))
	require.NoError(t, g.Save("alpha", []byte("one")))
	require.NoError(t, g.Save("beta", []byte("two")))

	require.NoError(t, g.Panic())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "storage root must be empty after panic-destroy")

	// Guard is locked again.
	_, err = g.Load("alpha")
	assert.ErrorIs(t, err, ErrNotUnlocked)
}

func TestWipe_ZeroesBuffer(t *testing.T) {
	buf := []byte("sensitive material")
	Wipe(buf)

	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}

func TestWipeString_Clears(t *testing.T) {
	s := "sensitive"
	WipeString(&s)
	assert.NotEqual(t, "sensitive", s)
}

var hexFingerprintPattern = regexp.MustCompile(`^[0-9A-F]{4}(-[0-9A-F]{4}){4}$`)

func TestFingerprintFormat(t *testing.T) {
	pubkey := []byte("a-32-byte-ed25519-public-key!!!!")

	hex := HexFingerprint(pubkey)
	assert.Regexp(t, hexFingerprintPattern, hex)

	words := WordFingerprint(pubkey)
	parts := strings.Split(words, " ")
	assert.Len(t, parts, 6)
	for _, w := range parts {
		assert.Equal(t, strings.ToLower(w), w)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	pubkey := []byte("another-32-byte-ed25519-public!")

	assert.Equal(t, HexFingerprint(pubkey), HexFingerprint(pubkey))
	assert.Equal(t, WordFingerprint(pubkey), WordFingerprint(pubkey))
}

func TestCoverTraffic_Length(t *testing.T) {
	buf, err := CoverTraffic()
	require.NoError(t, err)
	assert.Len(t, buf, 256)
}

func TestCreateDecoy(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard(dir)

	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, g.CreateDecoy(path))

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestGhostMode_Toggle(t *testing.T) {
	g := NewGuard(t.TempDir())
	assert.False(t, g.IsGhostMode())

	g.GhostMode(true)
	assert.True(t, g.IsGhostMode())
}
