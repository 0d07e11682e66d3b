// Package channel implements the encrypted, framed transport between two
// established peers: PeerChannel seals outbound frames and authenticates
// inbound ones over an arbitrary io.ReadWriteCloser (typically a net.Conn).
package channel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwtch-go/core/framing"
	"github.com/cwtch-go/core/internal/logger"
	"github.com/cwtch-go/core/internal/metrics"
	"github.com/cwtch-go/core/sessioncrypto"
)

// MaxFrameSize bounds the outer length prefix. A peer announcing a larger
// frame is treated as a protocol violation and the channel is closed.
const MaxFrameSize = 1 << 20 // 1 MiB

var (
	// ErrClosed is returned by Send/Receive once Close has been called.
	ErrClosed = errors.New("channel: closed")

	// ErrProtocol marks a framing violation: an oversize length prefix or
	// a declared length that does not match the bytes actually available.
	ErrProtocol = errors.New("channel: protocol violation")
)

// Direction re-exports sessioncrypto.Direction so callers only need to
// import one package to construct a PeerChannel.
type Direction = sessioncrypto.Direction

const (
	Initiator = sessioncrypto.Initiator
	Responder = sessioncrypto.Responder
)

// PeerChannel is one established, encrypted connection to a peer. It owns
// the transport and the session key, and zeroizes the key on Close.
type PeerChannel struct {
	conn io.ReadWriteCloser
	key  sessioncrypto.SessionKey

	sendSeq *sessioncrypto.NonceSequence
	recvSeq *sessioncrypto.NonceSequence

	writeMu sync.Mutex
	readMu  sync.Mutex

	closed atomic.Bool
}

// peerDirection returns the tag the remote end uses for frames it sends to
// us: the opposite of our own direction, since the two ends of a connection
// never share a nonce space.
func peerDirection(dir Direction) Direction {
	if dir == Initiator {
		return Responder
	}
	return Initiator
}

// NewPeerChannel wraps conn with key, ready to send and receive frames.
// dir selects which direction tag this end uses for outbound nonces; the
// other end of the same connection must be constructed with the opposite
// Direction.
func NewPeerChannel(conn io.ReadWriteCloser, key sessioncrypto.SessionKey, dir Direction) *PeerChannel {
	return &PeerChannel{
		conn:    conn,
		key:     key,
		sendSeq: sessioncrypto.NewNonceSequence(dir),
		recvSeq: sessioncrypto.NewNonceSequence(peerDirection(dir)),
	}
}

// Send seals type/payload as one frame and writes it to the transport.
// Exactly one frame is written per successful call; no partial writes are
// exposed to the caller.
func (c *PeerChannel) Send(frameType string, payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}

	var inner bytes.Buffer
	if err := framing.Encode(&inner, framing.Frame{Type: frameType, Payload: payload}); err != nil {
		return fmt.Errorf("channel: encode inner frame: %w", err)
	}

	nonce, err := c.sendSeq.Next()
	if err != nil {
		logger.ErrorMsg("nonce sequence exhausted on send", logger.Error(err))
		metrics.GlobalCollector().RecordNonceExhaustion()
		c.forceClose()
		return err
	}

	sealStart := time.Now()
	ciphertext, err := sessioncrypto.Seal(c.key, nonce, inner.Bytes(), nil)
	sealDuration := time.Since(sealStart)
	metrics.CryptoOperationDuration.WithLabelValues("seal", "aes-256-gcm").Observe(sealDuration.Seconds())
	metrics.GlobalCollector().RecordSeal(sealDuration)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("seal").Inc()
		return fmt.Errorf("channel: seal: %w", err)
	}
	metrics.CryptoOperations.WithLabelValues("seal", "aes-256-gcm").Inc()

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(ciphertext)))

	if _, err := c.conn.Write(length[:]); err != nil {
		return fmt.Errorf("channel: write length: %w", err)
	}
	if _, err := c.conn.Write(ciphertext); err != nil {
		return fmt.Errorf("channel: write ciphertext: %w", err)
	}

	metrics.FramesProcessed.WithLabelValues(frameType, "success").Inc()
	metrics.FrameSize.Observe(float64(len(ciphertext) + len(length)))

	return nil
}

// Receive reads exactly one frame from the transport, authenticates and
// decrypts it, and decodes the inner plaintext. Any authentication
// failure, protocol violation, or nonce exhaustion closes the channel
// before returning, matching the tamper-detection contract: a channel
// cannot be used after a failed Receive.
func (c *PeerChannel) Receive() (framing.Frame, error) {
	if c.closed.Load() {
		return framing.Frame{}, ErrClosed
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.closed.Load() {
		return framing.Frame{}, ErrClosed
	}

	var lengthBuf [4]byte
	if _, err := io.ReadFull(c.conn, lengthBuf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return framing.Frame{}, io.EOF
		}
		return framing.Frame{}, fmt.Errorf("channel: read length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > MaxFrameSize {
		logger.Warn("oversize frame announced, closing channel", logger.Int("length", int(length)))
		c.forceClose()
		return framing.Frame{}, ErrProtocol
	}

	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(c.conn, ciphertext); err != nil {
		c.forceClose()
		return framing.Frame{}, fmt.Errorf("channel: read ciphertext: %w", err)
	}

	nonce, err := c.recvSeq.Next()
	if err != nil {
		logger.ErrorMsg("nonce sequence exhausted on receive", logger.Error(err))
		metrics.GlobalCollector().RecordNonceExhaustion()
		c.forceClose()
		return framing.Frame{}, err
	}

	openStart := time.Now()
	plaintext, err := sessioncrypto.Open(c.key, nonce, ciphertext, nil)
	metrics.CryptoOperationDuration.WithLabelValues("open", "aes-256-gcm").Observe(time.Since(openStart).Seconds())
	if err != nil {
		logger.Warn("frame authentication failed, closing channel")
		metrics.CryptoErrors.WithLabelValues("open").Inc()
		metrics.TamperDetections.Inc()
		metrics.GlobalCollector().RecordOpen(true)
		c.forceClose()
		return framing.Frame{}, err
	}
	metrics.CryptoOperations.WithLabelValues("open", "aes-256-gcm").Inc()
	metrics.GlobalCollector().RecordOpen(false)

	frame, err := framing.Decode(bytes.NewReader(plaintext))
	if err != nil {
		metrics.FramesProcessed.WithLabelValues("unknown", "failure").Inc()
		c.forceClose()
		return framing.Frame{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	metrics.FramesProcessed.WithLabelValues(frame.Type, "success").Inc()
	return frame, nil
}

// Close zeroizes the session key and shuts down the transport. After
// Close returns, every subsequent Send/Receive call returns ErrClosed.
func (c *PeerChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.teardown()
}

// forceClose is used internally when a protocol or crypto failure demands
// the channel close itself; it shares the same teardown path as Close.
func (c *PeerChannel) forceClose() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.teardown()
	}
}

func (c *PeerChannel) teardown() error {
	c.key.Zeroize()
	return c.conn.Close()
}
