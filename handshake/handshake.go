// Package handshake runs the single-round-trip ephemeral ECDH exchange
// that establishes a PeerChannel between two identities.
package handshake

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cwtch-go/core/channel"
	"github.com/cwtch-go/core/identity"
	"github.com/cwtch-go/core/internal/logger"
	"github.com/cwtch-go/core/internal/metrics"
	"github.com/cwtch-go/core/sessioncrypto"
)

// State names one stage in the handshake state machine. Failed is terminal
// and reachable from every other state.
type State int

const (
	Start State = iota
	SentHello
	AwaitingHello
	DerivedKey
	Handshaken
	Failed
)

func (s State) String() string {
	switch s {
	case Start:
		return "Start"
	case SentHello:
		return "SentHello"
	case AwaitingHello:
		return "AwaitingHello"
	case DerivedKey:
		return "DerivedKey"
	case Handshaken:
		return "Handshaken"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// helloPrefix opens every wire line of the handshake.
const helloPrefix = "CWTCH_HELLO"

// handshakeTimeout bounds the full initiator/responder exchange end to
// end. It is separate from, and shorter than, the overlay's 60s dial
// deadline.
const handshakeTimeout = 30 * time.Second

const (
	hkdfInfo = "cwtch-session"
	hkdfSalt = "handshake-salt"
)

var (
	// ErrProtocol marks a malformed hello line: wrong prefix, wrong field
	// count, or undecodable base64.
	ErrProtocol = errors.New("handshake: protocol violation")

	// ErrAuthFail marks a failed transcript signature check when
	// SignTranscript is enabled.
	ErrAuthFail = errors.New("handshake: transcript signature verification failed")
)

// Config controls optional handshake behavior. SignTranscript is the
// explicit, default-off toggle for binding the ephemeral key to the
// identity key by signature; the wire protocol never silently enables
// this, since doing so would change the bytes on the wire for every peer
// without an explicit operator opt-in.
type Config struct {
	SignTranscript bool
}

// FailedHandshakeError wraps the cause of a Failed transition with the
// state the machine was in when it failed, for diagnostics.
type FailedHandshakeError struct {
	State State
	Cause error
}

func (e *FailedHandshakeError) Error() string {
	return fmt.Sprintf("handshake: failed in state %s: %v", e.State, e.Cause)
}

func (e *FailedHandshakeError) Unwrap() error {
	return e.Cause
}

func buildHello(eph *sessioncrypto.EphemeralKeyPair, id *identity.Identity, cfg Config) string {
	ephB64 := base64.StdEncoding.EncodeToString(func() []byte {
		b := eph.PublicBytes()
		return b[:]
	}())
	idB64 := id.PublicBase64()

	if !cfg.SignTranscript {
		return fmt.Sprintf("%s:%s:%s", helloPrefix, ephB64, idB64)
	}

	sig := id.Sign([]byte(ephB64 + ":" + idB64))
	return fmt.Sprintf("%s:%s:%s:%s", helloPrefix, ephB64, idB64, base64.StdEncoding.EncodeToString(sig))
}

type peerHello struct {
	ephemeralPub [32]byte
	identityPub  [32]byte
	signature    []byte
}

func parseHello(line string, cfg Config) (peerHello, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, ":")

	minParts := 3
	if cfg.SignTranscript {
		minParts = 4
	}
	if len(parts) < minParts || parts[0] != helloPrefix {
		return peerHello{}, fmt.Errorf("%w: malformed hello line", ErrProtocol)
	}

	ephBytes, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(ephBytes) != 32 {
		return peerHello{}, fmt.Errorf("%w: bad ephemeral public key: %v", ErrProtocol, err)
	}

	idBytes, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(idBytes) != 32 {
		return peerHello{}, fmt.Errorf("%w: bad identity public key: %v", ErrProtocol, err)
	}

	hello := peerHello{}
	copy(hello.ephemeralPub[:], ephBytes)
	copy(hello.identityPub[:], idBytes)

	if cfg.SignTranscript {
		sig, err := base64.StdEncoding.DecodeString(parts[3])
		if err != nil {
			return peerHello{}, fmt.Errorf("%w: bad transcript signature encoding: %v", ErrProtocol, err)
		}
		hello.signature = sig

		if !identity.Verify(hello.identityPub, []byte(parts[1]+":"+parts[2]), sig) {
			return peerHello{}, ErrAuthFail
		}
	}

	return hello, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}

// RunInitiator performs the initiator side of the handshake over conn and
// returns an established PeerChannel, or an error if the exchange failed
// at any stage. The full exchange is bounded by a 30-second deadline.
func RunInitiator(ctx context.Context, conn net.Conn, id *identity.Identity, cfg Config) (ch *channel.PeerChannel, err error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	metrics.HandshakesInitiated.WithLabelValues("initiator").Inc()
	start := time.Now()
	defer func() { recordHandshakeOutcome(start, err) }()

	state := Start

	eph, err := sessioncrypto.GenerateEphemeral()
	if err != nil {
		return nil, &FailedHandshakeError{State: state, Cause: err}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	helloLine := buildHello(eph, id, cfg) + "\n"
	if _, err := io.WriteString(conn, helloLine); err != nil {
		return nil, &FailedHandshakeError{State: state, Cause: err}
	}
	state = SentHello

	reader := bufio.NewReader(conn)
	line, err := readLine(reader)
	if err != nil {
		return nil, &FailedHandshakeError{State: state, Cause: err}
	}

	peer, err := parseHello(line, cfg)
	if err != nil {
		return nil, &FailedHandshakeError{State: state, Cause: err}
	}

	shared, err := eph.Agree(peer.ephemeralPub)
	if err != nil {
		return nil, &FailedHandshakeError{State: state, Cause: err}
	}

	myPub := eph.PublicBytes()
	transcript := append(append([]byte(hkdfInfo+hkdfSalt), myPub[:]...), peer.ephemeralPub[:]...)
	key, err := sessioncrypto.DeriveSessionKey(shared, transcript)
	if err != nil {
		return nil, &FailedHandshakeError{State: state, Cause: err}
	}
	state = DerivedKey

	logger.FromContext(ctx).Debug("initiator handshake complete", logger.String("peer_identity", base64.StdEncoding.EncodeToString(peer.identityPub[:])))
	state = Handshaken

	return channel.NewPeerChannel(conn, key, channel.Initiator), nil
}

// RunResponder performs the responder side of the handshake over conn and
// returns an established PeerChannel, or an error if the exchange failed
// at any stage.
func RunResponder(ctx context.Context, conn net.Conn, id *identity.Identity, cfg Config) (ch *channel.PeerChannel, err error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	metrics.HandshakesInitiated.WithLabelValues("responder").Inc()
	start := time.Now()
	defer func() { recordHandshakeOutcome(start, err) }()

	state := AwaitingHello

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	reader := bufio.NewReader(conn)
	line, err := readLine(reader)
	if err != nil {
		return nil, &FailedHandshakeError{State: state, Cause: err}
	}

	peer, err := parseHello(line, cfg)
	if err != nil {
		return nil, &FailedHandshakeError{State: state, Cause: err}
	}

	eph, err := sessioncrypto.GenerateEphemeral()
	if err != nil {
		return nil, &FailedHandshakeError{State: state, Cause: err}
	}

	helloLine := buildHello(eph, id, cfg) + "\n"
	if _, err := io.WriteString(conn, helloLine); err != nil {
		return nil, &FailedHandshakeError{State: state, Cause: err}
	}

	shared, err := eph.Agree(peer.ephemeralPub)
	if err != nil {
		return nil, &FailedHandshakeError{State: state, Cause: err}
	}

	myPub := eph.PublicBytes()
	transcript := append(append([]byte(hkdfInfo+hkdfSalt), peer.ephemeralPub[:]...), myPub[:]...)
	key, err := sessioncrypto.DeriveSessionKey(shared, transcript)
	if err != nil {
		return nil, &FailedHandshakeError{State: state, Cause: err}
	}
	state = DerivedKey

	logger.FromContext(ctx).Debug("responder handshake complete", logger.String("peer_identity", base64.StdEncoding.EncodeToString(peer.identityPub[:])))
	state = Handshaken

	return channel.NewPeerChannel(conn, key, channel.Responder), nil
}

// recordHandshakeOutcome classifies err into the failure-reason label the
// completed/failed counters expect and observes total duration.
func recordHandshakeOutcome(start time.Time, err error) {
	duration := time.Since(start)
	metrics.HandshakeDuration.WithLabelValues("derived_key").Observe(duration.Seconds())
	metrics.GlobalCollector().RecordHandshake(err == nil, duration)

	if err == nil {
		metrics.HandshakesCompleted.WithLabelValues("handshaken").Inc()
		return
	}

	metrics.HandshakesCompleted.WithLabelValues("failed").Inc()

	reason := "protocol"
	switch {
	case errors.Is(err, ErrAuthFail):
		reason = "auth_fail"
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	}
	metrics.HandshakesFailed.WithLabelValues(reason).Inc()
}
