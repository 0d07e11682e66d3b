// Package peer maintains the table of known peers and drives per-peer
// connect/disconnect/send operations and receiver loops.
package peer

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cwtch-go/core/channel"
	"github.com/cwtch-go/core/framing"
	"github.com/cwtch-go/core/handshake"
	"github.com/cwtch-go/core/identity"
	"github.com/cwtch-go/core/internal/logger"
	"github.com/cwtch-go/core/internal/metrics"
	"github.com/cwtch-go/core/privacy"
)

// State names a Peer's connection lifecycle stage.
type State int

const (
	Disconnected State = iota
	Handshaking
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Handshaking:
		return "Handshaking"
	case Connected:
		return "Connected"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Peer is one entry in PeerManager's table: a normalized address, optional
// display name, its channel while connected, and connection state. Reads
// snapshot state under a brief RLock rather than exposing the lock itself.
type Peer struct {
	mu sync.RWMutex

	Address       string
	Name          string
	BurnAfterRead bool

	state    State
	channel  *channel.PeerChannel
	lastSeen time.Time
}

// State returns the peer's current connection state.
func (p *Peer) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// LastSeen returns the last time a frame was received from this peer.
func (p *Peer) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

func (p *Peer) attach(ch *channel.PeerChannel) {
	p.mu.Lock()
	p.channel = ch
	p.state = Connected
	p.mu.Unlock()
}

func (p *Peer) activeChannel() (*channel.PeerChannel, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state != Connected || p.channel == nil {
		return nil, false
	}
	return p.channel, true
}

// Event is the sum type delivered on PeerManager.Events(): either a
// decoded message or a connection-status transition. Message-passing
// sinks replace UI-thread-marshaled callbacks; the host application drains
// the channel on its own goroutine.
type Event interface {
	isEvent()
}

// MessageEvent carries one decoded, unpadded message from Peer.
type MessageEvent struct {
	Peer *Peer
	Text string
}

func (MessageEvent) isEvent() {}

// StatusEvent reports a peer's connection transition.
type StatusEvent struct {
	Peer      *Peer
	Connected bool
}

func (StatusEvent) isEvent() {}

// OverlayEvent reports an overlay-network state transition (listener up,
// address published, connection lost). It shares PeerManager's Events()
// channel with MessageEvent and StatusEvent so a collaborator in another
// package (overlay.OverlayService) can publish onto the same sink the
// host already drains, rather than opening a second dispatch context.
type OverlayEvent struct {
	Onion     string
	Status    string
	Connected bool
	Progress  float64
}

func (OverlayEvent) isEvent() {}

// eventQueueSize bounds the Events channel; a full queue drops the oldest
// event rather than blocking a receiver loop indefinitely.
const eventQueueSize = 256

// Dialer abstracts the overlay transport so peer does not depend on
// overlay's control-port/SOCKS5 machinery directly; overlay.OverlayService
// satisfies this interface.
type Dialer interface {
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// PeerManager owns the normalized-address -> Peer table and supervises
// one receiver goroutine per connected peer under a shared errgroup, so
// Shutdown cancels and waits for all of them.
type PeerManager struct {
	mu    sync.RWMutex
	peers map[string]*Peer

	id     *identity.Identity
	guard  *privacy.Guard
	dialer Dialer
	hsCfg  handshake.Config

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewPeerManager constructs a PeerManager. id signs/verifies transcripts
// per hsCfg; guard pads outbound messages and jitters sends.
func NewPeerManager(id *identity.Identity, guard *privacy.Guard, dialer Dialer, hsCfg handshake.Config) *PeerManager {
	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)

	return &PeerManager{
		peers:  make(map[string]*Peer),
		id:     id,
		guard:  guard,
		dialer: dialer,
		hsCfg:  hsCfg,
		events: make(chan Event, eventQueueSize),
		ctx:    groupCtx,
		cancel: cancel,
		group:  group,
	}
}

// Events returns the channel the host application drains for messages and
// status transitions.
func (m *PeerManager) Events() <-chan Event {
	return m.events
}

// Emit publishes ev on the Events() channel. It exists so collaborators
// that live outside this package, such as overlay.OverlayService, can
// share this sink instead of maintaining their own.
func (m *PeerManager) Emit(ev Event) {
	m.emit(ev)
}

func (m *PeerManager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		select {
		case <-m.events:
			logger.Warn("event queue full, dropped oldest event")
		default:
		}
		select {
		case m.events <- ev:
		default:
		}
	}
}

// emitStatus delivers a StatusEvent unless ghost mode is enabled, in which
// case presence transitions are suppressed from callbacks entirely —
// connection state is still tracked on the Peer, only the notification is
// withheld.
func (m *PeerManager) emitStatus(ev StatusEvent) {
	if m.guard != nil && m.guard.IsGhostMode() {
		return
	}
	m.emit(ev)
}

// normalizeAddress canonicalizes a peer address for table lookups and
// equality comparisons: lowercased, whitespace-trimmed, and suffixed with
// ".onion" when given a bare service name with no dot. Address strings are
// compared only after normalization throughout PeerManager.
func normalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !strings.Contains(addr, ".") {
		addr += ".onion"
	}
	return addr
}

// Add registers addr (and an optional display name) in the table without
// connecting, returning the Peer. addr is normalized first; if the
// normalized address is already known, the existing Peer is returned.
func (m *PeerManager) Add(addr, name string) *Peer {
	addr = normalizeAddress(addr)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.peers[addr]; ok {
		return existing
	}

	p := &Peer{Address: addr, Name: name, state: Disconnected}
	m.peers[addr] = p
	return p
}

// Get returns the Peer registered for addr, if any. addr is normalized
// before lookup.
func (m *PeerManager) Get(addr string) (*Peer, bool) {
	addr = normalizeAddress(addr)

	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[addr]
	return p, ok
}

// Connect dials addr through the overlay, runs the initiator handshake,
// and starts a receiver goroutine for the resulting channel. addr is
// normalized before both the table lookup and the dial.
func (m *PeerManager) Connect(ctx context.Context, addr string) error {
	addr = normalizeAddress(addr)
	ctx = logger.WithConnID(ctx, uuid.NewString())
	p := m.Add(addr, "")
	p.setState(Handshaking)

	conn, err := m.dialer.Dial(ctx, addr)
	if err != nil {
		p.setState(Failed)
		return fmt.Errorf("peer: dial %s: %w", addr, err)
	}

	ch, err := handshake.RunInitiator(ctx, conn, m.id, m.hsCfg)
	if err != nil {
		p.setState(Failed)
		_ = conn.Close()
		metrics.ChannelsOpened.WithLabelValues("failure").Inc()
		return fmt.Errorf("peer: handshake with %s: %w", addr, err)
	}

	p.attach(ch)
	metrics.ChannelsOpened.WithLabelValues("success").Inc()
	metrics.PeersActive.Inc()
	m.emitStatus(StatusEvent{Peer: p, Connected: true})
	m.startReceiver(p)
	return nil
}

// OnIncoming runs the responder handshake over an accepted connection and
// attaches the resulting channel to the matching peer, creating one keyed
// by conn's remote address if none is registered yet.
func (m *PeerManager) OnIncoming(ctx context.Context, conn net.Conn) error {
	addr := conn.RemoteAddr().String()
	p := m.Add(addr, "")
	p.setState(Handshaking)

	ch, err := handshake.RunResponder(ctx, conn, m.id, m.hsCfg)
	if err != nil {
		p.setState(Failed)
		_ = conn.Close()
		metrics.ChannelsOpened.WithLabelValues("failure").Inc()
		return fmt.Errorf("peer: responder handshake from %s: %w", addr, err)
	}

	p.attach(ch)
	metrics.ChannelsOpened.WithLabelValues("success").Inc()
	metrics.PeersActive.Inc()
	m.emitStatus(StatusEvent{Peer: p, Connected: true})
	m.startReceiver(p)
	return nil
}

func (m *PeerManager) startReceiver(p *Peer) {
	m.group.Go(func() error {
		m.receiverLoop(p)
		return nil
	})
}

// receiverLoop reads frames until EndOfStream or error, delivering each
// MSG frame to Events() after unpadding. Any error transitions the peer to
// Disconnected and fires a status event.
func (m *PeerManager) receiverLoop(p *Peer) {
	ch, ok := p.activeChannel()
	if !ok {
		return
	}

	for {
		frame, err := ch.Receive()
		if err != nil {
			p.setState(Disconnected)
			m.emitStatus(StatusEvent{Peer: p, Connected: false})
			return
		}

		if frame.Type != framing.TypeMessage {
			continue
		}

		p.touch()
		metrics.MessageSize.WithLabelValues("inbound").Observe(float64(len(frame.Payload)))
		text := privacy.Unpad(string(frame.Payload))
		m.emit(MessageEvent{Peer: p, Text: text})

		if p.BurnAfterRead {
			privacy.Wipe(frame.Payload)
		}

		select {
		case <-m.ctx.Done():
			return
		default:
		}
	}
}

// Send pads and jitters text before writing it to peer's channel, honoring
// the guard's padding/jitter toggles (PrivacyConfig.PaddingEnabled/
// JitterEnabled, forced on together by ghost mode). It returns false if
// peer is not Connected; the jitter sleep happens on the caller's
// goroutine before the socket write, not after.
func (m *PeerManager) Send(peer *Peer, text string) bool {
	ch, ok := peer.activeChannel()
	if !ok {
		return false
	}

	out := text
	if m.guard == nil || m.guard.IsPaddingEnabled() {
		padded, err := privacy.Pad(text)
		if err != nil {
			logger.ErrorMsg("pad failed", logger.Error(err))
			return false
		}
		out = padded
	}

	jitterEnabled := m.guard == nil || m.guard.IsJitterEnabled()
	delayMs, err := privacy.RandomDelay(jitterEnabled)
	if err == nil {
		time.Sleep(time.Duration(delayMs) * time.Millisecond)
	}

	if err := ch.Send(framing.TypeMessage, []byte(out)); err != nil {
		peer.setState(Disconnected)
		m.emitStatus(StatusEvent{Peer: peer, Connected: false})
		return false
	}

	metrics.MessageSize.WithLabelValues("outbound").Observe(float64(len(out)))
	return true
}

// Disconnect closes peer's channel and marks it Disconnected.
func (m *PeerManager) Disconnect(peer *Peer) {
	peer.mu.Lock()
	ch := peer.channel
	peer.channel = nil
	peer.state = Disconnected
	peer.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
		metrics.ChannelsClosed.Inc()
		metrics.PeersActive.Dec()
	}
	m.emitStatus(StatusEvent{Peer: peer, Connected: false})
}

// Remove disconnects and drops peer from the table entirely.
func (m *PeerManager) Remove(peer *Peer) {
	m.Disconnect(peer)

	m.mu.Lock()
	delete(m.peers, peer.Address)
	m.mu.Unlock()
}

// Rekey discards the current session by disconnecting and reconnecting,
// performing a fresh handshake. There is no in-band rekey wire message;
// this is literally close-then-reconnect.
func (m *PeerManager) Rekey(ctx context.Context, peer *Peer) error {
	m.Disconnect(peer)
	return m.Connect(ctx, peer.Address)
}

// Shutdown disconnects every peer and waits for all receiver goroutines to
// exit.
func (m *PeerManager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.RUnlock()

	for _, p := range peers {
		m.Disconnect(p)
	}

	m.cancel()

	done := make(chan error, 1)
	go func() { done <- m.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
