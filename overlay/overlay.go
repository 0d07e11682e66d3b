// Package overlay manages the local listener and overlay-network control
// port that give a peer a dialable address, and the SOCKS5-proxied
// outbound dialer used to reach other peers.
package overlay

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"

	"github.com/cwtch-go/core/internal/logger"
	"github.com/cwtch-go/core/peer"
)

// ErrTimeout marks a dial that did not complete within its deadline.
var ErrTimeout = errors.New("overlay: dial timed out")

// defaultListenPort is the peer-to-peer listener and overlay virtual port.
const defaultListenPort = 9878

// defaultSocksAddress is the local Tor-like SOCKS5 proxy address.
const defaultSocksAddress = "127.0.0.1:9050"

// defaultDialTimeout bounds an outbound connect attempt when Config.DialTimeout
// is left unset.
const defaultDialTimeout = 60 * time.Second

// ControlPort abstracts the overlay-network control protocol (e.g. Tor's
// control port) that publishes a local TCP listener as a reachable
// address. The protocol itself is out of scope; collaborators supply a
// concrete implementation.
type ControlPort interface {
	// Publish requests that localPort be reachable at a stable overlay
	// address, returning that address.
	Publish(ctx context.Context, localPort int) (onionAddr string, err error)
	Close() error
}

// OfflineControlPort fabricates a plausible-looking .onion address for
// local/offline testing without a real overlay daemon; the listener still
// binds so loopback testing works.
type OfflineControlPort struct{}

const onionAlphabet = "abcdefghijklmnopqrstuvwxyz234567"

// Publish fabricates a 56-character lowercase base32 .onion address.
func (OfflineControlPort) Publish(ctx context.Context, localPort int) (string, error) {
	buf := make([]byte, 56)
	raw := make([]byte, 56)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("overlay: fabricate offline address: %w", err)
	}
	for i, b := range raw {
		buf[i] = onionAlphabet[int(b)%len(onionAlphabet)]
	}
	return string(buf) + ".onion", nil
}

func (OfflineControlPort) Close() error { return nil }

// StaticControlPort wraps a pre-provisioned address, for integration
// tests that need a stable, known onion address without a real daemon.
type StaticControlPort struct {
	Address string
}

func (s StaticControlPort) Publish(ctx context.Context, localPort int) (string, error) {
	return s.Address, nil
}

func (StaticControlPort) Close() error { return nil }

// EventSink is satisfied by peer.PeerManager; OverlayService publishes its
// own status transitions onto the same channel PeerManager uses, so the
// host drains one sink instead of two dispatch contexts.
type EventSink interface {
	Emit(ev peer.Event)
}

// AcceptHandler processes one accepted inbound connection, typically
// peer.PeerManager.OnIncoming.
type AcceptHandler func(ctx context.Context, conn net.Conn) error

// Config configures an OverlayService.
type Config struct {
	ListenPort   int
	SocksAddress string
	OfflineMode  bool
	DialTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.ListenPort == 0 {
		c.ListenPort = defaultListenPort
	}
	if c.SocksAddress == "" {
		c.SocksAddress = defaultSocksAddress
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	return c
}

// OverlayService owns the local listener and overlay control-port session,
// and exposes observable state (onion address, status, connected,
// connection progress) through EventSink publications.
type OverlayService struct {
	mu sync.RWMutex

	cfg         Config
	controlPort ControlPort
	sink        EventSink
	onAccept    AcceptHandler

	listener net.Listener

	onionAddr string
	statusMsg string
	connected bool
	progress  float64

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewOverlayService constructs an OverlayService. controlPort publishes
// the local listener onto the overlay network (or fabricates an address
// in offline mode); sink receives OverlayEvent state transitions; onAccept
// handles each inbound connection once accepted.
func NewOverlayService(cfg Config, controlPort ControlPort, sink EventSink, onAccept AcceptHandler) *OverlayService {
	return &OverlayService{
		cfg:         cfg.withDefaults(),
		controlPort: controlPort,
		sink:        sink,
		onAccept:    onAccept,
		statusMsg:   "stopped",
	}
}

func (o *OverlayService) setState(onionAddr, statusMsg string, connected bool, progress float64) {
	o.mu.Lock()
	o.onionAddr = onionAddr
	o.statusMsg = statusMsg
	o.connected = connected
	o.progress = progress
	o.mu.Unlock()

	if o.sink != nil {
		o.sink.Emit(peer.OverlayEvent{
			Onion:     onionAddr,
			Status:    statusMsg,
			Connected: connected,
			Progress:  progress,
		})
	}
}

// Start binds the local listener, publishes it via controlPort, and
// begins accepting inbound connections under a supervised errgroup.
func (o *OverlayService) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(o.cfg.ListenPort)))
	if err != nil {
		o.setState("", fmt.Sprintf("listen failed: %v", err), false, 0)
		return fmt.Errorf("overlay: listen on port %d: %w", o.cfg.ListenPort, err)
	}

	o.mu.Lock()
	o.listener = listener
	o.mu.Unlock()

	o.setState("", "publishing", false, 0.3)

	onionAddr, err := o.controlPort.Publish(ctx, o.cfg.ListenPort)
	if err != nil {
		_ = listener.Close()
		o.setState("", fmt.Sprintf("publish failed: %v", err), false, 0)
		return fmt.Errorf("overlay: publish: %w", err)
	}

	groupCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(groupCtx)
	o.ctx = groupCtx
	o.cancel = cancel
	o.group = group

	o.setState(onionAddr, "connected", true, 1.0)

	group.Go(func() error {
		o.acceptLoop(groupCtx, listener)
		return nil
	})

	return nil
}

func (o *OverlayService) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logger.Warn("overlay accept failed", logger.Error(err))
			return
		}

		connCtx := logger.WithConnID(ctx, uuid.NewString())
		o.group.Go(func() error {
			if err := o.onAccept(connCtx, conn); err != nil {
				logger.FromContext(connCtx).Warn("inbound handshake failed", logger.Error(err))
			}
			return nil
		})
	}
}

// Dial connects to peerAddr through the configured SOCKS5 proxy, bounded by
// Config.DialTimeout. In offline mode, peers are expected to be reachable
// directly (no proxy hop), matching loopback testing without an overlay
// daemon.
func (o *OverlayService) Dial(ctx context.Context, peerAddr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.DialTimeout)
	defer cancel()

	target := net.JoinHostPort(peerAddr, strconv.Itoa(defaultListenPort))

	o.mu.RLock()
	offline := o.cfg.OfflineMode
	socksAddr := o.cfg.SocksAddress
	o.mu.RUnlock()

	if offline {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", target)
		if err != nil {
			return nil, classifyDialErr(ctx, err)
		}
		return conn, nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("overlay: build socks5 dialer: %w", err)
	}

	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		conn, err := dialer.Dial("tcp", target)
		if err != nil {
			return nil, classifyDialErr(ctx, err)
		}
		return conn, nil
	}

	conn, err := contextDialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, classifyDialErr(ctx, err)
	}
	return conn, nil
}

func classifyDialErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("overlay: dial: %w", err)
}

// Cancel stops accepting new connections and tears down the overlay
// session without waiting for in-flight handlers.
func (o *OverlayService) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	if o.listener != nil {
		_ = o.listener.Close()
	}
}

// Stop cancels the service and waits for the accept loop and all inbound
// handlers to exit.
func (o *OverlayService) Stop() error {
	o.Cancel()

	o.mu.RLock()
	group := o.group
	controlPort := o.controlPort
	o.mu.RUnlock()

	var err error
	if group != nil {
		err = group.Wait()
	}
	if controlPort != nil {
		if cerr := controlPort.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	o.setState("", "stopped", false, 0)
	return err
}

// OnionAddress returns the currently published overlay address, if any.
func (o *OverlayService) OnionAddress() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.onionAddr
}

// StatusMessage returns a short human-readable status string.
func (o *OverlayService) StatusMessage() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.statusMsg
}

// Connected reports whether the overlay session is currently established.
func (o *OverlayService) Connected() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.connected
}

// Progress returns the connection progress in [0,1].
func (o *OverlayService) Progress() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.progress
}
