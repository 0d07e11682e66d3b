package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwtch-go/core/config"
	"github.com/cwtch-go/core/handshake"
	"github.com/cwtch-go/core/identity"
	"github.com/cwtch-go/core/internal/logger"
	"github.com/cwtch-go/core/internal/metrics"
	"github.com/cwtch-go/core/overlay"
	"github.com/cwtch-go/core/peer"
	"github.com/cwtch-go/core/pkg/health"
	"github.com/cwtch-go/core/privacy"
)

// deferredSink relays Emit calls to a *peer.PeerManager that is constructed
// after the overlay.OverlayService that holds this sink, breaking the
// construction cycle between the two.
type deferredSink struct {
	mgr **peer.PeerManager
}

func (s deferredSink) Emit(ev peer.Event) {
	if *s.mgr != nil {
		(*s.mgr).Emit(ev)
	}
}

var (
	serveIdentityFile   string
	servePassphrase     string
	serveListenPort     int
	serveSocksAddress   string
	serveOffline        bool
	serveConnectAddr    string
	serveMetricsAddr    string
	serveHealthAddr     string
	serveSignTranscript bool
	serveGhostMode      bool
	serveNoPadding      bool
	serveNoJitter       bool
	serveConfigFile     string
	serveDialTimeout    time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Join the overlay and exchange messages with one peer over stdin/stdout",
	Long: `serve loads (or generates) an identity, unlocks the privacy guard,
starts the overlay listener, and optionally dials a peer. Lines typed on
stdin are sent to the connected peer; messages received from the peer are
printed to stdout.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveIdentityFile, "identity", "", "path to a base64-encoded identity private key (generated if missing)")
	serveCmd.Flags().StringVar(&servePassphrase, "passphrase", "", "privacy guard storage passphrase (falls back to CWTCH_PASSPHRASE)")
	serveCmd.Flags().IntVar(&serveListenPort, "listen-port", 0, "local TCP port to bind (default 9878)")
	serveCmd.Flags().StringVar(&serveSocksAddress, "socks-address", "", "SOCKS5 proxy address (default 127.0.0.1:9050)")
	serveCmd.Flags().BoolVar(&serveOffline, "offline", false, "skip the overlay control port and dial peers directly")
	serveCmd.Flags().StringVar(&serveConnectAddr, "connect", "", "overlay address of a peer to dial on startup")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-address", "", "address to serve Prometheus metrics on (disabled if empty)")
	serveCmd.Flags().StringVar(&serveHealthAddr, "health-address", "", "address to serve liveness/readiness endpoints on (disabled if empty)")
	serveCmd.Flags().BoolVar(&serveSignTranscript, "sign-transcript", false, "bind the ephemeral handshake key to the identity key by signature")
	serveCmd.Flags().BoolVar(&serveGhostMode, "ghost", false, "suppress presence/status events for this session")
	serveCmd.Flags().BoolVar(&serveNoPadding, "no-padding", false, "disable outbound message padding")
	serveCmd.Flags().BoolVar(&serveNoJitter, "no-jitter", false, "disable randomized send delay")
	serveCmd.Flags().DurationVar(&serveDialTimeout, "dial-timeout", 0, "outbound connect deadline (default 60s)")
	serveCmd.Flags().StringVar(&serveConfigFile, "config", "", "YAML or JSON config file; unset flags fall back to its values")
}

// applyConfigFile loads serveConfigFile, if set, and fills in any flag the
// caller left at its zero value from the file's (already-defaulted)
// values. Explicit flags always win.
func applyConfigFile(cmd *cobra.Command) error {
	if serveConfigFile == "" {
		return nil
	}

	cfg, err := config.LoadFromFile(serveConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	config.SubstituteEnvVarsInConfig(cfg)

	if issues := config.ValidateConfiguration(cfg); len(issues) > 0 {
		for _, issue := range issues {
			if issue.Level == "error" {
				return fmt.Errorf("invalid config: %s", issue)
			}
			logger.Warn("config validation warning", logger.String("detail", issue.String()))
		}
	}

	if !cmd.Flags().Changed("storage-dir") {
		storageDir = cfg.Storage.Root
	}
	if !cmd.Flags().Changed("listen-port") {
		serveListenPort = cfg.Overlay.ListenPort
	}
	if !cmd.Flags().Changed("socks-address") {
		serveSocksAddress = cfg.Overlay.SocksAddress
	}
	if !cmd.Flags().Changed("offline") {
		serveOffline = cfg.Overlay.OfflineMode
	}
	if !cmd.Flags().Changed("metrics-address") && cfg.Metrics.Enabled {
		serveMetricsAddr = cfg.Metrics.Address
	}
	if !cmd.Flags().Changed("sign-transcript") {
		serveSignTranscript = cfg.Privacy.SignTranscript
	}
	if !cmd.Flags().Changed("ghost") {
		serveGhostMode = cfg.Privacy.GhostMode
	}
	if !cmd.Flags().Changed("no-padding") {
		serveNoPadding = !cfg.Privacy.PaddingEnabled
	}
	if !cmd.Flags().Changed("no-jitter") {
		serveNoJitter = !cfg.Privacy.JitterEnabled
	}
	if !cmd.Flags().Changed("health-address") && cfg.Health.Enabled {
		serveHealthAddr = cfg.Health.Address
	}
	if !cmd.Flags().Changed("dial-timeout") {
		serveDialTimeout = cfg.Overlay.DialTimeout
	}
	if !cmd.Flags().Changed("passphrase") && cfg.Storage.PassphraseEnv != "" {
		servePassphrase = os.Getenv(cfg.Storage.PassphraseEnv)
	}

	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := applyConfigFile(cmd); err != nil {
		return err
	}

	id, err := loadOrGenerateIdentity()
	if err != nil {
		return err
	}

	guard := privacy.NewGuard(resolveStorageDir())
	pass := servePassphrase
	if pass == "" {
		pass = os.Getenv("CWTCH_PASSPHRASE")
	}
	if pass == "" {
		return fmt.Errorf("a storage passphrase is required: pass --passphrase or set CWTCH_PASSPHRASE")
	}
	if err := guard.Unlock([]byte(pass)); err != nil {
		return fmt.Errorf("unlock privacy guard: %w", err)
	}
	guard.GhostMode(serveGhostMode)
	guard.SetPaddingEnabled(!serveNoPadding)
	guard.SetJitterEnabled(!serveNoJitter)

	if serveMetricsAddr != "" {
		go func() {
			if err := metrics.StartServer(serveMetricsAddr); err != nil {
				logger.ErrorMsg("metrics server exited", logger.Error(err))
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var mgr *peer.PeerManager
	ov := overlay.NewOverlayService(
		overlay.Config{
			ListenPort:   serveListenPort,
			SocksAddress: serveSocksAddress,
			OfflineMode:  serveOffline,
			DialTimeout:  serveDialTimeout,
		},
		overlayControlPort(),
		deferredSink{mgr: &mgr},
		func(ctx context.Context, conn net.Conn) error {
			return mgr.OnIncoming(ctx, conn)
		},
	)

	mgr = peer.NewPeerManager(id, guard, ov, handshake.Config{SignTranscript: serveSignTranscript})

	if err := ov.Start(ctx); err != nil {
		return fmt.Errorf("start overlay: %w", err)
	}
	defer ov.Stop()

	if serveHealthAddr != "" {
		checker := health.NewChecker(guard.IsUnlocked, ov)
		healthSrv, err := health.StartHealthServer(serveHealthAddr, checker)
		if err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
		defer healthSrv.Stop(context.Background())
	}

	fmt.Fprintf(os.Stderr, "listening at %s\n", ov.OnionAddress())

	go printEvents(mgr)

	var connectedPeer *peer.Peer
	if serveConnectAddr != "" {
		if err := mgr.Connect(ctx, serveConnectAddr); err != nil {
			return fmt.Errorf("connect to %s: %w", serveConnectAddr, err)
		}
		connectedPeer, _ = mgr.Get(serveConnectAddr)
	}

	go readStdinAndSend(mgr, &connectedPeer)

	<-ctx.Done()
	return mgr.Shutdown(context.Background())
}

// overlayControlPort returns the control-port implementation serve uses to
// publish its listener. No real overlay-daemon control-port client is
// wired into this tree yet, so offline address fabrication serves both
// --offline and default runs; SOCKS5 dialing in non-offline mode still
// exercises the real proxy path independently of how the listener address
// was produced.
func overlayControlPort() overlay.ControlPort {
	return overlay.OfflineControlPort{}
}

func loadOrGenerateIdentity() (*identity.Identity, error) {
	if serveIdentityFile == "" {
		return identity.GenerateIdentity(rand.Reader)
	}
	if _, err := os.Stat(serveIdentityFile); err == nil {
		return loadIdentityFile(serveIdentityFile)
	}
	return identity.GenerateIdentity(rand.Reader)
}

func printEvents(mgr *peer.PeerManager) {
	for ev := range mgr.Events() {
		switch e := ev.(type) {
		case peer.MessageEvent:
			fmt.Printf("%s: %s\n", e.Peer.Address, e.Text)
		case peer.StatusEvent:
			fmt.Fprintf(os.Stderr, "%s connected=%v\n", e.Peer.Address, e.Connected)
		case peer.OverlayEvent:
			fmt.Fprintf(os.Stderr, "overlay: %s connected=%v\n", e.Status, e.Connected)
		}
	}
}

func readStdinAndSend(mgr *peer.PeerManager, connectedPeer **peer.Peer) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		p := *connectedPeer
		if p == nil {
			fmt.Fprintln(os.Stderr, "no connected peer yet")
			continue
		}
		if !mgr.Send(p, scanner.Text()) {
			fmt.Fprintln(os.Stderr, "send failed, peer disconnected")
		}
	}
}
