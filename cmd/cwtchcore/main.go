// Command cwtchcore is a thin CLI wrapping the core peer session engine:
// identity management and a foreground daemon that joins the overlay,
// dials or accepts one peer connection, and relays stdin/stdout messages.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var storageDir string

var rootCmd = &cobra.Command{
	Use:   "cwtchcore",
	Short: "cwtchcore manages identities and runs the peer session daemon",
	Long: `cwtchcore provides tools for managing a peer identity and running the
metadata-resistant peer session engine.

This tool supports:
- Identity key pair generation and fingerprinting
- Joining the overlay network and listening for inbound peers
- Dialing a known peer address and exchanging padded, encrypted messages`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&storageDir, "storage-dir", "", "privacy guard storage root (default: $HOME/.cwtch)")

	// Commands register themselves in their own files:
	// - identity.go: identityCmd (generate, fingerprint)
	// - serve.go: serveCmd
	// - config.go: configCmd
}

// resolveStorageDir returns the --storage-dir flag value, or $HOME/.cwtch
// if unset, matching config.setDefaults.
func resolveStorageDir() string {
	if storageDir != "" {
		return storageDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cwtch"
	}
	return filepath.Join(home, ".cwtch")
}
