package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwtch-go/core/identity"
	"github.com/cwtch-go/core/privacy"
)

var identityOutFile string

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the long-lived peer identity key pair",
}

var identityGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new Ed25519 identity and print its public fingerprint",
	Example: `  # Generate a new identity and save the private key to a file
  cwtchcore identity generate --out identity.key`,
	RunE: runIdentityGenerate,
}

var identityFingerprintCmd = &cobra.Command{
	Use:   "fingerprint <private-key-file>",
	Short: "Print the hex and word fingerprints for a saved identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentityFingerprint,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityGenerateCmd)
	identityCmd.AddCommand(identityFingerprintCmd)

	identityGenerateCmd.Flags().StringVarP(&identityOutFile, "out", "o", "", "file to write the base64-encoded private key to (default: stdout)")
}

func runIdentityGenerate(cmd *cobra.Command, args []string) error {
	id, err := identity.GenerateIdentity(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(id.PrivateBytes())

	if identityOutFile == "" {
		fmt.Println(encoded)
	} else {
		if err := os.WriteFile(identityOutFile, []byte(encoded+"\n"), 0600); err != nil {
			return fmt.Errorf("write identity file: %w", err)
		}
		fmt.Printf("identity written to %s\n", identityOutFile)
	}

	pub := id.PublicBytes()
	fmt.Printf("fingerprint: %s\n", privacy.HexFingerprint(pub[:]))
	fmt.Printf("words:       %s\n", privacy.WordFingerprint(pub[:]))
	return nil
}

func runIdentityFingerprint(cmd *cobra.Command, args []string) error {
	id, err := loadIdentityFile(args[0])
	if err != nil {
		return err
	}

	pub := id.PublicBytes()
	fmt.Printf("fingerprint: %s\n", privacy.HexFingerprint(pub[:]))
	fmt.Printf("words:       %s\n", privacy.WordFingerprint(pub[:]))
	return nil
}

func loadIdentityFile(path string) (*identity.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(trimNewline(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode identity file: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity file has wrong length: got %d, want %d", len(raw), ed25519.PrivateKeySize)
	}

	return identity.FromPrivateKey(ed25519.PrivateKey(raw))
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
