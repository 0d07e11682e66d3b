package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cwtch-go/core/config"
)

var configEnvironment string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration for an environment",
	Long: `config resolves the <env>.yaml -> default.yaml -> config.yaml ->
built-in-defaults cascade, applies CWTCH_* environment overrides, and prints
the result. serve does not use this cascade: it reads only the file named by
its --config flag.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().StringVar(&configEnvironment, "environment", "", "environment to resolve (default: CWTCH_ENV, ENVIRONMENT, or development)")
}

func runConfig(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	var err error
	if configEnvironment != "" {
		cfg, err = config.LoadForEnvironment(configEnvironment)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
