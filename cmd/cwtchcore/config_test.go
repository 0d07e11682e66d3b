package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cwtch-go/core/config"
)

func TestConfigLoad_FallsBackToBuiltinDefaults(t *testing.T) {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: t.TempDir()})
	assert.NoError(t, err)
	assert.Equal(t, 9878, cfg.Overlay.ListenPort)
	assert.Equal(t, 60e9, float64(cfg.Overlay.DialTimeout))
}

func TestConfigLoadForEnvironment_SetsEnvironmentField(t *testing.T) {
	cfg, err := config.LoadForEnvironment("staging")
	assert.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
}

func TestConfigMustLoad_DoesNotPanicOnMissingFiles(t *testing.T) {
	assert.NotPanics(t, func() {
		cfg := config.MustLoad(config.LoaderOptions{ConfigDir: t.TempDir()})
		assert.NotNil(t, cfg)
	})
}
