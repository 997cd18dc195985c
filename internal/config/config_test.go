package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			setup: func() {
				viper.Reset()
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultPort, cfg.Server.Port)
				assert.Equal(t, DefaultHost, cfg.Server.Host)
				assert.Equal(t, 2*time.Second, cfg.Sync.Debounce)
				assert.Equal(t, 200*time.Millisecond, cfg.Sync.RetryBackoff)
				assert.Equal(t, 250*time.Millisecond, cfg.Terminal.ResizeDebounce)
				assert.Equal(t, 3*time.Second, cfg.Terminal.CommandDelay)
				assert.Equal(t, ".pnpm-store", cfg.Provision.StoreDir)
				assert.Equal(t, []string{"typescript", "tsc-watch"}, cfg.Plugins.TypeAcquisition.Exclude)
				assert.Equal(t, 10, cfg.Plugins.Formatting.CacheCapacity)
				assert.Equal(t, "dark", cfg.Workspace.Theme)
			},
		},
		{
			name: "overrides from viper",
			setup: func() {
				viper.Reset()
				viper.Set("server.port", 3000)
				viper.Set("sync.debounce", "500ms")
				viper.Set("terminal.command_delay", "0s")
				viper.Set("plugins.disabled", []string{"formatting"})
				viper.Set("log-level", "debug")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3000, cfg.Server.Port)
				assert.Equal(t, 500*time.Millisecond, cfg.Sync.Debounce)
				assert.Equal(t, time.Duration(0), cfg.Terminal.CommandDelay)
				assert.Equal(t, []string{"formatting"}, cfg.Plugins.Disabled)
				assert.Equal(t, "debug", cfg.Log.Level)
			},
		},
		{
			name: "invalid port type",
			setup: func() {
				viper.Reset()
				viper.Set("server.port", "invalid_port")
			},
			expectError: true,
		},
		{
			name: "port out of range",
			setup: func() {
				viper.Reset()
				viper.Set("server.port", 70000)
			},
			expectError: true,
		},
		{
			name: "bad snapshot url",
			setup: func() {
				viper.Reset()
				viper.Set("provision.snapshot_base_url", "ftp://example.com")
			},
			expectError: true,
		},
		{
			name: "bad theme",
			setup: func() {
				viper.Reset()
				viper.Set("workspace.theme", "sepia")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer viper.Reset()

			cfg, err := Load()
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
			tt.check(t, cfg)
		})
	}
}

func TestPluginEnabled(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.PluginEnabled("formatting"))

	cfg.Plugins.Enabled = []string{"tsconfig"}
	assert.True(t, cfg.PluginEnabled("tsconfig"))
	assert.False(t, cfg.PluginEnabled("formatting"))

	cfg.Plugins.Disabled = []string{"tsconfig"}
	assert.False(t, cfg.PluginEnabled("tsconfig"))
}

func TestValidateSandboxConfig(t *testing.T) {
	assert.Error(t, validateSandboxConfig(&SandboxConfig{Shell: "sh"}))
	assert.Error(t, validateSandboxConfig(&SandboxConfig{Root: "../escape", Shell: "/bin/sh"}))
	assert.NoError(t, validateSandboxConfig(&SandboxConfig{Root: "/tmp/sandbox", Shell: "/bin/sh"}))
}

func TestFormattingBaseURLFallsBackToSnapshots(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("provision.snapshot_base_url", "https://play.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://play.example.com", cfg.Plugins.Formatting.BaseURL)
}
