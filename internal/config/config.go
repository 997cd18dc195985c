// Package config provides configuration management for the playground host
// using Viper for flexible configuration loading from files, environment
// variables, and command-line flags.
//
// The configuration system supports YAML files (.playground.yml), environment
// variable overrides with the PLAYGROUND_ prefix, and validation. It manages
// the HTTP bridge, the sandbox root, sync timing, terminal behaviour,
// provisioning sources and the background plugins.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox" yaml:"sandbox"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Terminal  TerminalConfig  `mapstructure:"terminal" yaml:"terminal"`
	Provision ProvisionConfig `mapstructure:"provision" yaml:"provision"`
	Plugins   PluginsConfig   `mapstructure:"plugins" yaml:"plugins"`
	Workspace WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	Host           string   `mapstructure:"host" yaml:"host"`
	MaxConnections int      `mapstructure:"max_connections" yaml:"max_connections"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type SandboxConfig struct {
	// Root is the host directory that acts as the sandbox filesystem root.
	// Empty means a fresh temporary directory per boot.
	Root        string        `mapstructure:"root" yaml:"root"`
	Shell       string        `mapstructure:"shell" yaml:"shell"`
	BootTimeout time.Duration `mapstructure:"boot_timeout" yaml:"boot_timeout"`
}

type SyncConfig struct {
	Debounce     time.Duration `mapstructure:"debounce" yaml:"debounce"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout" yaml:"flush_timeout"`
}

type TerminalConfig struct {
	ResizeDebounce time.Duration `mapstructure:"resize_debounce" yaml:"resize_debounce"`
	CommandDelay   time.Duration `mapstructure:"command_delay" yaml:"command_delay"`
}

type ProvisionConfig struct {
	SnapshotBaseURL string        `mapstructure:"snapshot_base_url" yaml:"snapshot_base_url"`
	StoreDir        string        `mapstructure:"store_dir" yaml:"store_dir"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
}

type PluginsConfig struct {
	Enabled         []string              `mapstructure:"enabled" yaml:"enabled"`
	Disabled        []string              `mapstructure:"disabled" yaml:"disabled"`
	MaxRetries      int                   `mapstructure:"max_retries" yaml:"max_retries"`
	TypeAcquisition TypeAcquisitionConfig `mapstructure:"type_acquisition" yaml:"type_acquisition"`
	Formatting      FormattingConfig      `mapstructure:"formatting" yaml:"formatting"`
}

type TypeAcquisitionConfig struct {
	Exclude  []string      `mapstructure:"exclude" yaml:"exclude"`
	MaxDepth int           `mapstructure:"max_depth" yaml:"max_depth"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type FormattingConfig struct {
	// BaseURL resolves site-relative formatter plugin URLs. Empty falls back
	// to the snapshot base URL.
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	CacheCapacity int           `mapstructure:"cache_capacity" yaml:"cache_capacity"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
}

type WorkspaceConfig struct {
	// Template is a YAML workspace template; empty selects the embedded default.
	Template string `mapstructure:"template" yaml:"template"`
	Theme    string `mapstructure:"theme" yaml:"theme"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default values applied after unmarshal.
const (
	DefaultPort           = 8080
	DefaultHost           = "localhost"
	DefaultMaxConnections = 64
	DefaultShell          = "/bin/sh"
	DefaultBootTimeout    = 30 * time.Second
	DefaultDebounce       = 2 * time.Second
	DefaultRetryBackoff   = 200 * time.Millisecond
	DefaultFlushTimeout   = 5 * time.Second
	DefaultResizeDebounce = 250 * time.Millisecond
	DefaultCommandDelay   = 3 * time.Second
	DefaultStoreDir       = ".pnpm-store"
	DefaultFetchTimeout   = 60 * time.Second
	DefaultMaxRetries     = 3
	DefaultTypesMaxDepth  = 8
	DefaultTypesTimeout   = 30 * time.Second
	DefaultFormatterCache = 10
	DefaultFormatterFetch = 30 * time.Second
	DefaultTheme          = "dark"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// DefaultTypeAcquisitionExclude lists packages whose types are provided by
// the editor itself.
var DefaultTypeAcquisitionExclude = []string{"typescript", "tsc-watch"}

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Flat flag keys bound by the root command.
	if viper.IsSet("log-level") && !viper.IsSet("log.level") {
		config.Log.Level = viper.GetString("log-level")
	}

	// Handle slices set via viper (workaround for viper slice handling)
	if viper.IsSet("plugins.enabled") {
		config.Plugins.Enabled = viper.GetStringSlice("plugins.enabled")
	}
	if viper.IsSet("plugins.disabled") {
		config.Plugins.Disabled = viper.GetStringSlice("plugins.disabled")
	}
	if viper.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = viper.GetStringSlice("server.allowed_origins")
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with every default applied, without
// consulting viper.
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

func applyDefaults(config *Config) {
	if config.Server.Port == 0 && !viper.IsSet("server.port") {
		config.Server.Port = DefaultPort
	}
	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if config.Server.MaxConnections == 0 {
		config.Server.MaxConnections = DefaultMaxConnections
	}

	if config.Sandbox.Shell == "" {
		config.Sandbox.Shell = DefaultShell
	}
	if config.Sandbox.BootTimeout == 0 {
		config.Sandbox.BootTimeout = DefaultBootTimeout
	}

	if config.Sync.Debounce == 0 {
		config.Sync.Debounce = DefaultDebounce
	}
	if config.Sync.RetryBackoff == 0 {
		config.Sync.RetryBackoff = DefaultRetryBackoff
	}
	if config.Sync.FlushTimeout == 0 {
		config.Sync.FlushTimeout = DefaultFlushTimeout
	}

	if config.Terminal.ResizeDebounce == 0 {
		config.Terminal.ResizeDebounce = DefaultResizeDebounce
	}
	// Zero is meaningful for the command delay, so only fill it in when unset.
	if config.Terminal.CommandDelay == 0 && !viper.IsSet("terminal.command_delay") {
		config.Terminal.CommandDelay = DefaultCommandDelay
	}

	if config.Provision.StoreDir == "" {
		config.Provision.StoreDir = DefaultStoreDir
	}
	if config.Provision.FetchTimeout == 0 {
		config.Provision.FetchTimeout = DefaultFetchTimeout
	}

	if config.Plugins.MaxRetries == 0 {
		config.Plugins.MaxRetries = DefaultMaxRetries
	}
	if len(config.Plugins.TypeAcquisition.Exclude) == 0 {
		config.Plugins.TypeAcquisition.Exclude = append([]string(nil), DefaultTypeAcquisitionExclude...)
	}
	if config.Plugins.TypeAcquisition.MaxDepth == 0 {
		config.Plugins.TypeAcquisition.MaxDepth = DefaultTypesMaxDepth
	}
	if config.Plugins.TypeAcquisition.Timeout == 0 {
		config.Plugins.TypeAcquisition.Timeout = DefaultTypesTimeout
	}
	if config.Plugins.Formatting.BaseURL == "" {
		config.Plugins.Formatting.BaseURL = config.Provision.SnapshotBaseURL
	}
	if config.Plugins.Formatting.CacheCapacity == 0 {
		config.Plugins.Formatting.CacheCapacity = DefaultFormatterCache
	}
	if config.Plugins.Formatting.FetchTimeout == 0 {
		config.Plugins.Formatting.FetchTimeout = DefaultFormatterFetch
	}

	if config.Workspace.Theme == "" {
		config.Workspace.Theme = DefaultTheme
	}

	if config.Log.Level == "" {
		config.Log.Level = DefaultLogLevel
	}
	if config.Log.Format == "" {
		config.Log.Format = DefaultLogFormat
	}
}

// PluginEnabled reports whether the named plugin should run. An explicit
// disable always wins; an empty enabled list enables everything.
func (c *Config) PluginEnabled(name string) bool {
	for _, d := range c.Plugins.Disabled {
		if d == name {
			return false
		}
	}
	if len(c.Plugins.Enabled) == 0 {
		return true
	}
	for _, e := range c.Plugins.Enabled {
		if e == name {
			return true
		}
	}
	return false
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateSandboxConfig(&config.Sandbox); err != nil {
		return fmt.Errorf("sandbox config: %w", err)
	}

	if err := validateDurations(config); err != nil {
		return err
	}

	if err := validateProvisionConfig(&config.Provision); err != nil {
		return fmt.Errorf("provision config: %w", err)
	}

	if err := validateBaseURL("base_url", config.Plugins.Formatting.BaseURL); err != nil {
		return fmt.Errorf("plugins config: %w", err)
	}

	if config.Workspace.Theme != "light" && config.Workspace.Theme != "dark" {
		return fmt.Errorf("workspace config: theme must be light or dark, got %q", config.Workspace.Theme)
	}

	if config.Log.Format != "text" && config.Log.Format != "json" {
		return fmt.Errorf("log config: format must be text or json, got %q", config.Log.Format)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Validate port range (allow 0 for system-assigned ports in testing)
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	if config.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}

	return nil
}

func validateSandboxConfig(config *SandboxConfig) error {
	if config.Root != "" {
		cleanPath := filepath.Clean(config.Root)
		if strings.Contains(cleanPath, "..") {
			return fmt.Errorf("root contains path traversal: %s", config.Root)
		}
	}

	if !filepath.IsAbs(config.Shell) {
		return fmt.Errorf("shell must be an absolute path: %s", config.Shell)
	}

	return nil
}

func validateDurations(config *Config) error {
	durations := map[string]time.Duration{
		"sync.debounce":            config.Sync.Debounce,
		"sync.retry_backoff":       config.Sync.RetryBackoff,
		"sync.flush_timeout":       config.Sync.FlushTimeout,
		"terminal.resize_debounce": config.Terminal.ResizeDebounce,
		"terminal.command_delay":   config.Terminal.CommandDelay,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}

	return nil
}

func validateProvisionConfig(config *ProvisionConfig) error {
	if err := validateBaseURL("snapshot_base_url", config.SnapshotBaseURL); err != nil {
		return err
	}

	if strings.Contains(config.StoreDir, "/") || strings.Contains(config.StoreDir, "..") {
		return fmt.Errorf("store_dir must be a single path segment: %s", config.StoreDir)
	}

	return nil
}

func validateBaseURL(key, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be http or https: %s", key, raw)
	}
	return nil
}
