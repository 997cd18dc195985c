// Package plugins runs the background workspace plugins. Each plugin owns a
// well-known file of the workspace (package.json, dprint.json,
// tsconfig.json), applies its content to the editor once it is found and
// re-applies it whenever the sandbox copy changes.
package plugins

import (
	"context"
	"time"

	"github.com/conneroisu/playground/internal/editor"
	"github.com/conneroisu/playground/internal/sandbox"
	"github.com/conneroisu/playground/internal/workspace"
)

// Plugin represents a background workspace plugin.
type Plugin interface {
	// Name returns the unique name of the plugin
	Name() string

	// Description returns a description of what the plugin does
	Description() string

	// Run applies the plugin until ctx ends. Returning an error asks the
	// supervisor to restart it.
	Run(ctx context.Context, host Host) error
}

// Host is the workspace a plugin works against. *session.Handle satisfies it.
type Host interface {
	Workspace() workspace.Workspace
	Gateway() sandbox.Gateway
	Editor() *editor.Manager
	WatchFile(ctx context.Context, node *workspace.Node) (<-chan sandbox.ContentUpdate, error)
}

// PluginHealth represents the health status of a plugin
type PluginHealth struct {
	// Status of the plugin
	Status HealthStatus `json:"status"`

	// Last check timestamp
	LastCheck time.Time `json:"last_check"`

	// Error message if unhealthy
	Error string `json:"error,omitempty"`
}

// HealthStatus represents the health status values
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// PluginState represents the current state of a plugin
type PluginState string

const (
	PluginStateUnknown  PluginState = "unknown"
	PluginStateEnabled  PluginState = "enabled"
	PluginStateDisabled PluginState = "disabled"
	PluginStateRunning  PluginState = "running"
	PluginStateStopped  PluginState = "stopped"
	PluginStateError    PluginState = "error"
)

// PluginInfo is a snapshot of one supervised plugin.
type PluginInfo struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	State       PluginState  `json:"state"`
	Health      PluginHealth `json:"health"`
	Restarts    int          `json:"restarts"`
}
