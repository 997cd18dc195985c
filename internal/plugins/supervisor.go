package plugins

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/conneroisu/playground/internal/config"
	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/metrics"
)

// Supervisor runs plugins in the background. A plugin that fails or panics
// is restarted with exponential backoff until the configured retry limit is
// spent; nothing a plugin does stops the engine.
type Supervisor struct {
	config  *config.Config
	logger  logging.Logger
	backoff func() backoff.BackOff

	mu      sync.RWMutex
	order   []string
	entries map[string]*supervised
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

type supervised struct {
	plugin   Plugin
	state    PluginState
	health   PluginHealth
	restarts int
}

// SupervisorOption customizes a Supervisor.
type SupervisorOption func(*Supervisor)

// WithBackOff replaces the restart policy. The retry limit from the
// configuration still applies on top of it.
func WithBackOff(policy func() backoff.BackOff) SupervisorOption {
	return func(s *Supervisor) {
		s.backoff = policy
	}
}

// NewSupervisor creates a supervisor honouring the enabled and disabled
// plugin lists of cfg.
func NewSupervisor(cfg *config.Config, logger logging.Logger, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		config:  cfg,
		logger:  logger.WithComponent("plugins"),
		entries: make(map[string]*supervised),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a plugin. Names must be unique and registration closes once
// the supervisor has started.
func (s *Supervisor) Register(p Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.NewInternalError("plugin registered after start", nil).
			WithContext("plugin", p.Name())
	}
	if _, exists := s.entries[p.Name()]; exists {
		return errors.NewFileAlreadyExistsError(p.Name()).WithContext("plugin", p.Name())
	}

	state := PluginStateEnabled
	if !s.config.PluginEnabled(p.Name()) {
		state = PluginStateDisabled
	}
	s.entries[p.Name()] = &supervised{
		plugin: p,
		state:  state,
		health: PluginHealth{Status: HealthStatusUnknown, LastCheck: time.Now()},
	}
	s.order = append(s.order, p.Name())
	return nil
}

// Start launches every enabled plugin against host. Start is a no-op after
// the first call.
func (s *Supervisor) Start(ctx context.Context, host Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, name := range s.order {
		entry := s.entries[name]
		if entry.state == PluginStateDisabled {
			s.logger.Info(ctx, "Plugin disabled", "plugin", name)
			continue
		}
		s.wg.Add(1)
		go s.supervise(ctx, host, entry)
	}
}

func (s *Supervisor) supervise(ctx context.Context, host Host, entry *supervised) {
	defer s.wg.Done()

	name := entry.plugin.Name()
	logger := s.logger.With("plugin", name)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(s.backoff(), uint64(s.config.Plugins.MaxRetries)),
		ctx,
	)

	err := backoff.RetryNotify(func() error {
		s.update(name, func(e *supervised) {
			e.state = PluginStateRunning
			e.health = PluginHealth{Status: HealthStatusHealthy, LastCheck: time.Now()}
		})
		logger.Debug(ctx, "Plugin started")

		err := s.runOnce(ctx, host, entry.plugin)
		if ctx.Err() != nil || err == nil {
			return nil
		}
		if errors.IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		logger.Warn(ctx, err, "Plugin failed, restarting", "backoff", next)
		metrics.RecordPluginRestart(name)
		s.update(name, func(e *supervised) {
			e.restarts++
			e.state = PluginStateError
			e.health = PluginHealth{
				Status:    HealthStatusDegraded,
				LastCheck: time.Now(),
				Error:     err.Error(),
			}
		})
	})

	if err != nil && ctx.Err() == nil {
		logger.Error(ctx, err, "Plugin gave up")
		s.update(name, func(e *supervised) {
			e.state = PluginStateError
			e.health = PluginHealth{
				Status:    HealthStatusUnhealthy,
				LastCheck: time.Now(),
				Error:     err.Error(),
			}
		})
		return
	}

	s.update(name, func(e *supervised) {
		e.state = PluginStateStopped
		e.health.LastCheck = time.Now()
	})
	logger.Debug(ctx, "Plugin stopped")
}

// runOnce turns a panic into an error so it is handled like any failure.
func (s *Supervisor) runOnce(ctx context.Context, host Host, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternalError(
				fmt.Sprintf("plugin %s panicked", p.Name()),
				fmt.Errorf("%v", r),
			)
		}
	}()
	return p.Run(ctx, host)
}

func (s *Supervisor) update(name string, fn func(*supervised)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok {
		fn(e)
	}
}

// List returns a snapshot of every registered plugin sorted by name.
func (s *Supervisor) List() []PluginInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]PluginInfo, 0, len(s.entries))
	for _, e := range s.entries {
		infos = append(infos, PluginInfo{
			Name:        e.plugin.Name(),
			Description: e.plugin.Description(),
			State:       e.state,
			Health:      e.health,
			Restarts:    e.restarts,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Info returns the snapshot of one plugin.
func (s *Supervisor) Info(name string) (PluginInfo, bool) {
	for _, info := range s.List() {
		if info.Name == name {
			return info, true
		}
	}
	return PluginInfo{}, false
}

// Wait blocks until every plugin has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown stops every plugin and waits for them, bounded by ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("plugin shutdown: %w", ctx.Err())
	}
}
