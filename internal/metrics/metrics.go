// Package metrics provides Prometheus metrics for the playground host.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reasons a buffer is written to the sandbox.
const (
	WriteDebounced = "debounced"
	WriteFlush     = "flush"
)

var (
	// Sync metrics
	syncWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_sync_writes_total",
			Help: "Total editor buffer writes into the sandbox",
		},
		[]string{"reason"},
	)

	syncReloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playground_sync_reloads_total",
			Help: "Total editor buffer reloads from sandbox changes",
		},
	)

	syncRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_sync_session_restarts_total",
			Help: "Total sync session restarts after transient failures",
		},
		[]string{"kind"},
	)

	// Provisioning metrics
	bootDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playground_boot_duration_seconds",
			Help:    "Time from sandbox boot to the workspace being ready",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	provisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_provisions_total",
			Help: "Total workspace provisioning runs",
		},
		[]string{"status"},
	)

	prepareExitCode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playground_prepare_exit_code",
			Help: "Exit code of the last prepare command",
		},
		[]string{"workspace"},
	)

	// Plugin metrics
	pluginReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_plugin_reloads_total",
			Help: "Total plugin applications of a watched file",
		},
		[]string{"plugin", "status"},
	)

	pluginRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_plugin_restarts_total",
			Help: "Total plugin restarts by the supervisor",
		},
		[]string{"plugin"},
	)

	// Terminal metrics
	terminalsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playground_terminals_active",
			Help: "Number of open terminals",
		},
	)

	terminalResizesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playground_terminal_resizes_total",
			Help: "Total PTY resizes applied",
		},
	)

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playground_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	websocketConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playground_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
		[]string{"channel"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSyncWrite records a buffer written into the sandbox.
func RecordSyncWrite(reason string) {
	syncWritesTotal.WithLabelValues(reason).Inc()
}

// RecordSyncReload records a buffer reloaded from the sandbox.
func RecordSyncReload() {
	syncReloadsTotal.Inc()
}

// RecordSyncRestart records a sync session restart.
func RecordSyncRestart(kind string) {
	syncRestartsTotal.WithLabelValues(kind).Inc()
}

// RecordProvision records the outcome of a provisioning run.
func RecordProvision(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	provisionsTotal.WithLabelValues(status).Inc()
	if success {
		bootDuration.Observe(duration.Seconds())
	}
}

// SetPrepareExitCode records the exit code of the prepare command.
func SetPrepareExitCode(workspace string, code int) {
	prepareExitCode.WithLabelValues(workspace).Set(float64(code))
}

// RecordPluginReload records one plugin application.
func RecordPluginReload(plugin string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	pluginReloadsTotal.WithLabelValues(plugin, status).Inc()
}

// RecordPluginRestart records a supervisor restart.
func RecordPluginRestart(plugin string) {
	pluginRestartsTotal.WithLabelValues(plugin).Inc()
}

// TerminalOpened increments the open terminal gauge.
func TerminalOpened() {
	terminalsActive.Inc()
}

// TerminalClosed decrements the open terminal gauge.
func TerminalClosed() {
	terminalsActive.Dec()
}

// RecordTerminalResize records a PTY resize.
func RecordTerminalResize() {
	terminalResizesTotal.Inc()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// WebSocketConnected increments the connection gauge for channel.
func WebSocketConnected(channel string) {
	websocketConnectionsActive.WithLabelValues(channel).Inc()
}

// WebSocketDisconnected decrements the connection gauge for channel.
func WebSocketDisconnected(channel string) {
	websocketConnectionsActive.WithLabelValues(channel).Dec()
}

// Middleware records request counts and durations.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to WebSocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}
