package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSyncWrite(t *testing.T) {
	before := testutil.ToFloat64(syncWritesTotal.WithLabelValues(WriteFlush))
	RecordSyncWrite(WriteFlush)
	assert.Equal(t, before+1, testutil.ToFloat64(syncWritesTotal.WithLabelValues(WriteFlush)))
}

func TestRecordPluginReload(t *testing.T) {
	ok := testutil.ToFloat64(pluginReloadsTotal.WithLabelValues("tsconfig", "success"))
	failed := testutil.ToFloat64(pluginReloadsTotal.WithLabelValues("tsconfig", "failure"))

	RecordPluginReload("tsconfig", nil)
	RecordPluginReload("tsconfig", errors.New("bad json"))

	assert.Equal(t, ok+1, testutil.ToFloat64(pluginReloadsTotal.WithLabelValues("tsconfig", "success")))
	assert.Equal(t, failed+1, testutil.ToFloat64(pluginReloadsTotal.WithLabelValues("tsconfig", "failure")))
}

func TestTerminalGauge(t *testing.T) {
	before := testutil.ToFloat64(terminalsActive)
	TerminalOpened()
	TerminalOpened()
	TerminalClosed()
	assert.Equal(t, before+1, testutil.ToFloat64(terminalsActive))
	TerminalClosed()
}

func TestMiddlewareAndHandler(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/brew", "418"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/brew", "418")))

	RecordProvision(true, time.Second)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "playground_provisions_total"))
}
