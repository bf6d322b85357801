package observability

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/contractflow/internal/runtime/logging"
	"github.com/drblury/contractflow/internal/runtime/msgerr"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingLogger) add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, level+":"+msg)
}

func (r *recordingLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return r }
func (r *recordingLogger) Debug(msg string, _ loggingpkg.LogFields)         { r.add("debug", msg) }
func (r *recordingLogger) Info(msg string, _ loggingpkg.LogFields)          { r.add("info", msg) }
func (r *recordingLogger) Error(msg string, _ error, _ loggingpkg.LogFields) {
	r.add("error", msg)
}
func (r *recordingLogger) Trace(msg string, _ loggingpkg.LogFields) { r.add("trace", msg) }

func TestOutcome(t *testing.T) {
	t.Parallel()

	assert.Equal(t, OutcomeOK, Outcome(nil))
	assert.Equal(t, msgerr.CodeRateLimited, Outcome(msgerr.New(msgerr.CodeRateLimited)))
	assert.Equal(t, msgerr.CodeUnknown, Outcome(errors.New("x")))
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	p := Provider{}.WithDefaults()
	assert.NotNil(t, p.Logger)
	assert.NotNil(t, p.Metrics)
	assert.NotNil(t, p.Tracer)
}

func TestResolveKeepsExplicitBackends(t *testing.T) {
	t.Parallel()

	log := &recordingLogger{}
	p := Resolve(&Provider{Logger: log})
	assert.Same(t, log, p.Logger)
	assert.NotNil(t, p.Metrics)

	assert.NotNil(t, Resolve(nil).Logger)
}

func TestLogErrorRoutesBySeverity(t *testing.T) {
	t.Parallel()

	log := &recordingLogger{}
	p := Provider{Logger: log}.WithDefaults()

	p.LogError("warn", msgerr.New(msgerr.CodePermissionDenied), nil)
	p.LogError("crit", msgerr.New(msgerr.CodeInternal), nil)
	p.LogError("info", msgerr.New(msgerr.CodeRateLimited), nil)
	p.LogError("nil", nil, nil)

	assert.Equal(t, []string{"info:warn", "error:crit", "debug:info"}, log.entries)
}

func TestPrometheusMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	m.RequestHandled("getUser", OutcomeOK, 10*time.Millisecond)
	m.RequestHandled("getUser", "USER_NOT_FOUND", 30*time.Millisecond)
	m.EventHandled("userCreated", OutcomeOK, time.Millisecond)
	m.ClientsConnected(3)
	m.ErrorRecorded("USER_NOT_FOUND", msgerr.TypeBusiness)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("getUser", "USER_NOT_FOUND")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.clientsGauge))

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Requests["getUser"].Handled)
	assert.Equal(t, uint64(1), snap.Requests["getUser"].Failed)
	assert.InDelta(t, 20.0, snap.Requests["getUser"].AvgDurationMs, 0.001)
	assert.Equal(t, uint64(1), snap.Events["userCreated"].Handled)
	assert.Equal(t, uint64(1), snap.Errors["USER_NOT_FOUND"])
	assert.Equal(t, 3, snap.ClientsConnected)
}

func TestHTTPServer(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)
	require.NoError(t, m.Register())
	m.ClientsConnected(2)

	srv := NewHTTPServer(0, reg, []string{"https://ui.example"}, nil)
	srv.HandleJSON("/api/stats", func() any { return m.Snapshot() })
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	base := "http://127.0.0.1:" + port

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "contractflow_server_clients_connected 2")

	req, _ := http.NewRequest(http.MethodGet, base+"/api/stats", nil)
	req.Header.Set("Origin", "https://ui.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "https://ui.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(string(body), `"clients_connected":2`))
}

// Not parallel: mutates the process-wide default.
func TestSetDefaultOnce(t *testing.T) {
	log := &recordingLogger{}
	require.NoError(t, SetDefault(Provider{Logger: log}))
	assert.ErrorIs(t, SetDefault(Provider{}), errspkg.ErrProviderConfigured)
	assert.Same(t, log, Default().Logger)
}
