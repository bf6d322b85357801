package server

import (
	"time"

	"github.com/drblury/contractflow/internal/runtime/observability"
)

// Stats is served on /api/stats.
type Stats struct {
	ServerID  string                  `json:"serverId"`
	Contract  string                  `json:"contract"`
	Running   bool                    `json:"running"`
	Clients   int                     `json:"clients"`
	Handlers  []string                `json:"handlers"`
	UptimeMs  int64                   `json:"uptimeMs"`
	Transport string                  `json:"transport,omitempty"`
	Metrics   *observability.Snapshot `json:"metrics,omitempty"`
}

type snapshotter interface {
	Snapshot() observability.Snapshot
}

// Stats summarizes the server for the introspection endpoint.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	running, startedAt := s.started, s.startedAt
	s.mu.RUnlock()

	st := Stats{
		ServerID:  s.opts.ServerID,
		Contract:  s.contract.Name(),
		Running:   running,
		Clients:   s.GetClientCount(),
		Handlers:  s.HandlerNames(),
		Transport: s.adapter.ConnectionString(),
	}
	if running {
		st.UptimeMs = time.Since(startedAt).Milliseconds()
	}
	if m, ok := s.provider.Metrics.(snapshotter); ok {
		snap := m.Snapshot()
		st.Metrics = &snap
	}
	return st
}

// MetricsAddr returns the bound address of the metrics server, or "" when
// it is not running.
func (s *Server) MetricsAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.http == nil {
		return ""
	}
	return s.http.Addr()
}

func (s *Server) newHTTPServer() *observability.HTTPServer {
	srv := observability.NewHTTPServer(s.opts.MetricsPort, s.opts.Gatherer, s.opts.CORSAllowedOrigins, s.logger)
	srv.HandleJSON("/api/clients", func() any { return s.GetClients() })
	srv.HandleJSON("/api/handlers", func() any {
		return map[string]any{
			"requests": s.HandlerNames(),
			"events":   s.contract.EventNames(),
		}
	})
	srv.HandleJSON("/api/stats", func() any { return s.Stats() })
	return srv
}
