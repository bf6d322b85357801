package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/contractflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/contractflow/internal/runtime/logging"
)

// HTTPServer exposes /metrics and JSON introspection endpoints.
type HTTPServer struct {
	mu          sync.Mutex
	addr        string
	mux         *http.ServeMux
	srv         *http.Server
	listener    net.Listener
	corsOrigins []string
	logger      loggingpkg.ServiceLogger
}

// NewHTTPServer prepares a server on port. A nil gatherer means
// prometheus.DefaultGatherer.
func NewHTTPServer(port int, gatherer prometheus.Gatherer, corsOrigins []string, logger loggingpkg.ServiceLogger) *HTTPServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &HTTPServer{
		addr:        fmt.Sprintf(":%d", port),
		mux:         http.NewServeMux(),
		corsOrigins: corsOrigins,
		logger:      loggingpkg.OrNop(logger),
	}
	s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s
}

// Handle registers an additional handler. Must be called before Start.
func (s *HTTPServer) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// HandleJSON serves the value returned by fn as JSON on GET, honouring the
// configured CORS origins.
func (s *HTTPServer) HandleJSON(pattern string, fn func() any) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := jsoncodec.Encode(w, fn()); err != nil {
			s.logger.Error("Failed to encode response", err, loggingpkg.LogFields{"path": pattern})
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	})
}

// Addr returns the bound address once started.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start binds the port and serves in the background.
func (s *HTTPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.srv = &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	s.logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": ln.Addr().String()})
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": s.addr})
		}
	}(s.srv)
	return nil
}

// Stop shuts the server down gracefully.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *HTTPServer) allowedOrigin(requestOrigin string) string {
	for _, allowed := range s.corsOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
