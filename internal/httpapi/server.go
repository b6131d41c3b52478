// Package httpapi implements the HTTP Control Surface (C7): start, stop,
// poll-data, status, config, and sandboxed file browsing/download.
package httpapi

import (
	"net/http"
	"time"

	"daq/internal/config"
	"daq/internal/data"
	"daq/internal/session"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server wires the Session Controller and config store behind an
// http.ServeMux with one http.HandleFunc registration per route rather than
// a JSON-RPC dispatch-map style — the routes are concrete REST endpoints,
// so explicit registration fits better here.
type Server struct {
	ctrl       *session.Controller
	cfg        *config.Store
	cfgDir     string
	outputRoot string
	limiter    *rateLimiter
	log        *zap.Logger
}

// New builds the control surface. conn supplies Redis for the rate limiter;
// it may be nil in tests, in which case rate limiting is skipped.
func New(ctrl *session.Controller, cfg *config.Store, cfgDir, outputRoot string, conn *data.Conn, log *zap.Logger) *Server {
	s := &Server{
		ctrl:       ctrl,
		cfg:        cfg,
		cfgDir:     cfgDir,
		outputRoot: outputRoot,
		log:        log,
	}
	if conn != nil {
		s.limiter = newRateLimiter(conn, 30, 60)
	}
	return s
}

// Mux builds the route table.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/data", s.handleData)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/start", s.wrapLimited("start", s.handleStart))
	mux.HandleFunc("/stop", s.wrapLimited("stop", s.handleStop))
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/files", s.handleFiles)
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) wrapLimited(route string, h http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return h
	}
	return s.limiter.middleware(route, h)
}

// ListenAndServe starts the control surface on addr.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Mux(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.log.Info("daq control surface listening", zap.String("addr", addr))
	return srv.ListenAndServe()
}
