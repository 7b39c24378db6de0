package steplog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/infra/op-steplog/service"
	"github.com/ethereum-optimism/infra/op-steplog/store"
)

const shutdownTimeout = 5 * time.Second

// Server serves the combined report of the configured output directory.
// Server implements the cliapp.Lifecycle interface.
type Server struct {
	cfg     *Config
	server  *http.Server
	running atomic.Bool
	done    chan error
	addr    atomic.Value
}

func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.ReportAddr == "" {
		return nil, errors.New("report address is required")
	}
	rs := service.NewReportServer(store.New(cfg.StoreDirs(), cfg.Log), cfg.Log)
	return &Server{
		cfg:    cfg,
		server: &http.Server{Addr: cfg.ReportAddr, Handler: rs.Handler(), ReadHeaderTimeout: 10 * time.Second},
		done:   make(chan error, 1),
	}, nil
}

// Start listens on the report address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ReportAddr)
	if err != nil {
		return NewRuntimeError("serve", fmt.Errorf("failed to listen on %s: %w", s.cfg.ReportAddr, err))
	}
	s.addr.Store(ln.Addr().String())
	s.running.Store(true)
	s.cfg.Log.Info("Serving reports", "addr", ln.Addr().String(), "output", s.cfg.OutputDir)

	go func() {
		err := s.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.cfg.Log.Error("Report server failed", "err", err)
		}
		s.running.Store(false)
		s.done <- err
	}()
	return nil
}

// Addr returns the address the server listens on once started
func (s *Server) Addr() string {
	addr, _ := s.addr.Load().(string)
	return addr
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.Load() {
		s.cfg.Log.Debug("Report server already stopped, nothing to do")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop report server: %w", err)
	}
	err := <-s.done
	s.cfg.Log.Info("Report server stopped")
	return err
}

// Stopped reports whether the server is not serving
func (s *Server) Stopped() bool {
	return !s.running.Load()
}
