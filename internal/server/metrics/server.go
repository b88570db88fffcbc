package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/movies/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the default Prometheus registry on /metrics.
type Server struct {
	address string
	logger  logging.Logger
	bound   atomic.Value
}

func NewServer(address string, l logging.Logger) *Server {
	return &Server{
		address: address,
		logger:  l.With("module", "metrics_server"),
	}
}

// Addr returns the bound listen address once Run is serving.
func (s *Server) Addr() string {
	v, _ := s.bound.Load().(string)
	return v
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.bound.Store(listen.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping metrics server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting metrics server", "address", listen.Addr().String())
	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
