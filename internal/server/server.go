package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/xxljob/executor-go/internal/logging"
)

// Server wraps the gin engine in a net/http.Server so internal/runner can
// start and gracefully shut it down through the same two-method contract
// as every other supervised loop.
type Server struct {
	log  *logging.Logger
	addr string
	srv  *http.Server
}

// New builds a Server bound to host:port, serving router.
func New(log *logging.Logger, host string, port int, router http.Handler) *Server {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	return &Server{
		log:  log,
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start blocks serving until Shutdown is called, returning nil for the
// expected http.ErrServerClosed case.
func (s *Server) Start() error {
	if s.log != nil {
		s.log.Info("server listening", "addr", s.addr)
	}
	err := s.srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight ones to
// finish, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
