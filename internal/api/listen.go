package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Listener is the API bound to a TCP socket.
type Listener struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr and returns once the socket is open. Call Serve to
// accept connections.
func (s *Server) Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	// no WriteTimeout: /api/v1/live holds its connection open and the
	// other routes are bounded by the Timeout middleware
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("listening", "addr", ln.Addr().String())
	return &Listener{srv: srv, ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Serve blocks until Shutdown. It returns nil after a clean shutdown.
func (l *Listener) Serve() error {
	if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.srv.Shutdown(ctx)
}
