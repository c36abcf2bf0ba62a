package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const _defaultShutdownTimeout = 10 * time.Second

type HTTPServer struct {
	s               *http.Server
	shutdownTimeout time.Duration
	addr            chan net.Addr
}

type Option func(*HTTPServer)

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *HTTPServer) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

func NewHTTPServer(ctx context.Context, port string, handler http.Handler, opts ...Option) *HTTPServer {
	s := &HTTPServer{
		s: &http.Server{
			Handler:           handler,
			Addr:              ":" + port,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(listener net.Listener) context.Context {
				return ctx
			},
		},
		shutdownTimeout: _defaultShutdownTimeout,
		addr:            make(chan net.Addr, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr blocks until the server listens and returns the bound address.
func (s *HTTPServer) Addr() net.Addr {
	a := <-s.addr
	s.addr <- a
	return a
}

func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.s.Addr)
	if err != nil {
		return fmt.Errorf("%w: can't listen on %s", err, s.s.Addr)
	}
	s.addr <- ln.Addr()
	return s.s.Serve(ln)
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.s.Shutdown(ctx)
}

// Run serves until ctx is done, then drains in-flight requests for at most the shutdown timeout.
func (s *HTTPServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%w: can't shutdown http server", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}
