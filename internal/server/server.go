package server

import (
	"context"
	"net/http"
	"time"
)

// ReadHeaderTimeout bounds slow request headers. There is no write timeout
// since proxy and file responses stream.
const ReadHeaderTimeout = 10 * time.Second

// Server wraps the HTTP server lifecycle
type Server struct {
	httpServer *http.Server
}

// New creates a server listening on addr
func New(addr string, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: ReadHeaderTimeout,
		},
	}
}

// Run blocks serving requests until Shutdown
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
