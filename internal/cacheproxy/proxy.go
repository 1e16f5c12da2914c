package cacheproxy

import (
	"context"
	"net"

	"github.com/fcprojects/htcacheproxy/internal/applog"
)

// Server owns the listening socket and drives the single-threaded accept
// loop: accept one connection, service it fully (including any origin
// round-trip and cache mutation), close it, accept the next. There is never
// more than one connection in flight, so the Handler beneath it is the sole
// writer of the cache table for the server's entire lifetime.
type Server struct {
	listener net.Listener
	handler  *Handler
	log      *applog.Logger
}

// Listen opens the passive socket on port and returns a Server ready to Run.
func Listen(port string, handler *Handler, log *applog.Logger) (*Server, error) {
	ln, err := listen(port)
	if err != nil {
		return nil, err
	}
	return &Server{listener: ln, handler: handler, log: log}, nil
}

// Run accepts and serves connections until ctx is cancelled or the listener
// errors. Run does not drain the handler's cache table; the caller does that
// with Handler.Shutdown after Run returns.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		s.handler.Serve(ctx, conn)
	}
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
