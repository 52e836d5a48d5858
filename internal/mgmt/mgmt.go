// Package mgmt implements the management socket (spec.md §6): a
// newline-delimited-JSON TCP listener accepting `status`, `reload`, and
// `replace` commands from an operator tool.
package mgmt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/shadowdhcp/shadowdhcpd/internal/agh"
)

// Request is one line of a management connection's input: a command name
// and, for `replace`, the inline reservation array.
type Request struct {
	Command      string          `json:"command"`
	Reservations json.RawMessage `json:"reservations,omitempty"`
}

// Response is one line of a management connection's output.
type Response struct {
	Success          bool   `json:"success"`
	Message          string `json:"message,omitempty"`
	ReservationCount int    `json:"reservation_count,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Handlers are the command implementations [Server] dispatches to. They're
// supplied by the caller (internal/server) rather than owned by this
// package, since applying a reload/replace means touching the shared
// reservation store the mgmt socket itself knows nothing about.
type Handlers struct {
	// Status returns the current reservation count.
	Status func() (count int, err error)

	// Reload re-reads the configuration directory from disk and swaps the
	// published index.
	Reload func() (count int, err error)

	// Replace decodes reservationsJSON (the `reservations` field's raw
	// JSON array), persists it atomically, and swaps the published index.
	Replace func(reservationsJSON json.RawMessage) (count int, err error)
}

// type check
var _ agh.Service = (*Server)(nil)

// Server is the management socket listener. Its failure never impairs DHCP
// service (spec.md §7): mgmt is best-effort, like the event sink.
type Server struct {
	addr     string
	handlers Handlers
	logger   *slog.Logger

	ln net.Listener

	mu   sync.Mutex
	wg   sync.WaitGroup
	done bool
}

// NewServer returns a Server that will listen on addr once started. addr
// may be empty, in which case Start is a no-op: the management socket is
// an optional collaborator per spec.md §1.
func NewServer(addr string, handlers Handlers, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		handlers: handlers,
		logger:   logger,
	}
}

// Start implements the [agh.Service] interface for Server.
func (s *Server) Start() (err error) {
	if s.addr == "" {
		return nil
	}

	s.ln, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mgmt: listening: %w", err)
	}

	s.wg.Add(1)
	go s.accept()

	return nil
}

// Shutdown implements the [agh.Service] interface for Server.
func (s *Server) Shutdown(ctx context.Context) (err error) {
	if s.ln == nil {
		return nil
	}

	s.mu.Lock()
	s.done = true
	s.mu.Unlock()

	if err = s.ln.Close(); err != nil {
		return err
	}

	stopped := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// accept is the listener's main loop: one goroutine per connection, until
// the listener is closed by [Server.Shutdown].
func (s *Server) accept() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			done := s.done
			s.mu.Unlock()

			if !done {
				s.logger.Warn("mgmt: accept", slogutil.KeyError, err)
			}

			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn serves newline-delimited-JSON requests on conn until EOF or a
// read error.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	w := bufio.NewWriter(conn)

	for scanner.Scan() {
		resp := s.dispatch(scanner.Bytes())

		b, err := json.Marshal(resp)
		if err != nil {
			return
		}

		b = append(b, '\n')
		if _, err = w.Write(b); err != nil {
			return
		}

		if err = w.Flush(); err != nil {
			return
		}
	}
}

// dispatch decodes and runs one request line, never panicking or
// returning an error itself: every failure becomes a Response with
// Success=false.
func (s *Server) dispatch(line []byte) (resp Response) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{Success: false, Error: "decoding request: " + err.Error()}
	}

	switch req.Command {
	case "status":
		count, err := s.handlers.Status()
		if err != nil {
			return Response{Success: false, Error: err.Error()}
		}

		return Response{Success: true, ReservationCount: count}
	case "reload":
		count, err := s.handlers.Reload()
		if err != nil {
			return Response{Success: false, Error: err.Error()}
		}

		return Response{Success: true, Message: "reloaded", ReservationCount: count}
	case "replace":
		count, err := s.handlers.Replace(req.Reservations)
		if err != nil {
			return Response{Success: false, Error: err.Error()}
		}

		return Response{Success: true, Message: "replaced", ReservationCount: count}
	default:
		return Response{Success: false, Error: "unknown command: " + req.Command}
	}
}
