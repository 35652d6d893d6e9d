package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	bindProbeTimeout = 500 * time.Millisecond
	maxRecordBytes   = 4096
)

// ErrAlreadyRunning indicates another instance holds the control endpoint.
var ErrAlreadyRunning = errors.New("another player instance is already listening")

// Handler processes one decoded command. A non-nil error maps to an ERROR
// acknowledgment; nil maps to OK.
type Handler func(Message) error

// Server is the reference control endpoint listener. Binding the well-known
// socket path is the single-instance enforcement point: a live listener on
// the path makes Listen fail with ErrAlreadyRunning, while a stale socket
// file left by a dead instance is removed before binding.
type Server struct {
	socketPath string
	handler    Handler

	mu       sync.Mutex
	listener net.Listener
}

// NewServer constructs a control endpoint server.
func NewServer(socketPath string, handler Handler) (*Server, error) {
	socketPath = strings.TrimSpace(socketPath)
	if socketPath == "" {
		return nil, errors.New("socket path is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	return &Server{socketPath: socketPath, handler: handler}, nil
}

// Listen claims the control endpoint. The live-listener probe happens before
// stale-socket cleanup so an active instance is never unbound.
func (s *Server) Listen(ctx context.Context) error {
	if s == nil {
		return errors.New("control server is nil")
	}

	if _, err := os.Stat(s.socketPath); err == nil {
		probeCtx, cancel := context.WithTimeout(ctx, bindProbeTimeout)
		defer cancel()

		var dialer net.Dialer
		if conn, dialErr := dialer.DialContext(probeCtx, "unix", s.socketPath); dialErr == nil {
			_ = conn.Close()
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.socketPath)
		}
		if removeErr := os.Remove(s.socketPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return fmt.Errorf("remove stale socket %s: %w", s.socketPath, removeErr)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("bind control endpoint %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

// Serve accepts connections until the context is canceled or the listener is
// closed. Each connection carries exactly one command and one acknowledgment.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("control server is nil")
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("server is not listening")
	}

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}
		s.handleConn(conn)
	}
}

// Close shuts the listener and removes the socket file.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener == nil {
		return nil
	}
	err := listener.Close()
	if removeErr := os.Remove(s.socketPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) && err == nil {
		err = removeErr
	}
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	_ = conn.SetDeadline(time.Now().Add(DefaultResponseTimeout))

	reader := bufio.NewReaderSize(conn, maxRecordBytes)
	record, err := reader.ReadBytes('\n')
	if err != nil && len(record) == 0 {
		return
	}

	msg, err := Decode(record)
	if err != nil {
		_, _ = conn.Write([]byte(AckError + "\n"))
		return
	}
	if handleErr := s.handler(msg); handleErr != nil {
		_, _ = conn.Write([]byte(AckError + "\n"))
		return
	}
	_, _ = conn.Write([]byte(AckOK + "\n"))
}
