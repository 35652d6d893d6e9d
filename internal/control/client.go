package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

const (
	// DefaultDialTimeout bounds the unix-socket connect attempt.
	DefaultDialTimeout = 2 * time.Second
	// DefaultResponseTimeout bounds the write-and-acknowledge exchange.
	DefaultResponseTimeout = 2 * time.Second

	maxAckBytes = 64
)

var (
	// ErrUnreachable indicates no instance is listening on the endpoint.
	ErrUnreachable = errors.New("player instance not reachable")
	// ErrRejected indicates the instance acknowledged with ERROR.
	ErrRejected = errors.New("player rejected command")
	// ErrTransport indicates the exchange failed mid-flight.
	ErrTransport = errors.New("control channel transport failure")
)

// Client sends one command per connection to the player control endpoint.
type Client struct {
	socketPath      string
	dialTimeout     time.Duration
	responseTimeout time.Duration
}

// ClientOptions configures a control channel client.
type ClientOptions struct {
	DialTimeout     time.Duration
	ResponseTimeout time.Duration
}

// NewClient constructs a client for the given endpoint path.
func NewClient(socketPath string, opts ClientOptions) (*Client, error) {
	socketPath = strings.TrimSpace(socketPath)
	if socketPath == "" {
		return nil, errors.New("socket path is required")
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	responseTimeout := opts.ResponseTimeout
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}
	return &Client{
		socketPath:      socketPath,
		dialTimeout:     dialTimeout,
		responseTimeout: responseTimeout,
	}, nil
}

// SocketPath returns the endpoint path this client targets.
func (c *Client) SocketPath() string {
	if c == nil {
		return ""
	}
	return c.socketPath
}

// Send opens one connection, writes one encoded command, reads the short
// acknowledgment, and closes the connection. Every network operation carries
// a deadline so a hung listener cannot stall the caller.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c == nil {
		return errors.New("control client is nil")
	}

	record, err := msg.Encode()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "unix", c.socketPath)
	if err != nil {
		if isEndpointAbsent(err) {
			return fmt.Errorf("%w: %s", ErrUnreachable, c.socketPath)
		}
		return fmt.Errorf("%w: dial %s: %v", ErrTransport, c.socketPath, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if err := conn.SetDeadline(time.Now().Add(c.responseTimeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %v", ErrTransport, err)
	}

	if _, err := conn.Write(record); err != nil {
		return fmt.Errorf("%w: write %s command: %v", ErrTransport, msg.Command, err)
	}

	ack, err := readAck(conn)
	if err != nil {
		return fmt.Errorf("%w: read acknowledgment for %s: %v", ErrTransport, msg.Command, err)
	}
	if ack != AckOK {
		return fmt.Errorf("%w: %s answered %q", ErrRejected, msg.Command, ack)
	}
	return nil
}

// Ping probes the endpoint with one PING exchange.
func (c *Client) Ping(ctx context.Context) error {
	return c.Send(ctx, Ping())
}

func readAck(conn net.Conn) (string, error) {
	reader := bufio.NewReaderSize(io.LimitReader(conn, maxAckBytes), maxAckBytes)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	ack := strings.TrimSpace(line)
	if ack == "" {
		return "", errors.New("empty acknowledgment")
	}
	return ack, nil
}

func isEndpointAbsent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) {
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}
