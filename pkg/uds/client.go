package uds

import (
	"context"
	"net"
	"time"

	"main/pkg/exception"
)

const unixNetwork = "unix"

// Client dials Unix domain sockets. A zero DialTimeout means dialing
// blocks until the kernel gives up or the context is canceled.
type Client struct {
	path    string
	timeout time.Duration
}

// NewClient creates a client for the provided socket path.
func NewClient(path string) (*Client, error) {
	if path == "" {
		return nil, exception.ErrEmptyPathUDS
	}
	return &Client{path: path}, nil
}

// WithDialTimeout sets an upper bound on how long a dial may take.
func (c *Client) WithDialTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// Path returns the configured socket path.
func (c *Client) Path() string {
	if c == nil {
		return ""
	}
	return c.path
}

// Dial opens a Unix domain socket connection.
func (c *Client) Dial() (*net.UnixConn, error) {
	return c.DialContext(context.Background())
}

// DialContext opens a Unix domain socket connection, honoring ctx.
func (c *Client) DialContext(ctx context.Context) (*net.UnixConn, error) {
	if c == nil {
		return nil, exception.ErrNilClientUDS
	}
	if c.path == "" {
		return nil, exception.ErrEmptyPathUDS
	}
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, unixNetwork, c.path)
	if err != nil {
		return nil, err
	}
	return conn.(*net.UnixConn), nil
}
