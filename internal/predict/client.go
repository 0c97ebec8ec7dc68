package predict

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"main/pkg/uds"
)

// SidecarClient talks JSON lines to a local model sidecar over a Unix
// domain socket: one request line out, one response line back. Calls are
// serialized on a single connection, reopened on error.
type SidecarClient struct {
	client *uds.Client

	mu     sync.Mutex
	conn   *net.UnixConn
	reader *bufio.Reader
}

// NewSidecarClient prepares a client for the socket path.
func NewSidecarClient(path string) (*SidecarClient, error) {
	client, err := uds.NewClient(path)
	if err != nil {
		return nil, errors.Wrap(err, "new uds client")
	}
	return &SidecarClient{client: client}, nil
}

// Score sends one request and waits for the matching response line.
func (c *SidecarClient) Score(ctx context.Context, req ScoreRequest) (ScoreResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConn(ctx); err != nil {
		return ScoreResponse{}, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			c.reset()
			return ScoreResponse{}, errors.Wrap(err, "set deadline")
		}
	} else {
		if err := c.conn.SetDeadline(time.Time{}); err != nil {
			c.reset()
			return ScoreResponse{}, errors.Wrap(err, "clear deadline")
		}
	}

	line, err := json.Marshal(req)
	if err != nil {
		return ScoreResponse{}, errors.Wrap(err, "marshal request")
	}
	line = append(line, '\n')
	if _, err := c.conn.Write(line); err != nil {
		c.reset()
		return ScoreResponse{}, errors.Wrap(err, "write request")
	}

	raw, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.reset()
		return ScoreResponse{}, errors.Wrap(err, "read response")
	}
	var resp ScoreResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.reset()
		return ScoreResponse{}, errors.Wrap(err, "unmarshal response")
	}
	return resp, nil
}

// Close tears down the connection.
func (c *SidecarClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

func (c *SidecarClient) ensureConn(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	conn, err := c.client.DialContext(ctx)
	if err != nil {
		return errors.Wrap(err, "dial sidecar").With("path", c.client.Path())
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func (c *SidecarClient) reset() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}
