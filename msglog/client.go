package msglog

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/primcluster/mesh/envelope"
)

// Client implements msgnode.LogClient over the Unix-domain-socket IPC
// boundary: one connection, serialized per-call since the wire protocol
// is a strict request-then-ack pair with no other correlation.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	nextID atomic.Uint64
}

// Dial connects to a msglog Server listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := dialUnix(socketPath)
	if err != nil {
		return nil, fmt.Errorf("msglog: dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Append sends msg and blocks until the log node acks it or ctx is done.
func (c *Client) Append(ctx context.Context, msg *envelope.Message) error {
	reqID := c.nextID.Add(1)

	type result struct {
		ackID uint64
		err   error
	}
	done := make(chan result, 1)

	c.mu.Lock()
	go func() {
		defer c.mu.Unlock()
		if err := writeRequest(c.conn, reqID, msg); err != nil {
			done <- result{err: err}
			return
		}
		ackID, err := readAck(c.conn)
		done <- result{ackID: ackID, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return r.err
		}
		if r.ackID != reqID {
			return fmt.Errorf("msglog: ack mismatch: sent %d, got %d", reqID, r.ackID)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
