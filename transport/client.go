package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"
)

// Client dials outbound QUIC sessions, used by message nodes, seqnum
// nodes, and recorder nodes to connect to the scheduler, and by the
// scheduler's pairing rule to connect to a peer node.
type Client struct{}

// Connect dials cfg.Addr and returns the established Session. The caller
// is responsible for opening the reqwest stream and starting the
// idle-timer watch loop.
func (c *Client) Connect(ctx context.Context, cfg EndpointConfig) (*Session, error) {
	if cfg.TLSConfig == nil {
		return nil, ErrNotTLS
	}
	conn, err := quic.DialAddr(ctx, cfg.Addr, withALPN(cfg.TLSConfig), quicConfig(cfg.IdleTimeout))
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", cfg.Addr, err)
	}
	return &Session{conn: conn, timer: NewSharedTimer(cfg.IdleTimeout)}, nil
}

// ConnectWithRetry dials cfg.Addr, retrying with the given backoff
// schedule until one attempt succeeds or ctx is done: a reconnect loop
// for redialing on idle timeout or a dropped session.
func ConnectWithRetry(ctx context.Context, c *Client, cfg EndpointConfig, backoff []time.Duration) (*Session, error) {
	delay := time.Duration(0)
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		sess, err := c.Connect(ctx, cfg)
		if err == nil {
			return sess, nil
		}
		if attempt < len(backoff) {
			delay = backoff[attempt]
		} else {
			delay = backoff[len(backoff)-1]
		}
	}
}
