package msglog

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"

	"github.com/primcluster/mesh/envelope"
)

// Server accepts IPC connections on a Unix domain socket and durably
// appends every received envelope to the shard its canonicalized
// conversation key maps to.
type Server struct {
	socketPath string
	shards     []*Log
}

// NewServer opens shardCount Log files under dir. It does not bind
// socketPath; Serve does that, removing any stale socket file first.
func NewServer(socketPath, dir string, shardCount int) (*Server, error) {
	if shardCount <= 0 {
		return nil, fmt.Errorf("msglog: shardCount must be positive")
	}
	shards := make([]*Log, shardCount)
	for i := range shards {
		l, err := NewLog(dir, i)
		if err != nil {
			return nil, err
		}
		shards[i] = l
	}
	return &Server{socketPath: socketPath, shards: shards}, nil
}

// Shards returns every shard's Log, for callers that drive per-shard
// maintenance (e.g. RunRetentionSweeper) outside the request path.
func (s *Server) Shards() []*Log {
	return s.shards
}

func (s *Server) shardFor(h envelope.Head) *Log {
	hi, lo := envelope.Canonicalize(h.Sender, h.Receiver)
	fold := hi ^ (lo * 0x9E3779B97F4A7C15)
	return s.shards[fold%uint64(len(s.shards))]
}

// Append durably records msg, picking the shard by canonicalized key.
func (s *Server) Append(msg *envelope.Message) error {
	return s.shardFor(msg.Head()).AppendRaw(msg.AsSlice())
}

// Serve listens on socketPath and handles connections until ctx is
// done. Each connection is a private one-request-at-a-time channel: a
// client blocks on the ack before sending its next frame, so the
// handling goroutine never needs to demultiplex concurrent requests.
func (s *Server) Serve(ctx context.Context) error {
	os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("msglog: listen %s: %w", s.socketPath, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("msglog: accept: %w", err)
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		reqID, msg, err := readRequest(conn)
		if err != nil {
			return
		}
		if err := s.Append(msg); err != nil {
			log.Printf("msglog: append failed: %v", err)
			return
		}
		if err := writeAck(conn, reqID); err != nil {
			return
		}
	}
}

// Close releases every shard's file handle.
func (s *Server) Close() error {
	var firstErr error
	for _, l := range s.shards {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
