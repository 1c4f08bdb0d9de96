package transport

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/quic-go/quic-go"
)

// Generator produces a fresh per-connection handler. Server calls it once
// per accepted session so connection-scoped state (authed, generic map,
// node id, ...) never leaks between peers.
type Generator func() Handler

// Handler drives one accepted session to completion. Implementations
// typically open the session's reqwest Conn, register resource handlers,
// and block until the session closes.
type Handler interface {
	HandleSession(ctx context.Context, sess *Session)
}

// Server accepts QUIC sessions and hands each one to a freshly generated
// Handler, enforcing a connection-count ceiling.
type Server struct {
	active atomic.Int64
}

// Run listens on cfg.Addr until ctx is cancelled, spawning gen() per
// accepted session.
func (s *Server) Run(ctx context.Context, cfg ListenerConfig, gen Generator) error {
	if cfg.TLSConfig == nil {
		return ErrNotTLS
	}
	listener, err := quic.ListenAddr(cfg.Addr, withALPN(cfg.TLSConfig), quicConfig(cfg.IdleTimeout))
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("transport: accept: %w", err)
		}

		if cfg.MaxConnections > 0 && s.active.Load() >= int64(cfg.MaxConnections) {
			_ = conn.CloseWithError(0, "too many connections")
			continue
		}

		sess := &Session{conn: conn, timer: NewSharedTimer(cfg.IdleTimeout)}
		s.active.Add(1)
		go func() {
			defer s.active.Add(-1)
			defer sess.Close(0, "session ended")
			handler := gen()
			handler.HandleSession(ctx, sess)
		}()
	}
}

// Active reports the number of sessions currently being served.
func (s *Server) Active() int64 { return s.active.Load() }

// WatchIdle closes sess once its SharedTimer fires, logging the reason.
// Callers that want custom idle behavior (e.g. scheduler redial) should
// select on sess.IdleExpired() themselves instead of calling this.
func WatchIdle(ctx context.Context, sess *Session) {
	select {
	case <-sess.IdleExpired():
		log.Printf("transport: closing idle session %s", sess.RemoteAddr())
		_ = sess.Close(1, "idle timeout")
	case <-ctx.Done():
	}
}
