package cluster

import (
	"context"
	"time"

	"github.com/primcluster/mesh/reqwest"
	"github.com/primcluster/mesh/transport"
)

// SessionHandler drives one accepted peer transport.Session to
// completion: it pulls the session's single reqwest stream, binds every
// Scheduler resource on it, and blocks until the session's idle timer
// fires or ctx is cancelled. Registry.Auth/Register/Unregister take it
// from there; this type exists only to get a reqwest.Conn out of a raw
// QUIC session and back into BindHandlers.
type SessionHandler struct {
	Scheduler         *Scheduler
	KeepAliveInterval time.Duration
}

// HandleSession implements transport.Handler.
func (h *SessionHandler) HandleSession(ctx context.Context, sess *transport.Session) {
	stream, err := sess.AcceptReqwestStream(ctx)
	if err != nil {
		return
	}
	conn := reqwest.NewConn(stream, h.KeepAliveInterval, sess.Beat)
	h.Scheduler.BindHandlers(conn)
	conn.Start(ctx)

	transport.WatchIdle(ctx, sess)
}
