package seqnode

import (
	"context"
	"time"

	"github.com/primcluster/mesh/reqwest"
	"github.com/primcluster/mesh/transport"
)

// SessionHandler drives one accepted message-node-to-seqnode session to
// completion: pull the session's reqwest stream, bind the Assign
// resource, then idle out exactly like any other mesh connection.
type SessionHandler struct {
	Node              *Node
	KeepAliveInterval time.Duration
}

// HandleSession implements transport.Handler.
func (h *SessionHandler) HandleSession(ctx context.Context, sess *transport.Session) {
	stream, err := sess.AcceptReqwestStream(ctx)
	if err != nil {
		return
	}
	conn := reqwest.NewConn(stream, h.KeepAliveInterval, sess.Beat)
	h.Node.BindHandlers(conn)
	conn.Start(ctx)

	transport.WatchIdle(ctx, sess)
}
