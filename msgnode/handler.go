package msgnode

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/primcluster/mesh/authtoken"
	"github.com/primcluster/mesh/envelope"
	"github.com/primcluster/mesh/reqwest"
	"github.com/primcluster/mesh/transport"
	"github.com/primcluster/mesh/xerr"
)

// outboundBuffer bounds how many pushed envelopes a connection's write
// loop may have queued before Send starts suspending the caller.
const outboundBuffer = 256

// ClientSessionHandler drives one accepted client transport.Session to
// completion: it pulls the session's single reqwest stream, holds every
// inbound envelope out of the normal Chain until a client-auth handshake
// succeeds, then dispatches everything after through Dispatch while a
// second goroutine drains the connection's own Sender for pushes headed
// the other way.
//
// Authentication itself happens here, once, before Dispatch is ever
// called for a given connection — echoAuthMisc's repeated-Auth case only
// ever fires for a connection that is already past this point.
type ClientSessionHandler struct {
	Node              *Node
	Auth              *authtoken.Issuer
	KeepAliveInterval time.Duration
}

// HandleSession implements transport.Handler.
func (h *ClientSessionHandler) HandleSession(ctx context.Context, sess *transport.Session) {
	stream, err := sess.AcceptReqwestStream(ctx)
	if err != nil {
		return
	}
	conn := reqwest.NewConn(stream, h.KeepAliveInterval, sess.Beat)

	state := &ConnState{SessionID: uuid.NewString(), Sender: NewChanSender(outboundBuffer)}
	conn.HandleFunc(reqwest.ResourceMessageForward, h.handleForward(conn, state))
	conn.Start(ctx)

	outDone := make(chan struct{})
	go func() {
		defer close(outDone)
		drainOutbound(ctx, h.Node, conn, state.Sender.(*ChanSender))
	}()

	defer func() {
		if state.Authed {
			h.Node.UnregisterClient(state.UserID)
			log.Printf("msgnode: session %s (user %d) closed", state.SessionID, state.UserID)
		}
	}()

	select {
	case <-ctx.Done():
	case <-sess.IdleExpired():
	case <-outDone:
	}
}

// handleForward answers the client's single ResourceMessageForward
// resource: every envelope the client ever sends, authenticated or not,
// arrives here.
func (h *ClientSessionHandler) handleForward(conn *reqwest.Conn, state *ConnState) reqwest.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		msg, err := envelope.FromSlice(payload)
		if err != nil {
			return nil, err
		}

		if !state.Authed {
			if msg.Head().Type != envelope.TypeAuth {
				return nil, xerr.New(xerr.Auth, "connection not authenticated", nil)
			}
			resp, err := h.authenticate(state, msg)
			if err != nil {
				return errorEnvelope(msg, err).AsSlice(), nil
			}
			h.Node.RegisterClient(state.UserID, state.Sender)
			return resp.AsSlice(), nil
		}

		resp, dispatchErr := Dispatch(ctx, h.Node, state, msg)
		if resp != nil {
			return resp.AsSlice(), nil
		}
		if dispatchErr != nil {
			// An error with no response envelope: reqwest drops the call
			// silently on error.
			return nil, dispatchErr
		}
		return []byte{}, nil // Noop, acknowledged with an empty frame
	}
}

// authenticate verifies the bearer token carried as msg's payload and, on
// success, marks state authed under the token's embedded user id.
func (h *ClientSessionHandler) authenticate(state *ConnState, msg *envelope.Message) (*envelope.Message, error) {
	if h.Auth == nil {
		return nil, xerr.New(xerr.Auth, "no auth issuer configured", nil)
	}
	head := msg.Head()
	userID, _, _, err := h.Auth.Verify(msg.Payload())
	if err != nil {
		return nil, xerr.New(xerr.Auth, "token verification failed", err)
	}

	state.Authed = true
	state.UserID = userID
	state.ClientTimestamp = head.Timestamp
	log.Printf("msgnode: session %s authenticated as user %d", state.SessionID, userID)

	return ackEnvelope(head, h.Node.ID, head.Timestamp), nil
}

// drainOutbound pushes every envelope sender produces to the peer on the
// other end of conn, via a server-initiated call since the peer made no
// request of its own to correlate this with. Content/control pushes are
// handed to n's RetryManager so an unacknowledged delivery gets resent.
func drainOutbound(ctx context.Context, n *Node, conn *reqwest.Conn, sender *ChanSender) {
	for {
		select {
		case msg := <-sender.Out():
			if _, err := conn.CallAsServer(ctx, reqwest.ResourcePushMsg, msg.AsSlice()); err != nil {
				return
			}
			if n.Retry != nil && msg.Head().Type.IsUserContent() {
				n.Retry.Track(msg)
			}
		case <-ctx.Done():
			return
		}
	}
}
