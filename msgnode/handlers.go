package msgnode

import (
	"context"
	"fmt"
	"log"

	"github.com/primcluster/mesh/envelope"
	"github.com/primcluster/mesh/xerr"
)

// preProcess is chain step 1: validates the connection is
// authenticated, captures client_timestamp, and for point-to-point
// messages assigns the next sequence number before anything else sees
// the envelope. Internal-range messages pass through untouched.
func preProcess(ctx context.Context, n *Node, conn *ConnState, msg *envelope.Message) (*envelope.Message, error) {
	h := msg.Head()
	if h.Type.IsInternalRange() {
		return nil, nil
	}
	if !conn.Authed {
		return nil, xerr.New(xerr.Auth, "connection not authenticated", nil)
	}
	conn.ClientTimestamp = h.Timestamp

	if h.IsGroup() {
		// Group seqnum assignment is deferred to the group fan-out task
		// (pushGroupMsg), once membership is known.
		return nil, nil
	}
	if n.Seqnum == nil {
		return nil, nil
	}
	hi, lo := envelope.Canonicalize(h.Sender, h.Receiver)
	seq, err := n.Seqnum.Assign(ctx, hi, lo)
	if err != nil {
		return nil, xerr.New(xerr.IO, "seqnum assign failed", err)
	}
	msg.SetSeqNum(seq)
	return nil, nil
}

// mqPusher is chain step 2: business-significant messages (content and
// control ranges) are enqueued on the message queue under topic
// msg-{local_node_id}. Failures degrade to a warning, never a reject,
// since durability is still guaranteed by the log node.
func mqPusher(ctx context.Context, n *Node, conn *ConnState, msg *envelope.Message) (*envelope.Message, error) {
	h := msg.Head()
	if !h.Type.IsUserContent() || n.MQ == nil {
		return nil, nil
	}
	topic := fmt.Sprintf("msg-%d", n.ID)
	if err := n.MQ.Push(topic, msg.AsSlice()); err != nil {
		log.Printf("msgnode: mq push to %s degraded: %v", topic, err)
	}
	return nil, nil
}

// routeUserOrControlContent is chain steps 3/4: pure-text (32-63) and
// control-text (64-95) share identical routing.
func routeUserOrControlContent(ctx context.Context, n *Node, conn *ConnState, msg *envelope.Message) (*envelope.Message, error) {
	h := msg.Head()
	if !h.Type.IsUserContent() {
		return nil, xerr.NotMineErr("not a content/control message")
	}
	return route(ctx, n, msg)
}

// businessHandler is chain step 5: business-derived types update local
// membership tables and may call out to the relationship service.
func businessHandler(ctx context.Context, n *Node, conn *ConnState, msg *envelope.Message) (*envelope.Message, error) {
	h := msg.Head()
	if !h.Type.IsBusinessRange() {
		return nil, xerr.NotMineErr("not a business message")
	}

	switch h.Type {
	case envelope.TypeAddFriend:
		if n.Rel != nil {
			if err := n.Rel.AddFriend(ctx, h.Sender, h.Receiver); err != nil {
				return nil, xerr.New(xerr.Other, "add_friend failed", err)
			}
		}
	case envelope.TypeRemoveFriend:
		if n.Rel != nil {
			if err := n.Rel.RemoveFriend(ctx, h.Sender, h.Receiver); err != nil {
				return nil, xerr.New(xerr.Other, "remove_friend failed", err)
			}
		}
	case envelope.TypeJoinGroup:
		if n.Rel != nil {
			if err := n.Rel.JoinGroup(ctx, h.Sender, h.Receiver); err != nil {
				return nil, xerr.New(xerr.Other, "join_group failed", err)
			}
		}
		n.InvalidateGroup(h.Receiver)
	case envelope.TypeLeaveGroup:
		if n.Rel != nil {
			if err := n.Rel.LeaveGroup(ctx, h.Sender, h.Receiver); err != nil {
				return nil, xerr.New(xerr.Other, "leave_group failed", err)
			}
		}
		n.InvalidateGroup(h.Receiver)
	case envelope.TypeSystemMessage, envelope.TypeSetRelation, envelope.TypeRemoteInvoke:
		// Pass-through business types with no local table to mutate yet.
	default:
		return nil, xerr.NotMineErr("unhandled business type")
	}

	return ackEnvelope(h, n.ID, conn.ClientTimestamp), nil
}

// echoAuthMisc is the final chain step: client<->server logic types
// (96-127), the last resort before an unrecognized type becomes an
// Other error.
func echoAuthMisc(ctx context.Context, n *Node, conn *ConnState, msg *envelope.Message) (*envelope.Message, error) {
	h := msg.Head()
	switch h.Type {
	case envelope.TypeAuth:
		// Authentication itself happens before Dispatch is ever called for
		// a given connection (see node auth handshake); a repeated Auth on
		// an already-authed connection is just acknowledged.
		return ackEnvelope(h, n.ID, conn.ClientTimestamp), nil
	case envelope.TypePing:
		pong := envelope.Head{Sender: h.Receiver, Receiver: h.Sender, NodeID: n.ID, Type: envelope.TypePong, Timestamp: h.Timestamp}
		resp, _ := envelope.New(pong, nil, nil)
		return resp, nil
	case envelope.TypeEcho:
		echoHead := envelope.Head{Sender: h.Receiver, Receiver: h.Sender, NodeID: n.ID, Type: envelope.TypeEcho, Timestamp: h.Timestamp}
		resp, err := envelope.New(echoHead, msg.Payload(), msg.Extension())
		if err != nil {
			return nil, xerr.New(xerr.Parse, "echo payload too large", err)
		}
		return resp, nil
	case envelope.TypeBeOffline:
		conn.Authed = false
		n.UnregisterClient(conn.UserID)
		return nil, nil
	case envelope.TypeAck:
		if n.Retry != nil {
			n.Retry.Ack(h.SeqNum)
		}
		return nil, nil
	case envelope.TypeNA, envelope.TypePong:
		return nil, nil
	default:
		if h.Type.IsUserContent() {
			// Already routed; reaching here means route forwarded it as Noop.
			return nil, nil
		}
		return nil, xerr.New(xerr.Other, fmt.Sprintf("unrecognized message type %d", h.Type), nil)
	}
}
