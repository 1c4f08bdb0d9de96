package msgnode

import (
	"context"
	"log"

	"github.com/primcluster/mesh/envelope"
	"github.com/primcluster/mesh/xerr"
)

// ConnState is the per-connection inner state threaded through every
// handler in the chain.
type ConnState struct {
	SessionID       string // opaque, for log correlation only
	Authed          bool
	ClientTimestamp uint64
	UserID          uint64 // once authenticated
	PeerNodeID      uint32 // set instead of UserID for node<->node connections
	IsPeer          bool
	Sender          Sender // this connection's own outbound handle
}

// HandlerFunc is one link in the ordered chain. It returns:
//   - (resp, nil): resp is the final client-visible response, chain stops.
//   - (nil, nil): Noop, silently consumed, chain continues.
//   - (nil, xerr with Kind==NotMine): chain continues to the next handler.
//   - (nil, any other xerr): chain aborts, an error envelope is sent.
type HandlerFunc func(ctx context.Context, n *Node, conn *ConnState, msg *envelope.Message) (*envelope.Message, error)

// Chain is the fixed, ordered handler pipeline every inbound message
// runs through.
func Chain() []HandlerFunc {
	return []HandlerFunc{
		preProcess,
		mqPusher,
		routeUserOrControlContent,
		businessHandler,
		echoAuthMisc,
	}
}

// Dispatch runs msg through chain in order and returns the envelope (if
// any) to send back to the connection that produced msg.
func Dispatch(ctx context.Context, n *Node, conn *ConnState, msg *envelope.Message) (*envelope.Message, error) {
	for _, h := range Chain() {
		resp, err := h(ctx, n, conn, msg)
		if err == nil {
			if resp != nil {
				return resp, nil
			}
			continue // Noop
		}
		if xerr.IsNotMine(err) {
			continue
		}
		return errorEnvelope(msg, err), err
	}
	return nil, nil
}

// errorEnvelope builds the client-visible error response for an aborted
// chain, echoing the client's own timestamp so it can correlate RTT.
func errorEnvelope(orig *envelope.Message, cause error) *envelope.Message {
	h := orig.Head()
	errHead := envelope.Head{
		Sender:    h.Receiver,
		Receiver:  h.Sender,
		Type:      envelope.TypeError,
		Timestamp: h.Timestamp,
	}
	resp, err := envelope.New(errHead, []byte(cause.Error()), nil)
	if err != nil {
		// cause.Error() longer than MaxPayloadLength: truncate rather than
		// fail to respond at all.
		log.Printf("msgnode: error message truncated: %v", err)
		resp, _ = envelope.New(errHead, []byte(cause.Error())[:envelope.MaxPayloadLength], nil)
	}
	return resp
}

// ackEnvelope builds the Ack sent back for a successfully routed,
// locally-owned message.
func ackEnvelope(h envelope.Head, myID uint32, clientTimestamp uint64) *envelope.Message {
	ack := envelope.Head{
		Sender:    h.Receiver,
		Receiver:  h.Sender,
		NodeID:    myID,
		Type:      envelope.TypeAck,
		Timestamp: clientTimestamp,
		SeqNum:    h.SeqNum,
	}
	msg, _ := envelope.New(ack, nil, nil)
	return msg
}
