package msgnode

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/primcluster/mesh/envelope"
	"github.com/primcluster/mesh/reqwest"
	"github.com/primcluster/mesh/transport"
)

// PeerSessionHandler drives one accepted message-node-to-message-node
// mesh connection: an initial ResourceNodeAuth exchange learns the
// peer's node id, after which pushed envelopes are decoded and delivered
// exactly as a local route() hit would, and this node's own
// locally-destined-elsewhere traffic drains out the other direction.
type PeerSessionHandler struct {
	Node              *Node
	SelfID            uint32
	KeepAliveInterval time.Duration
}

// peerPushHandler builds the ResourcePushMsg handler shared by both ends
// of a message-node-to-message-node connection: decode the forwarded
// envelope and deliver it exactly as a local route() hit would. This is
// the single-target forward path (route's cross-node branch); the
// envelope's own Receiver already names the right local connection, and
// the origin node recorded nothing durably for it, so deliverLocal's
// append here is the message's one and only durable record.
func peerPushHandler(n *Node) reqwest.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		msg, err := envelope.FromSlice(payload)
		if err != nil {
			return nil, err
		}
		if err := deliverLocal(ctx, n, msg); err != nil {
			return nil, err
		}
		return []byte{}, nil
	}
}

// peerGroupPushHandler builds the ResourceGroupPushMsg handler: the
// group fan-out path's remote half. Unlike peerPushHandler, the payload
// carries the specific member id alongside the envelope (the envelope's
// own Receiver is still the group id, not any one member), and delivery
// here never touches the durable log — pushGroupMsg already recorded the
// group message exactly once at the origin node before fanning it out.
func peerGroupPushHandler(n *Node) reqwest.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		if len(payload) < 8 {
			return nil, errors.New("msgnode: group push payload must carry an 8-byte member id")
		}
		memberID := binary.BigEndian.Uint64(payload[:8])
		msg, err := envelope.FromSlice(payload[8:])
		if err != nil {
			return nil, err
		}
		deliverLocalMember(ctx, n, memberID, msg)
		return []byte{}, nil
	}
}

// peerAuthHandler builds the accepting side's ResourceNodeAuth handler:
// learn the dialing peer's node id, signal done, and answer with this
// node's own id.
func peerAuthHandler(selfID uint32, peerID *uint32, done chan struct{}) reqwest.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		if len(payload) != 4 {
			return nil, errors.New("msgnode: peer auth payload must be 4 bytes")
		}
		*peerID = binary.BigEndian.Uint32(payload)
		close(done)
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, selfID)
		return out, nil
	}
}

// PeerSender is the Sender a mesh connection registers itself under:
// ordinary single-target pushes queue through the same bounded
// channel/drainOutbound path a client connection uses, but group
// fan-out addresses a specific member rather than this connection's
// envelope Receiver, so SendToMember bypasses the queue and frames
// (member id, envelope) directly over the connection's own reqwest.Conn.
type PeerSender struct {
	*ChanSender
	conn *reqwest.Conn
}

// NewPeerSender builds a PeerSender backed by conn with the given
// outbound queue capacity.
func NewPeerSender(capacity int, conn *reqwest.Conn) *PeerSender {
	return &PeerSender{ChanSender: NewChanSender(capacity), conn: conn}
}

// SendToMember sends msg to this peer addressed at memberID specifically,
// for the remote half of a group fan-out.
func (p *PeerSender) SendToMember(ctx context.Context, memberID uint64, msg *envelope.Message) error {
	raw := msg.AsSlice()
	payload := make([]byte, 8+len(raw))
	binary.BigEndian.PutUint64(payload[:8], memberID)
	copy(payload[8:], raw)
	_, err := p.conn.CallAsServer(ctx, reqwest.ResourceGroupPushMsg, payload)
	return err
}

// HandleSession implements transport.Handler.
func (h *PeerSessionHandler) HandleSession(ctx context.Context, sess *transport.Session) {
	stream, err := sess.AcceptReqwestStream(ctx)
	if err != nil {
		return
	}
	conn := reqwest.NewConn(stream, h.KeepAliveInterval, sess.Beat)

	var peerID uint32
	authed := make(chan struct{})
	conn.HandleFunc(reqwest.ResourceNodeAuth, peerAuthHandler(h.SelfID, &peerID, authed))
	conn.HandleFunc(reqwest.ResourcePushMsg, peerPushHandler(h.Node))
	conn.HandleFunc(reqwest.ResourceGroupPushMsg, peerGroupPushHandler(h.Node))
	conn.Start(ctx)

	select {
	case <-authed:
	case <-ctx.Done():
		return
	case <-sess.IdleExpired():
		return
	}

	sender := NewPeerSender(outboundBuffer, conn)
	h.Node.RegisterPeer(peerID, sender)
	defer h.Node.UnregisterPeer(peerID)

	outDone := make(chan struct{})
	go func() {
		defer close(outDone)
		drainOutbound(ctx, h.Node, conn, sender.ChanSender)
	}()

	select {
	case <-ctx.Done():
	case <-sess.IdleExpired():
	case <-outDone:
	}
}

// DialPeer opens sess's reqwest stream from the calling side, performs
// the mirror-image auth handshake, and registers the resulting
// connection as peerID's outbound sender on node. Callers run this after
// transport.Client.Connect succeeds against another message node's
// listener.
func DialPeer(ctx context.Context, node *Node, selfID uint32, sess *transport.Session, keepAliveInterval time.Duration) (uint32, error) {
	stream, err := sess.OpenReqwestStream(ctx)
	if err != nil {
		return 0, err
	}
	conn := reqwest.NewConn(stream, keepAliveInterval, sess.Beat)
	conn.HandleFunc(reqwest.ResourcePushMsg, peerPushHandler(node))
	conn.HandleFunc(reqwest.ResourceGroupPushMsg, peerGroupPushHandler(node))
	conn.Start(ctx)

	self := make([]byte, 4)
	binary.BigEndian.PutUint32(self, selfID)
	resp, err := conn.Call(ctx, reqwest.ResourceNodeAuth, self)
	if err != nil {
		return 0, err
	}
	if len(resp) != 4 {
		return 0, errors.New("msgnode: peer auth response must be 4 bytes")
	}
	peerID := binary.BigEndian.Uint32(resp)

	sender := NewPeerSender(outboundBuffer, conn)
	node.RegisterPeer(peerID, sender)
	go drainOutbound(ctx, node, conn, sender.ChanSender)

	return peerID, nil
}
