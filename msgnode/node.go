// Package msgnode implements the per-connection message pipeline: the
// ordered handler chain, the routing decision between local delivery,
// group fan-out, and cross-node forwarding, and the tables a message
// node keeps about its own clients and cluster peers.
//
// A central map-holding struct fed by per-connection goroutines, with
// user/peer-keyed sender handles standing in for topic-keyed subscriber
// sets.
package msgnode

import (
	"context"
	"sync"

	"github.com/primcluster/mesh/envelope"
)

// Sender is a bounded, back-pressured handle to one outbound
// destination: a client's own connection, or a cluster peer's mesh
// connection. Send suspends when the outbound buffer is full until ctx
// is done; callers pass a context carrying the handler timeout.
type Sender interface {
	Send(ctx context.Context, msg *envelope.Message) error
}

// ChanSender is the concrete Sender backing both ClientConnectionMap and
// ClusterConnectionMap entries: a bounded channel drained by the
// connection's own write loop.
type ChanSender struct {
	ch chan *envelope.Message
}

// NewChanSender builds a Sender with the given channel capacity.
func NewChanSender(capacity int) *ChanSender {
	return &ChanSender{ch: make(chan *envelope.Message, capacity)}
}

// Send implements Sender.
func (s *ChanSender) Send(ctx context.Context, msg *envelope.Message) error {
	select {
	case s.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Out returns the channel the connection's write loop drains.
func (s *ChanSender) Out() <-chan *envelope.Message { return s.ch }

// SeqnumClient assigns the next sequence number for a canonicalized
// conversation key.
type SeqnumClient interface {
	Assign(ctx context.Context, keyHi, keyLo uint64) (uint64, error)
}

// MQProducer fire-and-forgets a business-significant envelope onto the
// message queue. Implemented by mq.Registry.
type MQProducer interface {
	Push(topic string, payload []byte) error
}

// LogClient durably records an envelope via the colocated log node.
type LogClient interface {
	Append(ctx context.Context, msg *envelope.Message) error
}

// NodeResolver answers WhichNode for a user id, backed by the Scheduler.
type NodeResolver interface {
	WhichNode(ctx context.Context, userID uint64) (nodeID uint32, err error)
}

// GroupLister answers GroupUserList, backed by the Scheduler's
// relationship passthrough.
type GroupLister interface {
	GroupUserList(ctx context.Context, groupID uint64) ([]uint64, error)
}

// RelationshipClient covers the business-handler RPCs this node makes to
// the external relationship service (JoinGroup/LeaveGroup/AddFriend/...).
type RelationshipClient interface {
	AddFriend(ctx context.Context, userID, friendID uint64) error
	RemoveFriend(ctx context.Context, userID, friendID uint64) error
	JoinGroup(ctx context.Context, userID, groupID uint64) error
	LeaveGroup(ctx context.Context, userID, groupID uint64) error
}

// Node holds the per-message-node tables — client connections, cluster
// peer connections, and the cached group membership — plus the external
// collaborators every handler in the chain may call.
type Node struct {
	ID uint32

	clientConns  sync.Map // user_id uint64 -> Sender (ClientConnectionMap)
	clusterConns sync.Map // peer_node_id uint32 -> Sender (ClusterConnectionMap)
	groupCache   sync.Map // group_id uint64 -> []uint64 (GroupUserList)

	Seqnum   SeqnumClient
	MQ       MQProducer
	Log      LogClient
	Resolver NodeResolver
	Groups   GroupLister
	Rel      RelationshipClient
	Retry    *RetryManager
}

// NewNode builds a Node with no registered clients or peers.
func NewNode(id uint32) *Node {
	return &Node{ID: id}
}

// RegisterClient records sender as userID's connection handle.
func (n *Node) RegisterClient(userID uint64, sender Sender) {
	n.clientConns.Store(userID, sender)
}

// UnregisterClient removes userID's connection handle.
func (n *Node) UnregisterClient(userID uint64) {
	n.clientConns.Delete(userID)
}

// ClientSender returns userID's live connection handle, if any.
func (n *Node) ClientSender(userID uint64) (Sender, bool) {
	v, ok := n.clientConns.Load(userID)
	if !ok {
		return nil, false
	}
	return v.(Sender), true
}

// RegisterPeer records sender as peerNodeID's mesh connection handle.
func (n *Node) RegisterPeer(peerNodeID uint32, sender Sender) {
	n.clusterConns.Store(peerNodeID, sender)
}

// UnregisterPeer removes peerNodeID's mesh connection handle.
func (n *Node) UnregisterPeer(peerNodeID uint32) {
	n.clusterConns.Delete(peerNodeID)
}

// PeerSender returns peerNodeID's live mesh connection handle, if any.
func (n *Node) PeerSender(peerNodeID uint32) (Sender, bool) {
	v, ok := n.clusterConns.Load(peerNodeID)
	if !ok {
		return nil, false
	}
	return v.(Sender), true
}

// GroupMembers returns groupID's member set, cold-loading via Groups on
// first miss and caching the result.
func (n *Node) GroupMembers(ctx context.Context, groupID uint64) ([]uint64, error) {
	if v, ok := n.groupCache.Load(groupID); ok {
		return v.([]uint64), nil
	}
	if n.Groups == nil {
		return nil, nil
	}
	members, err := n.Groups.GroupUserList(ctx, groupID)
	if err != nil {
		return nil, err
	}
	n.groupCache.Store(groupID, members)
	return members, nil
}

// InvalidateGroup drops a cached membership list, e.g. after a
// JoinGroup/LeaveGroup mutation this node observes locally.
func (n *Node) InvalidateGroup(groupID uint64) {
	n.groupCache.Delete(groupID)
}
