package msgnode

import (
	"context"
	"time"

	"github.com/primcluster/mesh/envelope"
	"github.com/primcluster/mesh/xerr"
)

// resendTimeout bounds how long a RetryManager-driven resend blocks on a
// full outbound queue before giving up on this attempt.
const resendTimeout = 5 * time.Second

// route implements the three-way routing decision for a validated
// content/control envelope: group fan-out, local delivery, or a
// cross-node forward.
func route(ctx context.Context, n *Node, msg *envelope.Message) (*envelope.Message, error) {
	h := msg.Head()

	if h.IsGroup() {
		if err := pushGroupMsg(ctx, n, msg, true); err != nil {
			return nil, xerr.New(xerr.IO, "group fan-out failed", err)
		}
		return ackEnvelope(h, n.ID, h.Timestamp), nil
	}

	targetNode, err := n.resolveNode(ctx, h.Receiver)
	if err != nil {
		return nil, xerr.New(xerr.IO, "resolve target node failed", err)
	}

	if targetNode == n.ID {
		if err := deliverLocal(ctx, n, msg); err != nil {
			return nil, xerr.New(xerr.IO, "durable log append failed", err)
		}
		return ackEnvelope(h, n.ID, h.Timestamp), nil
	}

	peer, ok := n.PeerSender(targetNode)
	if !ok {
		return nil, xerr.New(xerr.IO, "server cluster crashed: no mesh connection to target node", nil)
	}
	if err := peer.Send(ctx, msg); err != nil {
		return nil, xerr.New(xerr.IO, "forward to peer failed", err)
	}
	// The remote node produces the client-visible Ack; this hop is Noop.
	return nil, nil
}

// pushGroupMsg fans a group envelope out to every member's home
// connection: local members get a direct channel send, remote members'
// copies go out via ClusterConnectionMap. The original envelope is
// durably recorded exactly once regardless of fan-out width.
func pushGroupMsg(ctx context.Context, n *Node, msg *envelope.Message, record bool) error {
	h := msg.Head()

	if n.Seqnum != nil {
		hi, lo := envelope.Canonicalize(h.Sender, h.Receiver)
		seq, err := n.Seqnum.Assign(ctx, hi, lo)
		if err != nil {
			return err
		}
		msg.SetSeqNum(seq)
	}

	members, err := n.GroupMembers(ctx, h.Receiver)
	if err != nil {
		return err
	}

	byNode := make(map[uint32][]uint64, len(members))
	for _, member := range members {
		nodeID, err := n.resolveNode(ctx, member)
		if err != nil {
			continue // best-effort: one unreachable member doesn't block the rest
		}
		byNode[nodeID] = append(byNode[nodeID], member)
	}

	for nodeID, memberIDs := range byNode {
		if nodeID == n.ID {
			for _, member := range memberIDs {
				if sender, ok := n.ClientSender(member); ok {
					_ = sender.Send(ctx, msg)
				}
			}
			continue
		}
		peer, ok := n.PeerSender(nodeID)
		if !ok {
			continue
		}
		ps, ok := peer.(*PeerSender)
		if !ok {
			continue
		}
		for _, member := range memberIDs {
			_ = ps.SendToMember(ctx, member, msg)
		}
	}

	if record && n.Log != nil {
		return n.Log.Append(ctx, msg)
	}
	return nil
}

// deliverLocal hands msg to its locally-connected receiver, if any is
// currently online, and records it in the durable log. Shared by route's
// local branch and a peer connection's inbound PushMsg handler, which
// receives exactly the envelopes the sending node's route decided belonged
// to a client now homed here.
func deliverLocal(ctx context.Context, n *Node, msg *envelope.Message) error {
	h := msg.Head()
	if sender, ok := n.ClientSender(h.Receiver); ok {
		// Best-effort online delivery: a full channel here does not fail
		// the caller, the durable log below is unconditional.
		_ = sender.Send(ctx, msg)
	}
	if n.Log != nil {
		return n.Log.Append(ctx, msg)
	}
	return nil
}

// deliverLocalMember hands msg to memberID's locally-connected session,
// if currently online. Used for the remote half of a group fan-out:
// msg's own Receiver is the group id, not memberID, so delivery is by
// explicit member id rather than deliverLocal's Receiver lookup, and
// nothing is appended to the durable log here — pushGroupMsg already
// recorded the group message exactly once at the origin node.
func deliverLocalMember(ctx context.Context, n *Node, memberID uint64, msg *envelope.Message) {
	if sender, ok := n.ClientSender(memberID); ok {
		_ = sender.Send(ctx, msg)
	}
}

// Resend re-delivers msg to its current owning connection exactly as a
// fresh route() hit would, without re-assigning a sequence number or
// touching the durable log again. It is the resend callback a Node's
// RetryManager calls when an outbound push goes unacknowledged.
func (n *Node) Resend(msg *envelope.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), resendTimeout)
	defer cancel()

	h := msg.Head()
	targetNode, err := n.resolveNode(ctx, h.Receiver)
	if err != nil {
		return err
	}
	if targetNode == n.ID {
		sender, ok := n.ClientSender(h.Receiver)
		if !ok {
			return xerr.NotMineErr("resend target no longer locally connected")
		}
		return sender.Send(ctx, msg)
	}
	peer, ok := n.PeerSender(targetNode)
	if !ok {
		return xerr.New(xerr.IO, "resend: no mesh connection to target node", nil)
	}
	return peer.Send(ctx, msg)
}

// resolveNode answers "which message node owns userID", preferring the
// node's own id for locally-registered clients before falling back to
// the Scheduler's WhichNode.
func (n *Node) resolveNode(ctx context.Context, userID uint64) (uint32, error) {
	if _, ok := n.ClientSender(userID); ok {
		return n.ID, nil
	}
	if n.Resolver == nil {
		return n.ID, nil
	}
	return n.Resolver.WhichNode(ctx, userID)
}
