// Package cluster implements the Scheduler: cluster-wide node membership,
// the sticky user->node hint cache, the deterministic mesh-pairing rule,
// and the external Relationship/Admin RPC boundary.
package cluster

// NodeClass partitions the node-id space so a bare id reveals its node's
// role without a lookup, letting the mesh classify peers cheaply during
// registration.
type NodeClass int

const (
	ClassMessage NodeClass = iota
	ClassSeqnum
	ClassRecorder
	ClassScheduler
)

// NodeIDRange is a half-open [Start, End) band of the node-id space
// reserved for one node class.
type NodeIDRange struct {
	Start uint32
	End   uint32
}

// Ring partition of the node-id space. Message nodes get the lowest band,
// then seqnum nodes, then schedulers; recorder ids sit highest.
var nodeIDRanges = map[NodeClass]NodeIDRange{
	ClassMessage:   {Start: 1 << 17, End: 1<<17 + 1<<16},
	ClassSeqnum:    {Start: 1 << 18, End: 1<<18 + 1<<16},
	ClassRecorder:  {Start: 1 << 20, End: 1<<20 + 1<<16},
	ClassScheduler: {Start: 1 << 19, End: 1<<19 + 1<<16},
}

// RangeFor returns the id band reserved for class.
func RangeFor(class NodeClass) NodeIDRange {
	return nodeIDRanges[class]
}

// ClassOf classifies a node id by which band it falls in. The zero value
// (ClassMessage) is returned, with ok=false, for an id outside every band.
func ClassOf(nodeID uint32) (class NodeClass, ok bool) {
	for c, r := range nodeIDRanges {
		if nodeID >= r.Start && nodeID < r.End {
			return c, true
		}
	}
	return ClassMessage, false
}

// Contains reports whether id falls within r.
func (r NodeIDRange) Contains(id uint32) bool {
	return id >= r.Start && id < r.End
}
