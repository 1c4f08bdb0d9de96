package cluster

import (
	"context"
	"fmt"

	"github.com/primcluster/mesh/reqwest"
)

// RegistryForwarder implements MeshForwarder over the same reqwest
// callers the Scheduler already keeps in Registry for NodeAuth: forwarding
// an externally-submitted envelope to nodeID is just another
// ResourcePushMsg call, the same resource a message node's own peer
// connections use to exchange traffic with each other.
type RegistryForwarder struct {
	Registry *Registry
}

// ForwardToNode implements MeshForwarder.
func (f *RegistryForwarder) ForwardToNode(ctx context.Context, nodeID uint32, envelope []byte) error {
	caller, ok := f.Registry.CallerOf(nodeID)
	if !ok {
		return fmt.Errorf("cluster: no live connection to node %d", nodeID)
	}
	_, err := caller.CallAsServer(ctx, reqwest.ResourcePushMsg, envelope)
	return err
}
