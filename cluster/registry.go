package cluster

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/primcluster/mesh/reqwest"
)

// ServerInfo is the node descriptor exchanged during NodeAuth and
// broadcast on register/unregister.
type ServerInfo struct {
	ID              uint32
	ServiceAddress  string
	ClusterAddress  string // empty if this node accepts no mesh connections
	ConnectionID    uint64
	Status          string
	Type            NodeType
	Load            int32
	Fingerprint     int64 // changes across restarts; carried on the wire, not compared by Registry
}

// NodeType is the closed set of roles a registered node can advertise.
type NodeType int

const (
	TypeSchedulerCluster NodeType = iota
	TypeSchedulerClient
	TypeMessageCluster
	TypeRecorderCluster
	TypeSeqnumCluster
	TypeMsgprocessorCluster
)

// ErrNoNodeAvailable is returned by WhichNode when no message node is
// currently registered.
var ErrNoNodeAvailable = errors.New("cluster: no node available")

// ErrUnknownNode is returned when an unregister names a node that was
// never registered.
var ErrUnknownNode = errors.New("cluster: unknown node")

// HintCache is the external, eventually-consistent user->node hint store.
// A process-local map suffices for tests and for single-scheduler
// deployments; production wiring plugs in github.com/redis/go-redis/v9
// behind this interface (see RedisHintCache).
type HintCache interface {
	Get(ctx context.Context, userID uint64) (nodeID uint32, ok bool, err error)
	Set(ctx context.Context, userID uint64, nodeID uint32) error
	Evict(ctx context.Context, userID uint64) error
}

// Registry is the Scheduler's membership state: live nodes by class, the
// reqwest callers used to reach them, and the sticky hint cache used to
// resolve WhichNode. Single-writer-per-key discipline: every mutation
// below takes the registry lock for the whole operation, guarding the
// node maps and class sets as one unit rather than per-field.
type Registry struct {
	mu sync.RWMutex

	servers map[uint32]ServerInfo          // ServerInfoMap
	callers map[uint32]*reqwest.Conn        // ClientCallerMap
	classes map[NodeClass]map[uint32]struct{} // MessageNodeSet / SeqnumNodeSet / RecorderNodeSet

	hint HintCache

	// activeNodes is the set of currently registered node ids, of every
	// class; IsPartitioned compares its size against a quorum.
	activeNodes map[uint32]struct{}
}

// NewRegistry builds an empty registry backed by hint.
func NewRegistry(hint HintCache) *Registry {
	return &Registry{
		servers: make(map[uint32]ServerInfo),
		callers: make(map[uint32]*reqwest.Conn),
		classes: map[NodeClass]map[uint32]struct{}{
			ClassMessage:  {},
			ClassSeqnum:   {},
			ClassRecorder: {},
		},
		hint:        hint,
		activeNodes: make(map[uint32]struct{}),
	}
}

// Auth records caller as the live reqwest connection for id. Idempotent:
// re-authenticating the same id simply replaces the caller handle.
func (r *Registry) Auth(id uint32, caller *reqwest.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callers[id] = caller
}

// Register inserts info into ServerInfoMap and the class set named by
// class, returning whether this is a newly-seen node (false if the id
// was already registered — re-registration of a known node is tolerated,
// not an error).
func (r *Registry) Register(info ServerInfo, class NodeClass) (isNew bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.servers[info.ID]
	r.servers[info.ID] = info
	r.activeNodes[info.ID] = struct{}{}
	if set, ok := r.classes[class]; ok {
		set[info.ID] = struct{}{}
	}
	return !existed
}

// Unregister removes id from ServerInfoMap, its class set, and the live
// caller map.
func (r *Registry) Unregister(id uint32, class NodeClass) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.servers[id]; !ok {
		return ErrUnknownNode
	}
	delete(r.servers, id)
	delete(r.activeNodes, id)
	delete(r.callers, id)
	if set, ok := r.classes[class]; ok {
		delete(set, id)
	}
	return nil
}

// ServerInfoOf returns the registered descriptor for id.
func (r *Registry) ServerInfoOf(id uint32) (ServerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.servers[id]
	return info, ok
}

// CallerOf returns the live reqwest caller for id, used to broadcast
// register/unregister events to peers.
func (r *Registry) CallerOf(id uint32) (*reqwest.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.callers[id]
	return c, ok
}

// MembersOf returns a snapshot of the live node ids in class.
func (r *Registry) MembersOf(class NodeClass) []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.classes[class]
	out := make([]uint32, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Broadcast calls fn for every live node in class except skip, collecting
// (not failing on) per-peer errors — a broadcast that fails to reach one
// peer is reported back but must not abort the registration.
func (r *Registry) Broadcast(class NodeClass, skip uint32, fn func(peerID uint32, caller *reqwest.Conn) error) []error {
	r.mu.RLock()
	set := r.classes[class]
	type target struct {
		id     uint32
		caller *reqwest.Conn
	}
	targets := make([]target, 0, len(set))
	for id := range set {
		if id == skip {
			continue
		}
		if caller, ok := r.callers[id]; ok {
			targets = append(targets, target{id, caller})
		}
	}
	r.mu.RUnlock()

	var errs []error
	for _, t := range targets {
		if err := fn(t.id, t.caller); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// WhichNode resolves userID to a message node id. It checks the hint
// cache first; on miss it deterministically picks
// MessageNodeSet[userID mod |set|] over the set sorted by node id, writes
// the hint back, and returns it. Once written, the hint sticks until
// EvictHint removes it; Unregister does not evict hints.
func (r *Registry) WhichNode(ctx context.Context, userID uint64) (uint32, error) {
	if r.hint != nil {
		if id, ok, err := r.hint.Get(ctx, userID); err != nil {
			return 0, err
		} else if ok {
			return id, nil
		}
	}

	members := r.MembersOf(ClassMessage)
	if len(members) == 0 {
		return 0, ErrNoNodeAvailable
	}
	// MembersOf walks a map, so sort the snapshot for a stable order.
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	idx := int(userID % uint64(len(members)))
	chosen := members[idx]

	if r.hint != nil {
		if err := r.hint.Set(ctx, userID, chosen); err != nil {
			return 0, err
		}
	}
	return chosen, nil
}

// EvictHint forgets a sticky WhichNode resolution for userID. Nothing in
// Registry calls it; Unregister leaves hints in place.
func (r *Registry) EvictHint(ctx context.Context, userID uint64) error {
	if r.hint == nil {
		return nil
	}
	return r.hint.Evict(ctx, userID)
}

// IsPartitioned reports whether this scheduler believes it is on the
// smaller side of a network split, comparing the live node count against
// a caller-supplied quorum.
func (r *Registry) IsPartitioned(quorum int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if quorum <= 0 {
		return false
	}
	return len(r.activeNodes) < quorum
}

// memHintCache is an in-process HintCache used by tests and single-node
// scheduler setups; production deployments wire RedisHintCache instead.
type memHintCache struct {
	mu sync.Mutex
	m  map[uint64]uint32
}

// NewMemHintCache builds a process-local HintCache.
func NewMemHintCache() HintCache {
	return &memHintCache{m: make(map[uint64]uint32)}
}

func (c *memHintCache) Get(_ context.Context, userID uint64) (uint32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.m[userID]
	return id, ok, nil
}

func (c *memHintCache) Set(_ context.Context, userID uint64, nodeID uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[userID] = nodeID
	return nil
}

func (c *memHintCache) Evict(_ context.Context, userID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, userID)
	return nil
}
