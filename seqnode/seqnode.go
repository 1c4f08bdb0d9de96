package seqnode

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/primcluster/mesh/reqwest"
)

// Node owns a fixed number of shards, assigning each (key.Hi, key.Lo)
// pair to exactly one via a stable hash so that the same conversation
// always lands on the same shard and the same segment file.
type Node struct {
	ID     uint32
	shards []*shard
}

// New opens shardCount Store segments under baseDir (one subdirectory
// per shard) in the given durability mode, running crash recovery on
// each before returning.
func New(id uint32, baseDir string, shardCount int, mode DurabilityMode) (*Node, error) {
	if shardCount <= 0 {
		return nil, errors.New("seqnode: shardCount must be positive")
	}
	n := &Node{ID: id, shards: make([]*shard, shardCount)}
	for i := 0; i < shardCount; i++ {
		store, err := OpenStore(fmt.Sprintf("%s/shard-%d", baseDir, i), i)
		if err != nil {
			return nil, fmt.Errorf("seqnode: open shard %d: %w", i, err)
		}
		sh := newShard(store, mode)
		if err := recoverShard(sh, store, mode); err != nil {
			return nil, fmt.Errorf("seqnode: recover shard %d: %w", i, err)
		}
		n.shards[i] = sh
	}
	return n, nil
}

// recoverShard seeds every key found in store's segments at one past its
// durably-recorded seqnum: exactly one past in Exactly mode, since every
// assignment was flushed; a full batch ahead in Batched mode, since up to
// 127 assignments between flushes may have been lost.
func recoverShard(sh *shard, store *Store, mode DurabilityMode) error {
	maxSeen, err := store.Recover()
	if err != nil {
		return err
	}
	for key, maxSeq := range maxSeen {
		if mode == Batched {
			sh.seed(key, maxSeq+1+batchMask)
		} else {
			sh.seed(key, maxSeq+1)
		}
	}
	return nil
}

// shardFor picks key's owning shard by a simple, stable fold of its two
// halves — any deterministic function works since the mapping only needs
// to be stable for the lifetime of the shard layout, not balanced
// cryptographically.
func (n *Node) shardFor(key Key) *shard {
	h := key.Hi ^ (key.Lo * 0x9E3779B97F4A7C15)
	return n.shards[h%uint64(len(n.shards))]
}

// Assign returns the next sequence number for the conversation identified
// by (keyHi, keyLo), persisting it according to the owning shard's
// durability mode.
func (n *Node) Assign(ctx context.Context, keyHi, keyLo uint64) (uint64, error) {
	key := Key{Hi: keyHi, Lo: keyLo}
	return n.shardFor(key).assign(ctx, key)
}

// BindHandlers registers the Seqnum resource on conn, to be called once
// per accepted reqwest.Conn before Start.
func (n *Node) BindHandlers(conn *reqwest.Conn) {
	conn.HandleFunc(reqwest.ResourceSeqnum, n.handleAssign)
}

func (n *Node) handleAssign(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) != 16 {
		return nil, errors.New("seqnode: assign payload must be 16 bytes (key_hi, key_lo)")
	}
	hi := binary.BigEndian.Uint64(payload[0:8])
	lo := binary.BigEndian.Uint64(payload[8:16])
	seq, err := n.Assign(ctx, hi, lo)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, seq)
	return out, nil
}

// RemoteClient calls a seqnode's Assign over an already-authenticated
// reqwest.Conn, implementing msgnode.SeqnumClient for a message node
// that reaches its sequence-number node over the mesh rather than
// in-process.
type RemoteClient struct {
	Conn *reqwest.Conn
}

// Assign implements msgnode.SeqnumClient using the same 16-byte
// key_hi/key_lo request and 8-byte seqnum response handleAssign speaks.
func (c *RemoteClient) Assign(ctx context.Context, keyHi, keyLo uint64) (uint64, error) {
	payload := make([]byte, 16)
	binary.BigEndian.PutUint64(payload[0:8], keyHi)
	binary.BigEndian.PutUint64(payload[8:16], keyLo)

	resp, err := c.Conn.Call(ctx, reqwest.ResourceSeqnum, payload)
	if err != nil {
		return 0, err
	}
	if len(resp) != 8 {
		return 0, errors.New("seqnode: assign response must be 8 bytes")
	}
	return binary.BigEndian.Uint64(resp), nil
}

// Close releases every shard's segment file handle.
func (n *Node) Close() error {
	var firstErr error
	for _, sh := range n.shards {
		if err := sh.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
