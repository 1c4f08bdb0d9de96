package seqnode

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/primcluster/mesh/reqwest"
)

func TestShardAssignStrictMonotonicPerKey(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir, 0)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()
	sh := newShard(store, Exactly)

	key := Key{Hi: 1, Lo: 2}
	ctx := context.Background()
	var prev uint64
	for i := 0; i < 300; i++ {
		v, err := sh.assign(ctx, key)
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		if i > 0 && v != prev+1 {
			t.Fatalf("expected strictly increasing by 1, got %d after %d", v, prev)
		}
		prev = v
	}
}

func TestShardAssignIndependentPerKey(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir, 0)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()
	sh := newShard(store, Exactly)
	ctx := context.Background()

	a := Key{Hi: 1, Lo: 2}
	b := Key{Hi: 3, Lo: 4}

	for i := 0; i < 5; i++ {
		if _, err := sh.assign(ctx, a); err != nil {
			t.Fatalf("assign a: %v", err)
		}
	}
	v, err := sh.assign(ctx, b)
	if err != nil {
		t.Fatalf("assign b: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected key b to start at 0 independent of key a, got %d", v)
	}
}

func TestExactlyModeRecoversToMaxPlusOne(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir, 0)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	sh := newShard(store, Exactly)
	ctx := context.Background()
	key := Key{Hi: 9, Lo: 9}

	var last uint64
	for i := 0; i < 10; i++ {
		last, err = sh.assign(ctx, key)
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenStore(dir, 0)
	if err != nil {
		t.Fatalf("reopen OpenStore: %v", err)
	}
	defer reopened.Close()
	maxSeen, err := reopened.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if got := maxSeen[key]; got != last {
		t.Fatalf("expected recovered max %d, got %d", last, got)
	}

	resumed := newShard(reopened, Exactly)
	if err := recoverShard(resumed, reopened, Exactly); err != nil {
		t.Fatalf("recoverShard: %v", err)
	}
	next, err := resumed.assign(ctx, key)
	if err != nil {
		t.Fatalf("assign after recovery: %v", err)
	}
	if next != last+1 {
		t.Fatalf("expected next assignment %d after recovery, got %d", last+1, next)
	}
}

func TestBatchedModeRecoversAheadByFullBatch(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir, 0)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	sh := newShard(store, Batched)
	ctx := context.Background()
	key := Key{Hi: 5, Lo: 6}

	// Exactly one persisted record: seqnum 0 (0 & 0x7F == 0).
	if _, err := sh.assign(ctx, key); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenStore(dir, 0)
	if err != nil {
		t.Fatalf("reopen OpenStore: %v", err)
	}
	defer reopened.Close()

	resumed := newShard(reopened, Batched)
	if err := recoverShard(resumed, reopened, Batched); err != nil {
		t.Fatalf("recoverShard: %v", err)
	}
	next, err := resumed.assign(ctx, key)
	if err != nil {
		t.Fatalf("assign after recovery: %v", err)
	}
	if next != batchMask+1 {
		t.Fatalf("expected resumed counter to jump a full batch ahead to %d, got %d", batchMask+1, next)
	}
}

func TestCompactionKeepsOnlyLatestPerKey(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir, 0)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()
	sh := newShard(store, Exactly)
	ctx := context.Background()
	key := Key{Hi: 1, Lo: 1}

	var last uint64
	for i := 0; i < 50; i++ {
		last, err = sh.assign(ctx, key)
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
	if err := store.compactLocked(); err != nil {
		t.Fatalf("compactLocked: %v", err)
	}
	maxSeen, err := store.Recover()
	if err != nil {
		t.Fatalf("Recover after compaction: %v", err)
	}
	if maxSeen[key] != last {
		t.Fatalf("expected compacted store to retain max %d, got %d", last, maxSeen[key])
	}
}

func TestNodeAssignRoutesByKey(t *testing.T) {
	dir := t.TempDir()
	n, err := New(131073, dir, 4, Exactly)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	ctx := context.Background()
	first, err := n.Assign(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if first != 0 {
		t.Fatalf("expected first assignment to start at 0, got %d", first)
	}
	second, err := n.Assign(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if second != 1 {
		t.Fatalf("expected second assignment to be 1, got %d", second)
	}
}

func TestHandleAssignWireFormat(t *testing.T) {
	dir := t.TempDir()
	n, err := New(131073, dir, 2, Exactly)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	payload := make([]byte, 16)
	payload[7] = 7  // key_hi = 7
	payload[15] = 9 // key_lo = 9
	out, err := n.handleAssign(context.Background(), payload)
	if err != nil {
		t.Fatalf("handleAssign: %v", err)
	}
	if len(out) != 8 {
		t.Fatalf("expected 8-byte seqnum response, got %d bytes", len(out))
	}
}

func TestHandleAssignRejectsShortPayload(t *testing.T) {
	dir := t.TempDir()
	n, err := New(131073, dir, 1, Exactly)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	if _, err := n.handleAssign(context.Background(), []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for undersized payload")
	}
}

func TestRemoteClientAssignRoundTrip(t *testing.T) {
	dir := t.TempDir()
	n, err := New(131073, dir, 4, Exactly)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	a, b := net.Pipe()
	server := reqwest.NewConn(a, 0, nil)
	client := reqwest.NewConn(b, 0, nil)
	ctx := context.Background()
	server.Start(ctx)
	client.Start(ctx)
	defer server.Close()
	defer client.Close()

	n.BindHandlers(server)

	remote := &RemoteClient{Conn: client}
	callCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := remote.Assign(callCtx, 11, 22)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	second, err := remote.Assign(callCtx, 11, 22)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected strictly increasing values, got %d then %d", first, second)
	}
}
