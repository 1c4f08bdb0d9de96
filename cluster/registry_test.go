package cluster

import (
	"context"
	"testing"
)

func TestRegisterAndMembersOf(t *testing.T) {
	r := NewRegistry(NewMemHintCache())
	isNew := r.Register(ServerInfo{ID: 131073}, ClassMessage)
	if !isNew {
		t.Fatalf("first registration should report isNew=true")
	}
	isNew = r.Register(ServerInfo{ID: 131073, Status: "up"}, ClassMessage)
	if isNew {
		t.Fatalf("re-registration of the same id should report isNew=false")
	}

	members := r.MembersOf(ClassMessage)
	if len(members) != 1 || members[0] != 131073 {
		t.Fatalf("unexpected members: %v", members)
	}

	info, ok := r.ServerInfoOf(131073)
	if !ok || info.Status != "up" {
		t.Fatalf("expected updated ServerInfo, got %+v ok=%v", info, ok)
	}
}

func TestUnregisterRemovesFromAllTables(t *testing.T) {
	r := NewRegistry(NewMemHintCache())
	r.Register(ServerInfo{ID: 131073}, ClassMessage)
	if err := r.Unregister(131073, ClassMessage); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, ok := r.ServerInfoOf(131073); ok {
		t.Fatalf("expected ServerInfo removed")
	}
	if members := r.MembersOf(ClassMessage); len(members) != 0 {
		t.Fatalf("expected empty MessageNodeSet, got %v", members)
	}
	if err := r.Unregister(131073, ClassMessage); err != ErrUnknownNode {
		t.Fatalf("expected ErrUnknownNode on double-unregister, got %v", err)
	}
}

// Testable property: WhichNode(u) is idempotent — the first call may
// write the hint cache, subsequent calls return the same node id until
// the target unregisters.
func TestWhichNodeIdempotent(t *testing.T) {
	r := NewRegistry(NewMemHintCache())
	r.Register(ServerInfo{ID: 131073}, ClassMessage)
	r.Register(ServerInfo{ID: 131074}, ClassMessage)

	ctx := context.Background()
	first, err := r.WhichNode(ctx, 42)
	if err != nil {
		t.Fatalf("WhichNode: %v", err)
	}
	for i := 0; i < 5; i++ {
		got, err := r.WhichNode(ctx, 42)
		if err != nil {
			t.Fatalf("WhichNode repeat: %v", err)
		}
		if got != first {
			t.Fatalf("WhichNode not sticky: first=%d got=%d", first, got)
		}
	}
}

func TestWhichNodeNoNodeAvailable(t *testing.T) {
	r := NewRegistry(NewMemHintCache())
	if _, err := r.WhichNode(context.Background(), 1); err != ErrNoNodeAvailable {
		t.Fatalf("expected ErrNoNodeAvailable, got %v", err)
	}
}

func TestWhichNodeEvictAllowsRehoming(t *testing.T) {
	r := NewRegistry(NewMemHintCache())
	r.Register(ServerInfo{ID: 131073}, ClassMessage)

	ctx := context.Background()
	first, _ := r.WhichNode(ctx, 42)
	if err := r.EvictHint(ctx, 42); err != nil {
		t.Fatalf("EvictHint: %v", err)
	}
	r.Unregister(first, ClassMessage)
	r.Register(ServerInfo{ID: 131074}, ClassMessage)

	got, err := r.WhichNode(ctx, 42)
	if err != nil {
		t.Fatalf("WhichNode after evict: %v", err)
	}
	if got != 131074 {
		t.Fatalf("expected rehome to 131074, got %d", got)
	}
}

func TestIsPartitioned(t *testing.T) {
	r := NewRegistry(NewMemHintCache())
	r.Register(ServerInfo{ID: 1}, ClassMessage)
	r.Register(ServerInfo{ID: 2}, ClassMessage)

	if r.IsPartitioned(0) {
		t.Fatalf("quorum<=0 should never report partitioned")
	}
	if r.IsPartitioned(2) {
		t.Fatalf("2 active nodes should satisfy quorum 2")
	}
	if !r.IsPartitioned(3) {
		t.Fatalf("2 active nodes should fail quorum 3")
	}
}

func TestNodeIDRangeClassification(t *testing.T) {
	msgRange := RangeFor(ClassMessage)
	if !msgRange.Contains(131073) {
		t.Fatalf("expected 131073 in message range, got %+v", msgRange)
	}
	class, ok := ClassOf(131073)
	if !ok || class != ClassMessage {
		t.Fatalf("expected ClassMessage for 131073, got %v ok=%v", class, ok)
	}
	if _, ok := ClassOf(0); ok {
		t.Fatalf("id 0 should not classify into any band")
	}
}
