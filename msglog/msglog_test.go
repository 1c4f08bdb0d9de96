package msglog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/primcluster/mesh/envelope"
)

func testMsg(t *testing.T, sender, receiver uint64) *envelope.Message {
	t.Helper()
	msg, err := envelope.New(envelope.Head{Sender: sender, Receiver: receiver, Type: envelope.TypeText}, []byte("hi"), nil)
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}
	return msg
}

func TestLogAppendAndRotate(t *testing.T) {
	dir := t.TempDir()
	day1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := day1
	l, err := newLogWithClock(dir, 0, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newLogWithClock: %v", err)
	}
	defer l.Close()

	msg := testMsg(t, 1, 2)
	if err := l.AppendRaw(msg.AsSlice()); err != nil {
		t.Fatalf("AppendRaw: %v", err)
	}

	now = day1.Add(24 * time.Hour)
	if err := l.AppendRaw(msg.AsSlice()); err != nil {
		t.Fatalf("AppendRaw after day turnover: %v", err)
	}

	days, err := l.segmentDays()
	if err != nil {
		t.Fatalf("segmentDays: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected 2 daily segments after rotation, got %v", days)
	}
}

func TestSweepRetentionDeletesOldSegments(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	l, err := newLogWithClock(dir, 0, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newLogWithClock: %v", err)
	}
	defer l.Close()

	// Manually create an old segment file outside the 7-day window.
	oldPath := filepath.Join(dir, "2026-01-01-shard0000.log")
	if err := os.WriteFile(oldPath, []byte("stale"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := l.SweepRetention(7 * 24 * time.Hour); err != nil {
		t.Fatalf("SweepRetention: %v", err)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected stale segment to be removed, stat err: %v", err)
	}

	days, err := l.segmentDays()
	if err != nil {
		t.Fatalf("segmentDays: %v", err)
	}
	for _, d := range days {
		if d == "2026-01-01" {
			t.Fatalf("expected 2026-01-01 segment gone, still listed")
		}
	}
}

func TestServerClientIPCRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "msglog.sock")

	srv, err := NewServer(sockPath, filepath.Join(dir, "logs"), 4)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	// Give the listener a moment to bind.
	var cli *Client
	for i := 0; i < 50; i++ {
		cli, err = Dial(sockPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if cli == nil {
		t.Fatalf("Dial never succeeded: %v", err)
	}
	defer cli.Close()

	msg := testMsg(t, 10, 20)
	if err := cli.Append(context.Background(), msg); err != nil {
		t.Fatalf("Append: %v", err)
	}

	l := srv.shardFor(msg.Head())
	days, err := l.segmentDays()
	if err != nil {
		t.Fatalf("segmentDays: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("expected exactly one daily segment written, got %v", days)
	}
}

func TestServerRejectsMissingShardCount(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewServer(filepath.Join(dir, "s.sock"), dir, 0); err == nil {
		t.Fatalf("expected error for non-positive shard count")
	}
}
