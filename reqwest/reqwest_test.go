package reqwest

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

func pipeConns(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	ca := NewConn(a, 0, nil)
	cb := NewConn(b, 0, nil)
	ctx := context.Background()
	ca.Start(ctx)
	cb.Start(ctx)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}

func TestCallResponseRoundTrip(t *testing.T) {
	client, server := pipeConns(t)

	server.HandleFunc(ResourceWhichNode, func(_ context.Context, payload []byte) ([]byte, error) {
		out := make([]byte, len(payload))
		for i, b := range payload {
			out[i] = b + 1
		}
		return out, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := client.Call(ctx, ResourceWhichNode, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	want := []byte{2, 3, 4}
	for i := range want {
		if resp[i] != want[i] {
			t.Fatalf("resp = %v, want %v", resp, want)
		}
	}
}

// S6: a call whose peer never answers resolves to ErrTimeout within the
// configured deadline, and the slot is freed for later reuse.
func TestCallTimeout(t *testing.T) {
	client, _ := pipeConns(t)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Call(ctx, ResourceWhichNode, nil)
	elapsed := time.Since(start)

	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed > 200*time.Millisecond {
		t.Fatalf("timeout took too long: %v", elapsed)
	}

	client.mu.Lock()
	n := len(client.pending)
	client.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected pending slot to be freed, found %d", n)
	}
}

// A late response for an already-timed-out req_id must be discarded
// without panicking or registering a new slot.
func TestLateResponseDiscarded(t *testing.T) {
	client, server := pipeConns(t)

	release := make(chan struct{})
	server.HandleFunc(ResourceWhichNode, func(_ context.Context, payload []byte) ([]byte, error) {
		<-release
		return []byte("late"), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := client.Call(ctx, ResourceWhichNode, nil)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	close(release)
	// Give the late response time to arrive and be discarded.
	time.Sleep(50 * time.Millisecond)

	client.mu.Lock()
	n := len(client.pending)
	client.mu.Unlock()
	if n != 0 {
		t.Fatalf("late response should not leave a pending slot, found %d", n)
	}
}

func TestCloseFailsInFlightCalls(t *testing.T) {
	client, _ := pipeConns(t)

	errc := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), ResourceWhichNode, nil)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	client.Close()

	select {
	case err := <-errc:
		if err != ErrClosed {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Call did not return after Close")
	}
}

func TestEncodeDecodeFrame(t *testing.T) {
	r, w := net.Pipe()
	defer r.Close()
	defer w.Close()

	done := make(chan error, 1)
	go func() {
		done <- encode(w, Frame{ReqID: 7, ResourceID: ResourceSeqnum, Payload: []byte("abc")})
	}()

	br := bufio.NewReader(r)
	f, err := decode(br)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("encode: %v", err)
	}
	if f.ReqID != 7 || f.ResourceID != ResourceSeqnum || string(f.Payload) != "abc" {
		t.Fatalf("decoded frame mismatch: %+v", f)
	}
}
