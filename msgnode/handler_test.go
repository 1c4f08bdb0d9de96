package msgnode

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/primcluster/mesh/authtoken"
	"github.com/primcluster/mesh/envelope"
	"github.com/primcluster/mesh/reqwest"
)

func testIssuer(t *testing.T) *authtoken.Issuer {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	is, err := authtoken.NewIssuer(key, time.Hour, 1)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return is
}

func authEnvelope(t *testing.T, token []byte) *envelope.Message {
	t.Helper()
	msg, err := envelope.New(envelope.Head{Type: envelope.TypeAuth, Timestamp: 1}, token, nil)
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}
	return msg
}

func TestClientHandlerRejectsMessagesBeforeAuth(t *testing.T) {
	n := NewNode(1)
	h := &ClientSessionHandler{Node: n, Auth: testIssuer(t)}
	state := &ConnState{Sender: NewChanSender(1)}
	forward := h.handleForward(nil, state)

	ping := envelope.Head{Sender: 1, Receiver: 2, Type: envelope.TypePing, Timestamp: 5}
	msg, _ := envelope.New(ping, nil, nil)

	if _, err := forward(context.Background(), msg.AsSlice()); err == nil {
		t.Fatal("expected auth error before handshake completes")
	}
}

func TestClientHandlerAuthenticatesThenDispatches(t *testing.T) {
	n := NewNode(1)
	n.Seqnum = newFakeSeqnum()
	issuer := testIssuer(t)
	h := &ClientSessionHandler{Node: n, Auth: issuer}
	state := &ConnState{Sender: NewChanSender(4)}
	forward := h.handleForward(nil, state)

	token, _, err := issuer.Issue(42, 0, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	authMsg := authEnvelope(t, token)

	resp, err := forward(context.Background(), authMsg.AsSlice())
	if err != nil {
		t.Fatalf("auth forward: %v", err)
	}
	ack, err := envelope.FromSlice(resp)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	if ack.Head().Type != envelope.TypeAck {
		t.Fatalf("expected Ack after successful auth, got %v", ack.Head().Type)
	}
	if !state.Authed || state.UserID != 42 {
		t.Fatalf("expected state authed as user 42, got %+v", state)
	}
	if _, ok := n.ClientSender(42); !ok {
		t.Fatal("expected authenticated connection registered as a client sender")
	}

	ping := envelope.Head{Sender: 42, Receiver: 7, Type: envelope.TypePing, Timestamp: 9}
	pingMsg, _ := envelope.New(ping, nil, nil)
	pongRaw, err := forward(context.Background(), pingMsg.AsSlice())
	if err != nil {
		t.Fatalf("ping forward: %v", err)
	}
	pong, err := envelope.FromSlice(pongRaw)
	if err != nil {
		t.Fatalf("FromSlice pong: %v", err)
	}
	if pong.Head().Type != envelope.TypePong {
		t.Fatalf("expected Pong in reply to Ping, got %v", pong.Head().Type)
	}
}

func TestClientHandlerRejectsBadToken(t *testing.T) {
	n := NewNode(1)
	h := &ClientSessionHandler{Node: n, Auth: testIssuer(t)}
	state := &ConnState{Sender: NewChanSender(1)}
	forward := h.handleForward(nil, state)

	authMsg := authEnvelope(t, make([]byte, 48))
	resp, err := forward(context.Background(), authMsg.AsSlice())
	if err != nil {
		t.Fatalf("forward itself should not error, got %v", err)
	}
	errEnv, err := envelope.FromSlice(resp)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	if errEnv.Head().Type != envelope.TypeError {
		t.Fatalf("expected an error envelope for a bad token, got %v", errEnv.Head().Type)
	}
	if state.Authed {
		t.Fatal("connection must not be marked authed after a failed token check")
	}
}

func TestDrainOutboundForwardsPushedEnvelopes(t *testing.T) {
	a, b := net.Pipe()
	server := reqwest.NewConn(a, 0, nil)
	client := reqwest.NewConn(b, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	client.HandleFunc(reqwest.ResourcePushMsg, func(ctx context.Context, payload []byte) ([]byte, error) {
		received <- payload
		return []byte{}, nil
	})

	server.Start(ctx)
	client.Start(ctx)
	defer server.Close()
	defer client.Close()

	sender := NewChanSender(1)
	go drainOutbound(ctx, NewNode(1), server, sender)

	push := envelope.Head{Sender: 1, Receiver: 2, Type: envelope.TypeText, Timestamp: 3}
	msg, _ := envelope.New(push, []byte("hi"), nil)
	if err := sender.Send(ctx, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case payload := <-received:
		got, err := envelope.FromSlice(payload)
		if err != nil {
			t.Fatalf("FromSlice: %v", err)
		}
		if string(got.Payload()) != "hi" {
			t.Fatalf("expected payload %q, got %q", "hi", got.Payload())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pushed envelope")
	}
}
