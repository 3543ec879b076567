package remote

import (
	"net"
	"testing"
)

func newStreamPair(t *testing.T) (*Stream, *Stream) {
	t.Helper()
	a, b := net.Pipe()
	return NewStream(a), NewStream(b)
}

func TestStreamSendReceiveRoundtrip(t *testing.T) {
	client, server := newStreamPair(t)
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- client.Send(MessageTypePut, PutRequest{ID: []byte{1, 2, 3}, Payload: []byte("hello")})
	}()

	var req PutRequest
	if err := server.ReceiveInto(MessageTypePut, &req); err != nil {
		t.Fatalf("ReceiveInto() failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if string(req.Payload) != "hello" {
		t.Fatalf("got payload %q", req.Payload)
	}
}

func TestStreamHelloHandshake(t *testing.T) {
	client, server := newStreamPair(t)
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- client.SendHello() }()

	if err := server.ReceiveHello(); err != nil {
		t.Fatalf("ReceiveHello() failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendHello() failed: %v", err)
	}
}

func TestStreamReceiveIntoPropagatesServerError(t *testing.T) {
	client, server := newStreamPair(t)
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- server.SendError(errTest) }()

	err := client.ReceiveInto(MessageTypeOK, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Error() != errTest.Error() {
		t.Fatalf("got %q, want %q", err.Error(), errTest.Error())
	}
	<-done
}

var errTest = testErr("boom")

type testErr string

func (e testErr) Error() string { return string(e) }
