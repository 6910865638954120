package transport

import (
	"context"
	"testing"
	"time"
)

type pingMessage struct {
	Text string
}

func TestGobSerializerRoundTrip(t *testing.T) {
	s := NewGobSerializer()
	Register[pingMessage](s, "ping")

	payload, tag, err := s.Encode(pingMessage{Text: "hello"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if tag != "transport.pingMessage" {
		t.Fatalf("expected fully-qualified type tag, got %q", tag)
	}

	decoded, err := s.Decode(payload, tag)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(pingMessage)
	if !ok || got.Text != "hello" {
		t.Fatalf("expected round-tripped pingMessage{hello}, got %#v", decoded)
	}
}

func TestInMemoryNetworkDialAndExchange(t *testing.T) {
	net := NewInMemoryNetwork()
	inbound := net.Listen("localhost:9000")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := net.Dial(ctx, "localhost:9000")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var server Channel
	select {
	case server = <-inbound:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accepted channel")
	}
	defer server.Close()

	if err := client.Send(ctx, Frame{TypeTag: "x", Payload: []byte("hi")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	f, err := server.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(f.Payload) != "hi" {
		t.Fatalf("expected payload hi, got %q", f.Payload)
	}
}

func TestInMemoryNetworkDialUnknownAddressFails(t *testing.T) {
	net := NewInMemoryNetwork()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := net.Dial(ctx, "nowhere:1"); err == nil {
		t.Fatal("expected dial to an unregistered address to fail")
	}
}
