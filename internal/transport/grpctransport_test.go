package transport

import (
	"context"
	"testing"
	"time"
)

func TestGRPCProviderListenAndDialOverLoopback(t *testing.T) {
	server := NewGRPCProvider()
	const addr = "127.0.0.1:18423"
	inbound, err := server.Listen(addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(server.Stop)

	client := NewGRPCProvider()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	clientCh, err := client.Dial(ctx, addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientCh.Close()

	if err := clientCh.Send(ctx, Frame{TypeTag: "x", Payload: []byte("hello-grpc")}); err != nil {
		t.Fatalf("send: %v", err)
	}

	var serverCh Channel
	select {
	case serverCh = <-inbound:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted channel")
	}
	defer serverCh.Close()

	f, err := serverCh.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(f.Payload) != "hello-grpc" {
		t.Fatalf("expected payload hello-grpc, got %q", f.Payload)
	}
}
