package transport

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"net"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// frameServiceName and frameMethodName name the single bidirectional
// streaming RPC this package hand-declares without a .proto file: both
// client and server only ever exchange Frame values, so there is nothing
// a generated service definition would add over a manually built
// grpc.ServiceDesc/grpc.StreamDesc pair.
const (
	frameServiceName = "actorcore.transport.Frame"
	frameMethodName  = "Stream"
	frameCodecName   = "actorcore-frame-gob"
)

// frameCodec marshals/unmarshals Frame values directly, bypassing
// protobuf entirely (spec.md's wire codec is an external collaborator —
// this package only needs *a* codec real gRPC will carry, not the one a
// production deployment would pick).
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("transport: grpc codec given unexpected type %T", v)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("transport: grpc codec given unexpected type %T", v)
	}
	return gob.NewDecoder(bytes.NewReader(data)).Decode(f)
}

func (frameCodec) Name() string { return frameCodecName }

func init() {
	encoding.RegisterCodec(frameCodec{})
}

// frameStreamDesc describes the one RPC both ends use. HandlerType is the
// empty interface so grpc's reflection-based implements-check at
// RegisterService always passes — there's no generated service interface
// to check against.
var frameStreamDesc = grpc.StreamDesc{
	StreamName:    frameMethodName,
	ServerStreams: true,
	ClientStreams: true,
}

var frameServiceDesc = grpc.ServiceDesc{
	ServiceName: frameServiceName,
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    frameMethodName,
		Handler:       frameStreamHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "actorcore/transport/frame.proto",
}

func frameStreamHandler(srv any, stream grpc.ServerStream) error {
	srv.(*GRPCProvider).acceptStream(stream)
	return nil
}

// grpcStream is the subset of grpc.ClientStream/grpc.ServerStream this
// package needs — both embed grpc.Stream, which already has exactly this
// shape.
type grpcStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// grpcChannel adapts a gRPC stream (client- or server-side) to the
// Channel contract.
type grpcChannel struct {
	stream grpcStream
	events chan ConnEvent
	closer func() error

	closeOnce sync.Once
}

func newGRPCChannel(stream grpcStream, closer func() error) *grpcChannel {
	c := &grpcChannel{stream: stream, events: make(chan ConnEvent, 1), closer: closer}
	c.events <- ConnEventConnected
	return c
}

func (c *grpcChannel) Send(ctx context.Context, f Frame) error {
	return c.stream.SendMsg(&f)
}

func (c *grpcChannel) Recv(ctx context.Context) (Frame, error) {
	var f Frame
	err := c.stream.RecvMsg(&f)
	if err != nil {
		c.notifyDisconnected()
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, err
	}
	return f, nil
}

func (c *grpcChannel) Events() <-chan ConnEvent { return c.events }

func (c *grpcChannel) notifyDisconnected() {
	select {
	case c.events <- ConnEventDisconnected:
	default:
	}
}

func (c *grpcChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.closer != nil {
			err = c.closer()
		}
		c.notifyDisconnected()
	})
	return err
}

// GRPCProvider is both ends of the gRPC-backed ChannelProvider: Listen
// starts a *grpc.Server accepting frame streams, Dial opens one to a
// peer. It is the production-shaped counterpart to InMemoryNetwork,
// carrying Frame values the same way the in-memory reference does but
// over a real network socket.
type GRPCProvider struct {
	server   *grpc.Server
	inbound  chan Channel
	dialOpts []grpc.DialOption
}

// NewGRPCProvider constructs a provider. Call Listen to start serving
// before accepting inbound peers, and Dial to open outbound ones;
// a provider used only for outbound Dial calls does not need Listen.
func NewGRPCProvider() *GRPCProvider {
	return &GRPCProvider{
		inbound: make(chan Channel, 16),
		dialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.ForceCodec(frameCodec{})),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		},
	}
}

// Listen starts a gRPC server bound to addr. Inbound streams are
// delivered on the returned channel as they're accepted, mirroring
// InMemoryNetwork.Listen's shape.
func (p *GRPCProvider) Listen(addr string) (<-chan Channel, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	p.server = grpc.NewServer(grpc.ForceServerCodec(frameCodec{}), grpc.StatsHandler(otelgrpc.NewServerHandler()))
	p.server.RegisterService(&frameServiceDesc, p)
	go p.server.Serve(lis)
	return p.inbound, nil
}

func (p *GRPCProvider) acceptStream(stream grpc.ServerStream) {
	// The RPC ends when the handler returns, so hold it open until the
	// channel is closed or the client goes away.
	done := make(chan struct{})
	ch := newGRPCChannel(stream, func() error { close(done); return nil })
	p.inbound <- ch
	select {
	case <-done:
	case <-stream.Context().Done():
	}
}

// Dial opens a client-side Frame stream to address.
func (p *GRPCProvider) Dial(ctx context.Context, address string) (Channel, error) {
	conn, err := grpc.NewClient(address, p.dialOpts...)
	if err != nil {
		return nil, err
	}
	stream, err := conn.NewStream(ctx, &frameStreamDesc, "/"+frameServiceName+"/"+frameMethodName)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return newGRPCChannel(stream, conn.Close), nil
}

// Stop gracefully stops the server half, if Listen was called.
func (p *GRPCProvider) Stop() {
	if p.server != nil {
		p.server.GracefulStop()
	}
}

var _ ChannelProvider = (*GRPCProvider)(nil)
