// Package transport defines the external-collaborator contracts consumed
// by internal/remote and internal/cluster: the serialization façade and
// the channel provider binding actual bytes to a network transport. Both
// are deliberately narrow per spec.md §6 — the wire codec and the real
// transport binding are out of scope for this core, only their contracts
// and in-memory reference implementations (for tests) live here.
package transport

import (
	"context"
	"errors"
)

// ErrUnknownTypeTag names the Decode error for a type tag with no
// registered codec, per spec.md §7 "Protocol error: ... unknown type tag".
// GobSerializer does not return it: its Decode ignores the tag and relies
// on gob's own type registration.
var ErrUnknownTypeTag = errors.New("transport: unknown type tag")

// Serializer is the wire-encoding façade (spec.md §6, "Serialization
// façade (consumed)"): encode(message) -> (bytes, typeTag), decode(bytes,
// typeTag) -> message. Implementations may use a "cached serialization"
// marker on message types to skip re-encoding identical payloads sent to
// multiple endpoints; CachedSerialization below is that opt-in capability.
type Serializer interface {
	Encode(message any) (payload []byte, typeTag string, err error)
	Decode(payload []byte, typeTag string) (message any, err error)
}

// CachedSerialization is implemented by a message type that wants its
// encoded form memoized across sends to multiple endpoints, per spec.md
// §6's "cached serialization marker (opt-in capability on message
// types)".
type CachedSerialization interface {
	CacheKey() string
}

// Frame is one opaque unit exchanged over a ChannelProvider stream: a
// type tag plus its encoded payload. The core never looks inside payload;
// only a Serializer does.
type Frame struct {
	TypeTag string
	Payload []byte
}

// ConnEvent reports a connect/disconnect transition on a Channel.
type ConnEvent int

const (
	ConnEventConnected ConnEvent = iota
	ConnEventDisconnected
)

// Channel is a bidirectional stream of Frames to one peer address, with
// connect/disconnect notifications. Send is safe for concurrent callers;
// Recv is consumed by exactly one reader (the endpoint's inbound loop).
type Channel interface {
	Send(ctx context.Context, f Frame) error
	Recv(ctx context.Context) (Frame, error)
	Events() <-chan ConnEvent
	Close() error
}

// ChannelProvider is the transport binding contract (spec.md §6, "Channel
// provider contract (consumed)"): given a target address, return a
// bidirectional Channel. A real binding (HTTP/2, gRPC, QUIC, ...) is an
// external collaborator; internal/transport/inmemory.go supplies an
// in-process reference implementation used by internal/remote's own
// tests and by the two-node echo scenario (spec.md §8 scenario 1).
type ChannelProvider interface {
	Dial(ctx context.Context, address string) (Channel, error)
}
