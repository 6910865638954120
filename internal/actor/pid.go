// Package actor implements the local actor kernel: process identity,
// mailboxes, the process registry, actor lifecycle and supervision, and
// the in-process event stream.
package actor

import (
	"fmt"
	"strings"
)

// ClientPrefix marks an address as belonging to a client identity: a peer
// that only ever connects outbound and has no stable, dialable address.
const ClientPrefix = "$client/"

// PID is a routing token: address + id identify a process uniquely within
// the cluster, requestID optionally correlates a reply to a specific ask.
//
// Two PIDs are equal iff Address and ID are equal; RequestID never
// participates in equality, it only threads a correlation id through
// request/response round trips.
type PID struct {
	Address   string
	ID        string
	RequestID uint32
}

// NewPID builds a PID for the given address/id pair.
func NewPID(address, id string) *PID {
	return &PID{Address: address, ID: id}
}

// WithRequestID returns a copy of the PID carrying a request correlation id,
// used by the ask/future pattern to route a reply back to a waiting caller.
func (p *PID) WithRequestID(id uint32) *PID {
	if p == nil {
		return nil
	}
	cp := *p
	cp.RequestID = id
	return &cp
}

// Equal reports whether two PIDs name the same process, ignoring RequestID.
func (p *PID) Equal(other *PID) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Address == other.Address && p.ID == other.ID
}

// IsClient reports whether this PID names a client identity: an outbound-only
// peer with no stable address, per the reserved ClientPrefix convention.
func (p *PID) IsClient() bool {
	return p != nil && strings.HasPrefix(p.Address, ClientPrefix)
}

func (p *PID) String() string {
	if p == nil {
		return "<nil>"
	}
	if p.RequestID != 0 {
		return fmt.Sprintf("%s/%s#%d", p.Address, p.ID, p.RequestID)
	}
	return fmt.Sprintf("%s/%s", p.Address, p.ID)
}
