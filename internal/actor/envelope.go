package actor

// Headers carries out-of-band context propagated alongside a message, such
// as a W3C traceparent header set by internal/remote when it forwards a
// span across the wire.
type Headers map[string]string

// Get returns the header value, or "" if absent.
func (h Headers) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[key]
}

// With returns a copy of h with key set to value, leaving h untouched.
func (h Headers) With(key, value string) Headers {
	cp := make(Headers, len(h)+1)
	for k, v := range h {
		cp[k] = v
	}
	cp[key] = value
	return cp
}

// Envelope is the unit that flows through mailboxes and endpoints: a target,
// an optional sender for replies, the message payload and optional headers.
type Envelope struct {
	Target  *PID
	Sender  *PID
	Message any
	Headers Headers
}

// NewEnvelope builds an envelope with no sender and no headers.
func NewEnvelope(target *PID, message any) *Envelope {
	return &Envelope{Target: target, Message: message}
}

// WithSender returns a copy of the envelope with Sender set.
func (e *Envelope) WithSender(sender *PID) *Envelope {
	cp := *e
	cp.Sender = sender
	return &cp
}

// WithHeaders returns a copy of the envelope with Headers set.
func (e *Envelope) WithHeaders(h Headers) *Envelope {
	cp := *e
	cp.Headers = h
	return &cp
}
