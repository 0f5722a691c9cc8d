package bgpwire

import "fmt"

// -------------------------------------------------------------------------
// Framer — stream reassembly over a byte-oriented transport
// -------------------------------------------------------------------------

// Event is a decoded framing result delivered to the session/FSM layer.
// At most one of the message-variant fields is non-nil (none for a
// KEEPALIVE), or HeaderErr holds the offending header bytes.
type Event struct {
	Kind         Kind
	Open         *Open
	Update       *Update
	Notification *Notification
	RouteRefresh *RouteRefresh

	// HeaderErr, when non-nil, carries the raw header bytes of a message
	// that failed validation: a bad marker, length, or type (Kind is then
	// zero), or a valid header whose body failed to decode (Kind is then
	// the header's type). The framer stops parsing once this is produced —
	// the byte stream is no longer trustworthy.
	HeaderErr []byte
	// HeaderErrCause is the validation error that produced HeaderErr.
	HeaderErrCause error
}

// Framer accumulates bytes arriving from the transport and emits one Event
// per complete BGP message, following the algorithm in this speaker's
// stream-framing component: append, then repeatedly inspect the first
// HeaderSize bytes for a complete, valid header, then wait for or consume
// the declared message length.
//
// A Framer is not safe for concurrent use; it is driven exclusively by the
// single-threaded session event loop (see internal/bgp).
type Framer struct {
	buf []byte
	// stopped is set once a header error has been emitted; further Feed
	// calls are no-ops because the byte stream is no longer trustworthy.
	stopped bool
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{buf: make([]byte, 0, MaxMessageSize)}
}

// Feed appends newly arrived bytes and returns every complete message
// event that can be drained from the accumulated buffer, in arrival order.
// Once a HeaderErr event has been produced, Feed is a permanent no-op:
// callers must discard the Framer and tear down the connection.
func (f *Framer) Feed(data []byte) []Event {
	if f.stopped {
		return nil
	}
	f.buf = append(f.buf, data...)

	var events []Event
	for {
		if len(f.buf) < HeaderSize {
			return events
		}

		h, err := DecodeHeader(f.buf[:HeaderSize])
		if err != nil {
			hdr := make([]byte, HeaderSize)
			copy(hdr, f.buf[:HeaderSize])
			f.stopped = true
			return append(events, Event{HeaderErr: hdr, HeaderErrCause: err})
		}

		if len(f.buf) < int(h.Length) {
			return events
		}

		msg := f.buf[:h.Length]
		f.buf = f.buf[h.Length:]

		ev, err := decodeEvent(h, msg[HeaderSize:])
		if err != nil {
			// A well-formed header with a malformed body is reported the
			// same way a header error is: stop trusting the stream and
			// let the session/FSM decide the next action from the kind.
			hdr := make([]byte, HeaderSize)
			copy(hdr, msg[:HeaderSize])
			f.stopped = true
			return append(events, Event{Kind: h.Type, HeaderErr: hdr, HeaderErrCause: err})
		}
		events = append(events, ev)
	}
}

// decodeEvent decodes the body of a single complete message (header
// already stripped and decoded into h) into the matching Event variant.
func decodeEvent(h Header, body []byte) (Event, error) {
	switch h.Type {
	case KindOpen:
		o := &Open{}
		if err := UnmarshalOpen(body, o); err != nil {
			return Event{}, err
		}
		return Event{Kind: KindOpen, Open: o}, nil

	case KindUpdate:
		u := &Update{}
		if err := UnmarshalUpdate(body, u); err != nil {
			return Event{}, err
		}
		return Event{Kind: KindUpdate, Update: u}, nil

	case KindNotification:
		n := &Notification{}
		if err := UnmarshalNotification(body, n); err != nil {
			return Event{}, err
		}
		return Event{Kind: KindNotification, Notification: n}, nil

	case KindKeepalive:
		return Event{Kind: KindKeepalive}, nil

	case KindRouteRefresh:
		r := &RouteRefresh{}
		_ = UnmarshalRouteRefresh(body, r)
		return Event{Kind: KindRouteRefresh, RouteRefresh: r}, nil

	default:
		return Event{}, fmt.Errorf("%s: %w", unmarshalErrPrefix, ErrInvalidType)
	}
}

// Reset clears all buffered bytes and framing state. Used when a session
// re-enters Idle and a fresh connection attempt begins.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.stopped = false
}
