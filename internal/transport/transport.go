// Package transport implements the single outbound TCP client this
// speaker uses to reach a peer on port 179. It never frames, retries, or
// parses; it only turns a TCP connection into a stream of asynchronous
// events (connected, failed, bytes received, connection lost) that the
// owning session's single event loop selects on, so a blocking dial or
// read never blocks the FSM.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// DefaultPort is the well-known BGP port (RFC 4271 Section 8).
const DefaultPort = 179

// EventKind tags the variant carried by an Event.
type EventKind uint8

const (
	// EventConnected indicates the TCP connection completed successfully.
	EventConnected EventKind = iota

	// EventFailed indicates the connection attempt did not complete.
	EventFailed

	// EventBytes carries bytes read from the connection.
	EventBytes

	// EventClosed indicates the connection was torn down, locally or by
	// the peer, after having been established.
	EventClosed
)

// Event is a single asynchronous transport notification.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// ErrNotConnected is returned by Write when no connection is established.
var ErrNotConnected = errors.New("transport: not connected")

// dialFunc abstracts net.Dialer.DialContext so tests can substitute an
// in-memory connection (e.g. net.Pipe) without a real socket.
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Transport is a single outbound TCP client to one peer. It is owned
// exclusively by one session; Connect/Write/Close are not safe to call
// concurrently with each other, matching this speaker's shared-nothing,
// one-transport-per-session model.
type Transport struct {
	peer string
	conn net.Conn
	ev   chan Event
	dial dialFunc

	readDone chan struct{}
}

// New returns a Transport that will dial addr (host:port) on Connect.
func New(addr string) *Transport {
	return &Transport{
		peer: addr,
		ev:   make(chan Event, 8),
		dial: (&net.Dialer{}).DialContext,
	}
}

// NewWithDialer returns a Transport that uses dial in place of a real
// net.Dialer. Session construction never calls this directly; it exists so
// tests can substitute an in-memory connection (e.g. net.Pipe) for the
// outbound socket, the same seam the teacher's PacketSender interface
// gives BFD session tests.
func NewWithDialer(addr string, dial func(ctx context.Context, network, address string) (net.Conn, error)) *Transport {
	return &Transport{
		peer: addr,
		ev:   make(chan Event, 8),
		dial: dial,
	}
}

// Events returns the channel the owning session selects on for connect/
// fail/bytes/close notifications. The channel is never closed.
func (t *Transport) Events() <-chan Event {
	return t.ev
}

// Connect starts an asynchronous dial. It returns immediately; the
// outcome is delivered as an EventConnected or EventFailed on Events().
// ctx bounds only the dial attempt; the owning session passes a context
// whose deadline is its ConnectRetryTime.
func (t *Transport) Connect(ctx context.Context) {
	go func() {
		conn, err := t.dial(ctx, "tcp4", t.peer)
		if err != nil {
			t.ev <- Event{Kind: EventFailed, Err: fmt.Errorf("dial %s: %w", t.peer, err)}
			return
		}
		t.conn = conn
		t.ev <- Event{Kind: EventConnected}
		t.startReadLoop(conn)
	}()
}

// startReadLoop launches the single reader goroutine for an established
// connection. It reads from the conn argument directly rather than
// re-reading t.conn on every iteration, so Close (run by the owning
// session goroutine) can safely clear t.conn once the reader has exited
// without the two goroutines touching the field concurrently. Every
// read is forwarded as an EventBytes; a read error or EOF is forwarded
// once as EventClosed, and readDone is closed so Close can join this
// goroutine before tearing down further.
func (t *Transport) startReadLoop(conn net.Conn) {
	t.readDone = make(chan struct{})
	go func() {
		defer close(t.readDone)
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				t.ev <- Event{Kind: EventBytes, Data: chunk}
			}
			if err != nil {
				t.ev <- Event{Kind: EventClosed, Err: err}
				return
			}
		}
	}()
}

// Write sends bytes on the established connection. Write does not block
// on framing or retry logic — the caller (the message builder's output)
// has already produced complete wire bytes.
func (t *Transport) Write(p []byte) (int, error) {
	if t.conn == nil {
		return 0, ErrNotConnected
	}
	n, err := t.conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("transport write: %w", err)
	}
	return n, nil
}

// Close tears down the connection, if any. Close is idempotent. It
// closes the underlying conn (unblocking the reader goroutine's Read)
// and joins readDone before clearing t.conn, so the reader has always
// exited — and will never touch t.conn again — by the time Close
// returns. This mirrors the teacher's discipline of reading conn only
// from its owning goroutine (internal/netio/listener.go), rather than
// nil-ing it out from under a concurrent reader.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	if t.readDone != nil {
		<-t.readDone
	}
	t.conn = nil
	if err != nil {
		return fmt.Errorf("transport close: %w", err)
	}
	return nil
}

// Connected reports whether a connection is currently established.
func (t *Transport) Connected() bool {
	return t.conn != nil
}
