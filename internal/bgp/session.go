// Package bgp wires the pure FSM (internal/fsm), the wire codec and
// stream framer (internal/bgpwire), the timer service (internal/timer),
// the transport adapter (internal/transport), and the fuzz-aware message
// builder (internal/fuzz) into one BGP-4 speaker per peer, running a
// single-threaded cooperative event loop.
package bgp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/bgpfuzz/internal/bgpwire"
	"github.com/dantte-lp/bgpfuzz/internal/fsm"
	"github.com/dantte-lp/bgpfuzz/internal/fuzz"
	"github.com/dantte-lp/bgpfuzz/internal/timer"
	"github.com/dantte-lp/bgpfuzz/internal/transport"
)

// Default timer durations, overridable at construction (RFC 4271 Section
// 8 suggested values).
const (
	DefaultConnectRetryTime = 5 * time.Second
	DefaultHoldTime         = 90 * time.Second
	DefaultKeepaliveTime    = 30 * time.Second

	// largeHoldTime is the pre-negotiation Hold timer value (RFC 4271
	// Section 8.2.2, "Large Hold Timer").
	largeHoldTime = 4 * time.Minute
)

// Sentinel errors for session configuration validation.
var (
	// ErrInvalidMyAS indicates a zero local AS number.
	ErrInvalidMyAS = errors.New("my_as must be nonzero")

	// ErrInvalidBGPIdentifier indicates an all-zero BGP identifier.
	ErrInvalidBGPIdentifier = errors.New("bgp_id must be nonzero")

	// ErrInvalidHoldTime indicates a configured HoldTime in the
	// forbidden (0, 3) range.
	ErrInvalidHoldTime = errors.New("hold_time must be 0 or >= 3 seconds")
)

// Overrides supplies non-default timer durations at session construction.
// A zero field means "use the default".
type Overrides struct {
	ConnectRetryTime time.Duration
	HoldTime         time.Duration
	KeepaliveTime    time.Duration
}

// Config is the validated, immutable configuration a Session is built
// from.
type Config struct {
	Peer  string // host:port, e.g. "192.0.2.1:179"
	MyAS  uint16
	BGPID [4]byte

	ConnectRetryTime time.Duration
	HoldTime         time.Duration
	KeepaliveTime    time.Duration
}

// validateConfig checks construction-time invariants (spec.md §4.7:
// "construction fails if my_as is 0, bgp_id is 0.0.0.0, or HoldTime in
// (0,3)"). These are ConfigError per the error taxonomy: raised
// synchronously, never entering the FSM.
func validateConfig(myAS uint16, bgpID [4]byte, overrides Overrides) (Config, error) {
	if myAS == 0 {
		return Config{}, ErrInvalidMyAS
	}
	if bgpID == ([4]byte{}) {
		return Config{}, ErrInvalidBGPIdentifier
	}
	hold := overrides.HoldTime
	if hold == 0 {
		hold = DefaultHoldTime
	} else if hold > 0 && hold < 3*time.Second {
		return Config{}, ErrInvalidHoldTime
	}
	connectRetry := overrides.ConnectRetryTime
	if connectRetry == 0 {
		connectRetry = DefaultConnectRetryTime
	}
	keepalive := overrides.KeepaliveTime
	if keepalive == 0 {
		keepalive = DefaultKeepaliveTime
	}
	return Config{
		ConnectRetryTime: connectRetry,
		HoldTime:         hold,
		KeepaliveTime:    keepalive,
	}, nil
}

// recvChSize bounds the façade's command channel, sized to avoid
// blocking external callers posting ManualStart/ManualStop/fuzz attach.
const recvChSize = 4

// command is a façade-to-loop request.
type command struct {
	kind       commandKind
	fuzzSpec   fuzz.Spec
	fuzzDetach bool
	done       chan struct{}
}

type commandKind uint8

const (
	cmdStart commandKind = iota
	cmdStop
	cmdAttachFuzz
	cmdDetachFuzz
)

// Session owns one BGP-4 speaker for one peer: the FSM state, the timer
// handles, the transport, the stream framer, and the fuzz-aware message
// builder. All mutable state is confined to the goroutine started by
// Run; external callers interact only through the command channel and
// the atomic accessor fields, mirroring this module's single-threaded
// cooperative event loop requirement.
type Session struct {
	cfg    Config
	logger *slog.Logger

	state              atomic.Uint32
	connectRetryCount  atomic.Uint32
	messagesSent       atomic.Uint64
	messagesReceived   atomic.Uint64
	stateTransitions   atomic.Uint64
	lastStateChangeNs  atomic.Int64

	negotiatedHold time.Duration

	connectRetryTimer *timer.Timer
	holdTimer         *timer.Timer
	keepaliveTimer    *timer.Timer

	tr     *transport.Transport
	framer *bgpwire.Framer
	build  *fuzz.Builder

	metrics MetricsReporter

	cmdCh chan command
	started chan struct{}
}

// New constructs a Session for peer (host:port). Construction fails
// synchronously on the invariants in spec.md §4.7; it never starts the
// event loop. opts configures optional ambient behavior (currently only
// WithMetrics); a Session with no options attached reports to a no-op
// MetricsReporter.
func New(peer string, myAS uint16, bgpID [4]byte, overrides Overrides, fuzzSpec fuzz.Spec, logger *slog.Logger, opts ...Option) (*Session, error) {
	cfg, err := validateConfig(myAS, bgpID, overrides)
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	cfg.Peer = peer
	cfg.MyAS = myAS
	cfg.BGPID = bgpID

	if logger == nil {
		logger = slog.Default()
	}

	b := fuzz.NewBuilder()
	if fuzzSpec != nil {
		b.Attach(fuzzSpec)
	}

	s := &Session{
		cfg:               cfg,
		logger:            logger.With(slog.String("peer", peer), slog.Uint64("my_as", uint64(myAS))),
		negotiatedHold:    cfg.HoldTime,
		connectRetryTimer: timer.New("ConnectRetry"),
		holdTimer:         timer.New("Hold"),
		keepaliveTimer:    timer.New("Keepalive"),
		tr:                transport.New(peer),
		framer:            bgpwire.NewFramer(),
		build:             b,
		metrics:           noopMetrics{},
		cmdCh:             make(chan command, recvChSize),
		started:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(uint32(fsm.StateIdle))
	return s, nil
}

// -------------------------------------------------------------------------
// Public accessors — atomic reads, safe from any goroutine
// -------------------------------------------------------------------------

// State returns the current FSM state.
func (s *Session) State() fsm.State { return fsm.State(s.state.Load()) }

// PeerAddr returns the configured peer address.
func (s *Session) PeerAddr() string { return s.cfg.Peer }

// MessagesSent returns the total BGP messages transmitted.
func (s *Session) MessagesSent() uint64 { return s.messagesSent.Load() }

// MessagesReceived returns the total BGP messages received.
func (s *Session) MessagesReceived() uint64 { return s.messagesReceived.Load() }

// StateTransitions returns the total FSM state transitions.
func (s *Session) StateTransitions() uint64 { return s.stateTransitions.Load() }

// ConnectRetryCounter returns the current ConnectRetryCounter value.
func (s *Session) ConnectRetryCounter() uint32 { return s.connectRetryCount.Load() }

// LastStateChange returns the timestamp of the most recent FSM
// transition, or the zero time.Time if none has occurred yet.
func (s *Session) LastStateChange() time.Time {
	ns := s.lastStateChangeNs.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// -------------------------------------------------------------------------
// Façade operations — spec.md §4.7
// -------------------------------------------------------------------------

// Start posts ManualStart and blocks until the event loop has taken it
// up. Run must already be active in another goroutine (typically via
// go s.Run(ctx)) before Start is called.
func (s *Session) Start(ctx context.Context) error {
	return s.post(ctx, command{kind: cmdStart})
}

// Stop posts ManualStop and waits until the event loop has taken it up or
// ctx is done. Idempotent; never errors. If the event loop is not
// running, Stop returns only once ctx is done.
func (s *Session) Stop(ctx context.Context) {
	_ = s.post(ctx, command{kind: cmdStop})
}

// AttachFuzzSpec replaces the active FuzzSpec. Valid in any state; takes
// effect for subsequent builds only.
func (s *Session) AttachFuzzSpec(ctx context.Context, spec fuzz.Spec) error {
	return s.post(ctx, command{kind: cmdAttachFuzz, fuzzSpec: spec})
}

// DetachFuzzSpec removes any active FuzzSpec. Valid in any state.
func (s *Session) DetachFuzzSpec(ctx context.Context) error {
	return s.post(ctx, command{kind: cmdDetachFuzz})
}

// post enqueues a command and waits for the loop to acknowledge it or
// for ctx to be cancelled.
func (s *Session) post(ctx context.Context, cmd command) error {
	cmd.done = make(chan struct{})
	select {
	case s.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// -------------------------------------------------------------------------
// Event loop
// -------------------------------------------------------------------------

// Run drives the session's single-threaded event loop until ctx is
// cancelled. It processes, in no fixed priority, façade commands,
// transport events, and the three named timer expiries — serialized
// through one select, matching the "handlers run in the same scheduling
// domain" requirement.
func (s *Session) Run(ctx context.Context) {
	close(s.started)
	s.logger.Info("session loop started", slog.String("state", s.State().String()))
	s.metrics.RegisterSession(s.cfg.Peer)
	defer s.metrics.UnregisterSession(s.cfg.Peer)
	defer s.logger.Info("session loop stopped")

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-s.cmdCh:
			s.handleCommand(ctx, cmd)
			close(cmd.done)

		case ev := <-s.tr.Events():
			s.handleTransportEvent(ev)

		case <-s.connectRetryTimer.C():
			s.connectRetryTimer.Fired()
			s.metrics.IncTimerFired(s.cfg.Peer, s.connectRetryTimer.Name())
			s.dispatch(fsm.EventConnectRetryTimerExpires)

		case <-s.holdTimer.C():
			s.holdTimer.Fired()
			s.metrics.IncTimerFired(s.cfg.Peer, s.holdTimer.Name())
			s.dispatch(fsm.EventHoldTimerExpires)

		case <-s.keepaliveTimer.C():
			s.keepaliveTimer.Fired()
			s.metrics.IncTimerFired(s.cfg.Peer, s.keepaliveTimer.Name())
			s.dispatch(fsm.EventKeepaliveTimerExpires)
		}
	}
}

func (s *Session) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdStart:
		s.dispatch(fsm.EventManualStart)
	case cmdStop:
		s.dispatch(fsm.EventManualStop)
	case cmdAttachFuzz:
		s.build.Attach(cmd.fuzzSpec)
	case cmdDetachFuzz:
		s.build.Detach()
	}
	_ = ctx
}

func (s *Session) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		s.dispatch(fsm.EventTcpConnectionConfirmed)

	case transport.EventFailed, transport.EventClosed:
		s.dispatch(fsm.EventTcpConnectionFails)

	case transport.EventBytes:
		for _, wireEvent := range s.framer.Feed(ev.Data) {
			s.handleWireEvent(wireEvent)
		}
	}
}

// handleWireEvent maps a decoded bgpwire.Event to the FSM event it
// implies, performing the OPEN field validation spec.md §4.5 assigns to
// the session layer (the pure FSM carries no message-field data).
func (s *Session) handleWireEvent(ev bgpwire.Event) {
	s.messagesReceived.Add(1)
	if ev.Kind.IsValid() {
		s.metrics.IncMessagesReceived(s.cfg.Peer, ev.Kind.String())
	}

	if ev.HeaderErr != nil {
		// A malformed OPEN body while awaiting the peer's OPEN is an OPEN
		// message error; every other framing failure is a header error.
		if ev.Kind == bgpwire.KindOpen && s.State() == fsm.StateOpenSent {
			s.dispatch(fsm.EventBGPOpenMsgErr)
			return
		}
		s.dispatch(fsm.EventBGPHeaderErr)
		return
	}

	switch ev.Kind {
	case bgpwire.KindOpen:
		if !s.validateOpen(ev.Open) {
			s.dispatch(fsm.EventBGPOpenMsgErr)
			return
		}
		s.negotiatedHold = negotiateHoldTime(s.cfg.HoldTime, ev.Open.HoldTime)
		s.dispatch(fsm.EventBGPOpen)

	case bgpwire.KindKeepalive:
		s.dispatch(fsm.EventKeepAliveMsg)

	case bgpwire.KindUpdate:
		s.dispatch(fsm.EventUpdateMsg)

	case bgpwire.KindNotification:
		s.dispatch(fsm.EventNotifMsg)

	case bgpwire.KindRouteRefresh:
		// No FSM action; ROUTE-REFRESH handling is out of scope.
	}
}

// validateOpen applies the field validation rules of spec.md §4.5:
// version must be 4 (already enforced by UnmarshalOpen), my_as and
// bgp_id must differ from this speaker's own values and bgp_id must be
// nonzero, and hold_time must be 0 or >= 3.
func (s *Session) validateOpen(o *bgpwire.Open) bool {
	if o.Version != bgpwire.Version {
		return false
	}
	if o.MyAS == s.cfg.MyAS {
		return false
	}
	if o.BGPID == ([4]byte{}) || o.BGPID == s.cfg.BGPID {
		return false
	}
	if o.HoldTime != 0 && o.HoldTime < 3 {
		return false
	}
	return true
}

// negotiateHoldTime applies RFC 4271 Section 4.2's rule: the smaller of
// the two proposed values, expressed in whole seconds.
func negotiateHoldTime(configured time.Duration, offeredSeconds uint16) time.Duration {
	offered := time.Duration(offeredSeconds) * time.Second
	if offered == 0 || configured == 0 {
		return 0
	}
	if offered < configured {
		return offered
	}
	return configured
}

// dispatch runs event through the FSM, executes the resulting actions,
// and records the transition.
func (s *Session) dispatch(event fsm.Event) {
	result := fsm.ApplyEvent(s.State(), event)
	s.executeActions(result.Actions)
	if result.Changed {
		s.state.Store(uint32(result.NewState))
		s.stateTransitions.Add(1)
		s.lastStateChangeNs.Store(time.Now().UnixNano())
		s.logger.Info("state transition",
			slog.String("event", event.String()),
			slog.String("from", result.OldState.String()),
			slog.String("to", result.NewState.String()),
		)
		s.metrics.RecordStateTransition(s.cfg.Peer, result.OldState.String(), result.NewState.String())
		if result.NewState == fsm.StateIdle {
			s.framer.Reset()
		}
	}
}

func (s *Session) executeActions(actions []fsm.Action) {
	for _, action := range actions {
		s.executeAction(action)
	}
}

func (s *Session) executeAction(action fsm.Action) {
	switch action {
	case fsm.ActionInitiateTCP:
		// The dial is bounded by ConnectRetryTime; the context is released
		// when that deadline passes.
		dialCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectRetryTime)
		_ = cancel
		s.tr.Connect(dialCtx)

	case fsm.ActionSendOpen:
		s.sendOpen()
	case fsm.ActionSendKeepalive:
		s.sendKeepalive()
	case fsm.ActionSendNotifOpenError:
		s.sendNotification(bgpwire.ErrCodeOpenMessage, 0)
	case fsm.ActionSendNotifHoldExpired:
		s.sendNotification(bgpwire.ErrCodeHoldTimerExpired, 0)
	case fsm.ActionSendNotifFSMError:
		s.sendNotification(bgpwire.ErrCodeFSM, 0)
	case fsm.ActionSendNotifCease:
		s.sendNotification(bgpwire.ErrCodeCease, 0)

	case fsm.ActionStartConnectRetryTimer:
		s.connectRetryTimer.Start(s.cfg.ConnectRetryTime)
	case fsm.ActionStopConnectRetryTimer:
		s.connectRetryTimer.Stop()
	case fsm.ActionRestartConnectRetryTimer:
		s.connectRetryTimer.Start(s.cfg.ConnectRetryTime)
	case fsm.ActionZeroConnectRetryCounter:
		s.connectRetryCount.Store(0)
	case fsm.ActionIncrementConnectRetryCounter:
		s.connectRetryCount.Add(1)

	case fsm.ActionStartHoldTimerLarge:
		s.holdTimer.Start(largeHoldTime)
	case fsm.ActionRestartHoldTimerNegotiated:
		s.holdTimer.Start(s.negotiatedHold)
	case fsm.ActionRestartHoldTimer:
		s.holdTimer.Start(s.negotiatedHold)
	case fsm.ActionStopHoldTimer:
		s.holdTimer.Stop()

	case fsm.ActionStartKeepaliveTimer:
		s.keepaliveTimer.Start(s.cfg.KeepaliveTime)
	case fsm.ActionRestartKeepaliveTimer:
		s.keepaliveTimer.Start(s.cfg.KeepaliveTime)
	case fsm.ActionStopKeepaliveTimer:
		s.keepaliveTimer.Stop()

	case fsm.ActionCloseTransport:
		if err := s.tr.Close(); err != nil {
			s.logger.Warn("close transport", slog.Any("err", err))
		}

	case fsm.ActionNotifyEstablished:
		s.logger.Info("session established")
	}
}

func (s *Session) sendOpen() {
	open := bgpwire.Open{
		Version:  bgpwire.Version,
		MyAS:     s.cfg.MyAS,
		HoldTime: uint16(s.cfg.HoldTime / time.Second),
		BGPID:    s.cfg.BGPID,
	}
	out, err := s.build.BuildOpen(open)
	s.send(bgpwire.KindOpen, out, err)
}

func (s *Session) sendKeepalive() {
	out, err := s.build.BuildKeepalive()
	s.send(bgpwire.KindKeepalive, out, err)
}

func (s *Session) sendNotification(code, subcode uint8) {
	n := bgpwire.Notification{ErrorCode: code, ErrorSubcode: subcode}
	out, err := s.build.BuildNotification(n)
	s.send(bgpwire.KindNotification, out, err)
}

func (s *Session) send(kind bgpwire.Kind, out []byte, err error) {
	if err != nil {
		s.logger.Error("build outbound message", slog.Any("err", err))
		return
	}
	if _, err := s.tr.Write(out); err != nil {
		s.logger.Warn("write outbound message", slog.Any("err", err))
		return
	}
	s.messagesSent.Add(1)
	s.metrics.IncMessagesSent(s.cfg.Peer, kind.String())
}
