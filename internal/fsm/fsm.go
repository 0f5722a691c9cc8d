// Package fsm implements the BGP-4 session finite state machine (RFC 4271
// Section 8) as a pure function over a transition table: no side effects,
// no Session dependency. The table covers the Mandatory event subset of
// RFC 4271 Section 8.1 only — Optional events (route-refresh capability
// advertisement, connection collision resolution, and similar extensions)
// are out of scope for this speaker.
package fsm

// State is one of the six RFC 4271 Section 8 session states.
type State uint8

const (
	// StateIdle is the initial state: no resources allocated, no connection.
	StateIdle State = iota

	// StateConnect indicates a TCP connection attempt is in progress.
	StateConnect

	// StateActive indicates the speaker is attempting to accept an inbound
	// TCP connection. Unreachable by any transition in this speaker: it
	// has no passive/listen mode and no connection-collision handling
	// (both explicit non-goals), so Active exists only to complete the
	// six-state enumeration RFC 4271 defines.
	StateActive

	// StateOpenSent indicates the local OPEN has been sent and the speaker
	// is waiting for the peer's OPEN.
	StateOpenSent

	// StateOpenConfirm indicates both OPENs have been exchanged and the
	// speaker is waiting for a KEEPALIVE to confirm the connection.
	StateOpenConfirm

	// StateEstablished indicates the session is fully up.
	StateEstablished
)

// stateNames maps state values to human-readable strings.
var stateNames = [...]string{
	"Idle", "Connect", "Active", "OpenSent", "OpenConfirm", "Established",
}

// String returns the human-readable name for the state.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Event is a BGP FSM event drawn from the Mandatory subset of RFC 4271
// Section 8.1.
type Event uint8

const (
	// EventManualStart is an administrative request to begin the session.
	EventManualStart Event = iota

	// EventManualStop is an administrative request to tear the session down.
	EventManualStop

	// EventConnectRetryTimerExpires fires when the ConnectRetry timer expires.
	EventConnectRetryTimerExpires

	// EventHoldTimerExpires fires when the Hold timer expires.
	EventHoldTimerExpires

	// EventKeepaliveTimerExpires fires when the Keepalive timer expires.
	EventKeepaliveTimerExpires

	// EventTcpCRAcked indicates the local active TCP open succeeded.
	EventTcpCRAcked

	// EventTcpConnectionConfirmed indicates the TCP connection completed.
	EventTcpConnectionConfirmed

	// EventTcpConnectionFails indicates the TCP connection attempt failed
	// or an established connection was lost at the transport level.
	EventTcpConnectionFails

	// EventBGPOpen indicates a syntactically and semantically valid OPEN
	// message was received.
	EventBGPOpen

	// EventBGPHeaderErr indicates the stream framer rejected a message header.
	EventBGPHeaderErr

	// EventBGPOpenMsgErr indicates an OPEN message failed field validation.
	EventBGPOpenMsgErr

	// EventNotifMsgVerErr indicates a NOTIFICATION referencing an
	// unsupported version was received before OPEN exchange completed.
	EventNotifMsgVerErr

	// EventNotifMsg indicates a NOTIFICATION message was received.
	EventNotifMsg

	// EventKeepAliveMsg indicates a KEEPALIVE message was received.
	EventKeepAliveMsg

	// EventUpdateMsg indicates an UPDATE message was received.
	EventUpdateMsg

	// EventUpdateMsgErr indicates an UPDATE message failed validation.
	EventUpdateMsgErr
)

var eventNames = [...]string{
	"ManualStart", "ManualStop", "ConnectRetryTimer_Expires", "HoldTimer_Expires",
	"KeepaliveTimer_Expires", "Tcp_CR_Acked", "TcpConnectionConfirmed",
	"TcpConnectionFails", "BGPOpen", "BGPHeaderErr", "BGPOpenMsgErr",
	"NotifMsgVerErr", "NotifMsg", "KeepAliveMsg", "UpdateMsg", "UpdateMsgErr",
}

// String returns the human-readable name for the event.
func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "Unknown"
}

// Action is a side effect the session executes after a transition. The
// FSM only names which actions apply; it carries no message- or
// timer-duration-specific data — the session supplies that from its own
// negotiated/configured fields when executing each action.
type Action uint8

const (
	// ActionInitiateTCP starts an outbound TCP connection attempt.
	ActionInitiateTCP Action = iota + 1

	// ActionSendOpen transmits an OPEN built from the session's
	// configured hold_time, my_as, and bgp_id.
	ActionSendOpen

	// ActionSendKeepalive transmits a KEEPALIVE.
	ActionSendKeepalive

	// ActionSendNotifOpenError transmits a NOTIFICATION with error_code
	// 0x02 (OPEN Message Error).
	ActionSendNotifOpenError

	// ActionSendNotifHoldExpired transmits a NOTIFICATION with error_code
	// 0x04 (Hold Timer Expired).
	ActionSendNotifHoldExpired

	// ActionSendNotifFSMError transmits a NOTIFICATION with error_code
	// 0x05 (Finite State Machine Error).
	ActionSendNotifFSMError

	// ActionSendNotifCease transmits a NOTIFICATION with error_code 0x06
	// (Cease).
	ActionSendNotifCease

	// ActionStartConnectRetryTimer arms the ConnectRetry timer at its
	// configured duration.
	ActionStartConnectRetryTimer

	// ActionStopConnectRetryTimer disarms the ConnectRetry timer.
	ActionStopConnectRetryTimer

	// ActionRestartConnectRetryTimer restarts the ConnectRetry timer at
	// its configured duration.
	ActionRestartConnectRetryTimer

	// ActionZeroConnectRetryCounter resets ConnectRetryCounter to 0.
	ActionZeroConnectRetryCounter

	// ActionIncrementConnectRetryCounter increments ConnectRetryCounter by 1.
	ActionIncrementConnectRetryCounter

	// ActionStartHoldTimerLarge arms the Hold timer at the large,
	// pre-negotiation value (4 minutes, RFC 4271 Section 8.2.2).
	ActionStartHoldTimerLarge

	// ActionRestartHoldTimerNegotiated restarts the Hold timer at the
	// negotiated value (min of offered and configured, RFC 4271 Section 4.4).
	ActionRestartHoldTimerNegotiated

	// ActionRestartHoldTimer restarts the Hold timer at its current
	// negotiated duration, unchanged.
	ActionRestartHoldTimer

	// ActionStopHoldTimer disarms the Hold timer.
	ActionStopHoldTimer

	// ActionStartKeepaliveTimer arms the Keepalive timer at its configured duration.
	ActionStartKeepaliveTimer

	// ActionRestartKeepaliveTimer restarts the Keepalive timer at its
	// configured duration.
	ActionRestartKeepaliveTimer

	// ActionStopKeepaliveTimer disarms the Keepalive timer.
	ActionStopKeepaliveTimer

	// ActionCloseTransport tears down the TCP connection.
	ActionCloseTransport

	// ActionNotifyEstablished signals session consumers that Established was reached.
	ActionNotifyEstablished
)

// stateEvent is the FSM transition table key.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state and ordered side effects for a
// single FSM transition. Actions execute in the order listed.
type transition struct {
	newState State
	actions  []Action
}

// Result holds the outcome of applying an event to the FSM.
type Result struct {
	OldState State
	NewState State
	Actions  []Action
	Changed  bool
}

// unexpectedInOpenSent builds the Mandatory-subset "unexpected event while
// waiting for the peer's OPEN" transitions (RFC 4271 Section 8.2.2,
// OpenSent state): every one of these sends a NOTIFICATION (Hold Timer
// Expired for the timer event, FSM Error otherwise), closes the
// transport, increments ConnectRetryCounter, and returns to Idle.
func unexpectedInOpenSent(event Event) transition {
	action := ActionSendNotifFSMError
	if event == EventHoldTimerExpires {
		action = ActionSendNotifHoldExpired
	}
	return transition{
		newState: StateIdle,
		actions: []Action{
			action,
			ActionCloseTransport,
			ActionIncrementConnectRetryCounter,
		},
	}
}

// manualStop describes the ManualStop transition for a given state.
// "Past Connect" states (OpenSent, OpenConfirm, Established) send a Cease
// NOTIFICATION first; Connect itself does not (RFC 4271 Section 8.2.2:
// only states where an OPEN exchange is in flight or complete notify the
// peer on administrative stop).
func manualStop(sendCease bool) transition {
	actions := []Action{
		ActionStopConnectRetryTimer,
		ActionStopHoldTimer,
		ActionStopKeepaliveTimer,
	}
	if sendCease {
		actions = append([]Action{ActionSendNotifCease}, actions...)
	}
	actions = append(actions, ActionCloseTransport, ActionZeroConnectRetryCounter)
	return transition{newState: StateIdle, actions: actions}
}

// table is the complete BGP FSM transition table, restricted to the
// Mandatory event subset and the transitions named in RFC 4271 Section
// 8.2.2 that this speaker implements (see package doc). Unlisted
// (state, event) pairs are silently ignored: Event handling is guarded
// by state, and an event with no defined transition in the current
// state is dropped, matching the Mandatory-subset behavior this speaker
// targets (Optional-event and connection-collision handling are
// explicitly out of scope).
var table = map[stateEvent]transition{
	// Idle + ManualStart: zero the retry counter, initiate TCP, move to Connect.
	{StateIdle, EventManualStart}: {
		newState: StateConnect,
		actions: []Action{
			ActionZeroConnectRetryCounter,
			ActionInitiateTCP,
			ActionStartConnectRetryTimer,
		},
	},

	// Connect + TcpConnectionConfirmed: send OPEN, arm the large
	// pre-negotiation Hold timer, move to OpenSent.
	{StateConnect, EventTcpConnectionConfirmed}: {
		newState: StateOpenSent,
		actions: []Action{
			ActionStopConnectRetryTimer,
			ActionSendOpen,
			ActionStartHoldTimerLarge,
		},
	},

	// Connect + Tcp_CR_Acked: identical handling to TcpConnectionConfirmed
	// for this speaker (no distinction between active-open-acked and
	// passive-accept-confirmed; Active is unreachable, see StateActive doc).
	{StateConnect, EventTcpCRAcked}: {
		newState: StateOpenSent,
		actions: []Action{
			ActionStopConnectRetryTimer,
			ActionSendOpen,
			ActionStartHoldTimerLarge,
		},
	},

	// Connect + TcpConnectionFails: stop timers, close transport, return
	// to Idle, restart ConnectRetryTimer.
	{StateConnect, EventTcpConnectionFails}: {
		newState: StateIdle,
		actions: []Action{
			ActionStopHoldTimer,
			ActionCloseTransport,
			ActionRestartConnectRetryTimer,
		},
	},

	// Connect + ManualStop: past-Connect notification does not apply yet.
	{StateConnect, EventManualStop}: manualStop(false),

	// OpenSent + BGPOpen: field validation happens in the session before
	// this event is posted (valid OPEN only); send KEEPALIVE, arm
	// Keepalive timer, restart Hold timer at the negotiated value, move
	// to OpenConfirm.
	{StateOpenSent, EventBGPOpen}: {
		newState: StateOpenConfirm,
		actions: []Action{
			ActionSendKeepalive,
			ActionStartKeepaliveTimer,
			ActionRestartHoldTimerNegotiated,
		},
	},

	// OpenSent + BGPOpenMsgErr: OPEN failed field validation.
	{StateOpenSent, EventBGPOpenMsgErr}: {
		newState: StateIdle,
		actions: []Action{
			ActionSendNotifOpenError,
			ActionCloseTransport,
			ActionIncrementConnectRetryCounter,
		},
	},

	// OpenSent + unexpected event: HoldTimer_Expires, NotifMsg,
	// KeepAliveMsg, UpdateMsg, BGPHeaderErr all land here.
	{StateOpenSent, EventHoldTimerExpires}: unexpectedInOpenSent(EventHoldTimerExpires),
	{StateOpenSent, EventNotifMsg}:         unexpectedInOpenSent(EventNotifMsg),
	{StateOpenSent, EventKeepAliveMsg}:     unexpectedInOpenSent(EventKeepAliveMsg),
	{StateOpenSent, EventUpdateMsg}:        unexpectedInOpenSent(EventUpdateMsg),
	{StateOpenSent, EventBGPHeaderErr}:     unexpectedInOpenSent(EventBGPHeaderErr),

	// OpenSent + ManualStop.
	{StateOpenSent, EventManualStop}: manualStop(true),

	// OpenConfirm + KeepAliveMsg: restart Hold timer, move to Established.
	{StateOpenConfirm, EventKeepAliveMsg}: {
		newState: StateEstablished,
		actions: []Action{
			ActionRestartHoldTimer,
			ActionNotifyEstablished,
		},
	},

	// OpenConfirm + BGPHeaderErr: a corrupted frame is never signalable
	// back to the sender (the framing itself cannot be trusted), so unlike
	// the OpenSent "unexpected event" bucket this sends no NOTIFICATION —
	// it only tears the connection down, matching TransportError handling.
	{StateOpenConfirm, EventBGPHeaderErr}: {
		newState: StateIdle,
		actions: []Action{
			ActionCloseTransport,
			ActionIncrementConnectRetryCounter,
		},
	},

	// OpenConfirm + ManualStop.
	{StateOpenConfirm, EventManualStop}: manualStop(true),

	// Established + KeepAliveMsg: restart Hold timer, stay.
	{StateEstablished, EventKeepAliveMsg}: {
		newState: StateEstablished,
		actions:  []Action{ActionRestartHoldTimer},
	},

	// Established + UpdateMsg: restart Hold timer, stay. Route processing
	// is out of scope.
	{StateEstablished, EventUpdateMsg}: {
		newState: StateEstablished,
		actions:  []Action{ActionRestartHoldTimer},
	},

	// Established + KeepaliveTimer_Expires: send KEEPALIVE, restart
	// Keepalive timer.
	{StateEstablished, EventKeepaliveTimerExpires}: {
		newState: StateEstablished,
		actions:  []Action{ActionSendKeepalive, ActionRestartKeepaliveTimer},
	},

	// Established + HoldTimer_Expires: send NOTIFICATION 0x04, close,
	// increment counter, return to Idle.
	{StateEstablished, EventHoldTimerExpires}: {
		newState: StateIdle,
		actions: []Action{
			ActionSendNotifHoldExpired,
			ActionCloseTransport,
			ActionIncrementConnectRetryCounter,
		},
	},

	// Established + NotifMsg: close transport, increment counter, return to Idle.
	{StateEstablished, EventNotifMsg}: {
		newState: StateIdle,
		actions: []Action{
			ActionCloseTransport,
			ActionIncrementConnectRetryCounter,
		},
	},

	// Established + BGPHeaderErr: no NOTIFICATION, same reasoning as
	// OpenConfirm above.
	{StateEstablished, EventBGPHeaderErr}: {
		newState: StateIdle,
		actions: []Action{
			ActionCloseTransport,
			ActionIncrementConnectRetryCounter,
		},
	},

	// Established + ManualStop.
	{StateEstablished, EventManualStop}: manualStop(true),
}

// ApplyEvent applies event to currentState and returns the transition
// outcome. This is a pure function: the caller executes the returned
// actions. An (state, event) pair absent from the table leaves the state
// unchanged with an empty action list.
func ApplyEvent(currentState State, event Event) Result {
	tr, ok := table[stateEvent{currentState, event}]
	if !ok {
		return Result{OldState: currentState, NewState: currentState, Changed: false}
	}
	return Result{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
