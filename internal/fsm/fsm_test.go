package fsm_test

import (
	"testing"

	"github.com/dantte-lp/bgpfuzz/internal/fsm"
)

func TestApplyEventUnknownTransitionIsIgnored(t *testing.T) {
	t.Parallel()

	// spec.md §4.5: "events received in a state where no transition is
	// defined are silently ignored."
	result := fsm.ApplyEvent(fsm.StateIdle, fsm.EventKeepAliveMsg)
	if result.Changed {
		t.Fatalf("result.Changed = true, want false for undefined transition")
	}
	if result.NewState != fsm.StateIdle {
		t.Errorf("NewState = %v, want StateIdle unchanged", result.NewState)
	}
	if len(result.Actions) != 0 {
		t.Errorf("Actions = %v, want none", result.Actions)
	}
}

func TestApplyEventTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		from        fsm.State
		event       fsm.Event
		wantState   fsm.State
		wantActions []fsm.Action
	}{
		{
			name:      "Idle + ManualStart -> Connect",
			from:      fsm.StateIdle,
			event:     fsm.EventManualStart,
			wantState: fsm.StateConnect,
			wantActions: []fsm.Action{
				fsm.ActionZeroConnectRetryCounter,
				fsm.ActionInitiateTCP,
				fsm.ActionStartConnectRetryTimer,
			},
		},
		{
			name:      "Connect + TcpConnectionConfirmed -> OpenSent",
			from:      fsm.StateConnect,
			event:     fsm.EventTcpConnectionConfirmed,
			wantState: fsm.StateOpenSent,
			wantActions: []fsm.Action{
				fsm.ActionStopConnectRetryTimer,
				fsm.ActionSendOpen,
				fsm.ActionStartHoldTimerLarge,
			},
		},
		{
			name:      "Connect + TcpConnectionFails -> Idle",
			from:      fsm.StateConnect,
			event:     fsm.EventTcpConnectionFails,
			wantState: fsm.StateIdle,
			wantActions: []fsm.Action{
				fsm.ActionStopHoldTimer,
				fsm.ActionCloseTransport,
				fsm.ActionRestartConnectRetryTimer,
			},
		},
		{
			name:      "OpenSent + BGPOpen -> OpenConfirm",
			from:      fsm.StateOpenSent,
			event:     fsm.EventBGPOpen,
			wantState: fsm.StateOpenConfirm,
			wantActions: []fsm.Action{
				fsm.ActionSendKeepalive,
				fsm.ActionStartKeepaliveTimer,
				fsm.ActionRestartHoldTimerNegotiated,
			},
		},
		{
			name:      "OpenSent + BGPOpenMsgErr -> Idle",
			from:      fsm.StateOpenSent,
			event:     fsm.EventBGPOpenMsgErr,
			wantState: fsm.StateIdle,
			wantActions: []fsm.Action{
				fsm.ActionSendNotifOpenError,
				fsm.ActionCloseTransport,
				fsm.ActionIncrementConnectRetryCounter,
			},
		},
		{
			name:      "OpenSent + HoldTimer_Expires sends HoldExpired notification",
			from:      fsm.StateOpenSent,
			event:     fsm.EventHoldTimerExpires,
			wantState: fsm.StateIdle,
			wantActions: []fsm.Action{
				fsm.ActionSendNotifHoldExpired,
				fsm.ActionCloseTransport,
				fsm.ActionIncrementConnectRetryCounter,
			},
		},
		{
			name:      "OpenSent + unexpected KeepAliveMsg sends FSM error",
			from:      fsm.StateOpenSent,
			event:     fsm.EventKeepAliveMsg,
			wantState: fsm.StateIdle,
			wantActions: []fsm.Action{
				fsm.ActionSendNotifFSMError,
				fsm.ActionCloseTransport,
				fsm.ActionIncrementConnectRetryCounter,
			},
		},
		{
			name:      "OpenConfirm + KeepAliveMsg -> Established",
			from:      fsm.StateOpenConfirm,
			event:     fsm.EventKeepAliveMsg,
			wantState: fsm.StateEstablished,
			wantActions: []fsm.Action{
				fsm.ActionRestartHoldTimer,
				fsm.ActionNotifyEstablished,
			},
		},
		{
			name:        "Established + KeepAliveMsg stays, restarts Hold",
			from:        fsm.StateEstablished,
			event:       fsm.EventKeepAliveMsg,
			wantState:   fsm.StateEstablished,
			wantActions: []fsm.Action{fsm.ActionRestartHoldTimer},
		},
		{
			name:        "Established + UpdateMsg stays, restarts Hold",
			from:        fsm.StateEstablished,
			event:       fsm.EventUpdateMsg,
			wantState:   fsm.StateEstablished,
			wantActions: []fsm.Action{fsm.ActionRestartHoldTimer},
		},
		{
			name:        "Established + KeepaliveTimer_Expires sends KEEPALIVE",
			from:        fsm.StateEstablished,
			event:       fsm.EventKeepaliveTimerExpires,
			wantState:   fsm.StateEstablished,
			wantActions: []fsm.Action{fsm.ActionSendKeepalive, fsm.ActionRestartKeepaliveTimer},
		},
		{
			name:      "Established + HoldTimer_Expires -> Idle",
			from:      fsm.StateEstablished,
			event:     fsm.EventHoldTimerExpires,
			wantState: fsm.StateIdle,
			wantActions: []fsm.Action{
				fsm.ActionSendNotifHoldExpired,
				fsm.ActionCloseTransport,
				fsm.ActionIncrementConnectRetryCounter,
			},
		},
		{
			name:      "Established + NotifMsg -> Idle",
			from:      fsm.StateEstablished,
			event:     fsm.EventNotifMsg,
			wantState: fsm.StateIdle,
			wantActions: []fsm.Action{
				fsm.ActionCloseTransport,
				fsm.ActionIncrementConnectRetryCounter,
			},
		},
		{
			name:      "Established + BGPHeaderErr sends no notification",
			from:      fsm.StateEstablished,
			event:     fsm.EventBGPHeaderErr,
			wantState: fsm.StateIdle,
			wantActions: []fsm.Action{
				fsm.ActionCloseTransport,
				fsm.ActionIncrementConnectRetryCounter,
			},
		},
		{
			name:      "OpenConfirm + BGPHeaderErr sends no notification",
			from:      fsm.StateOpenConfirm,
			event:     fsm.EventBGPHeaderErr,
			wantState: fsm.StateIdle,
			wantActions: []fsm.Action{
				fsm.ActionCloseTransport,
				fsm.ActionIncrementConnectRetryCounter,
			},
		},
		{
			name:      "OpenSent + BGPHeaderErr sends FSM-Error notification",
			from:      fsm.StateOpenSent,
			event:     fsm.EventBGPHeaderErr,
			wantState: fsm.StateIdle,
			wantActions: []fsm.Action{
				fsm.ActionSendNotifFSMError,
				fsm.ActionCloseTransport,
				fsm.ActionIncrementConnectRetryCounter,
			},
		},
		{
			name:      "Established + ManualStop sends Cease, zeroes counter",
			from:      fsm.StateEstablished,
			event:     fsm.EventManualStop,
			wantState: fsm.StateIdle,
			wantActions: []fsm.Action{
				fsm.ActionSendNotifCease,
				fsm.ActionStopConnectRetryTimer,
				fsm.ActionStopHoldTimer,
				fsm.ActionStopKeepaliveTimer,
				fsm.ActionCloseTransport,
				fsm.ActionZeroConnectRetryCounter,
			},
		},
		{
			name:      "Connect + ManualStop does not send Cease",
			from:      fsm.StateConnect,
			event:     fsm.EventManualStop,
			wantState: fsm.StateIdle,
			wantActions: []fsm.Action{
				fsm.ActionStopConnectRetryTimer,
				fsm.ActionStopHoldTimer,
				fsm.ActionStopKeepaliveTimer,
				fsm.ActionCloseTransport,
				fsm.ActionZeroConnectRetryCounter,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := fsm.ApplyEvent(tt.from, tt.event)
			if result.OldState != tt.from {
				t.Errorf("OldState = %v, want %v", result.OldState, tt.from)
			}
			if result.NewState != tt.wantState {
				t.Errorf("NewState = %v, want %v", result.NewState, tt.wantState)
			}
			wantChanged := tt.from != tt.wantState
			if result.Changed != wantChanged {
				t.Errorf("Changed = %v, want %v", result.Changed, wantChanged)
			}
			if len(result.Actions) != len(tt.wantActions) {
				t.Fatalf("Actions = %v, want %v", result.Actions, tt.wantActions)
			}
			for i := range result.Actions {
				if result.Actions[i] != tt.wantActions[i] {
					t.Errorf("Actions[%d] = %v, want %v", i, result.Actions[i], tt.wantActions[i])
				}
			}
		})
	}
}

func TestStateStringAlwaysOneOfSix(t *testing.T) {
	t.Parallel()

	for s := fsm.StateIdle; s <= fsm.StateEstablished; s++ {
		if got := s.String(); got == "Unknown" {
			t.Errorf("State(%d).String() = Unknown, want a named state", s)
		}
	}
	if got := fsm.State(99).String(); got != "Unknown" {
		t.Errorf("State(99).String() = %q, want Unknown", got)
	}
}

func TestEventString(t *testing.T) {
	t.Parallel()

	if got := fsm.EventManualStart.String(); got != "ManualStart" {
		t.Errorf("EventManualStart.String() = %q, want ManualStart", got)
	}
	if got := fsm.Event(255).String(); got != "Unknown" {
		t.Errorf("Event(255).String() = %q, want Unknown", got)
	}
}
