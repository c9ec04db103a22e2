package session_test

import (
	"testing"

	"github.com/relaymesh/relaymesh/internal/session"
)

func TestApplyEventHandshakeFlow(t *testing.T) {
	t.Parallel()

	r := session.ApplyEvent(session.StateConnecting, session.EventDialSucceeded)
	if r.NewState != session.StateHandshaking || !r.Changed {
		t.Fatalf("Connecting+DialSucceeded = %v (changed=%v), want Handshaking", r.NewState, r.Changed)
	}
	if len(r.Actions) != 1 || r.Actions[0] != session.ActionSendHandshake {
		t.Errorf("actions = %v, want [SendHandshake]", r.Actions)
	}

	r = session.ApplyEvent(r.NewState, session.EventHandshakeAckRecv)
	if r.NewState != session.StateReady || !r.Changed {
		t.Fatalf("Handshaking+HandshakeAckRecv = %v (changed=%v), want Ready", r.NewState, r.Changed)
	}
}

func TestApplyEventUnknownPairIsIgnored(t *testing.T) {
	t.Parallel()

	r := session.ApplyEvent(session.StateReady, session.EventHandshakeSent)
	if r.Changed {
		t.Errorf("Ready+HandshakeSent changed state to %v, want no-op", r.NewState)
	}
	if len(r.Actions) != 0 {
		t.Errorf("actions = %v, want none", r.Actions)
	}
}

func TestApplyEventSupersededFromReadyGoesThroughClosing(t *testing.T) {
	t.Parallel()

	r := session.ApplyEvent(session.StateReady, session.EventSuperseded)
	if r.NewState != session.StateClosing {
		t.Fatalf("Ready+Superseded = %v, want Closing", r.NewState)
	}

	r = session.ApplyEvent(r.NewState, session.EventClosed)
	if r.NewState != session.StateClosed {
		t.Fatalf("Closing+Closed = %v, want Closed", r.NewState)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	cases := map[session.State]string{
		session.StateConnecting:  "connecting",
		session.StateHandshaking: "handshaking",
		session.StateReady:       "ready",
		session.StateClosing:     "closing",
		session.StateClosed:      "closed",
	}

	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
