package core

import "github.com/dkeye/dial/internal/domain"

// CallState is the UI-facing lifecycle state of the current call.
type CallState string

const (
	CallStateIdle        CallState = "idle"
	CallStateOutgoing    CallState = "outgoing"
	CallStateIncoming    CallState = "incoming"
	CallStateNegotiating CallState = "negotiating"
	CallStateActive      CallState = "active"
	CallStateEnded       CallState = "ended"
)

// Notifier is the UI sink for lifecycle transitions. Implementations must
// not block; the core calls it while holding session state.
type Notifier interface {
	CallStateChanged(state CallState, peer domain.UserID)
}

// NopNotifier discards all transitions.
type NopNotifier struct{}

func (NopNotifier) CallStateChanged(CallState, domain.UserID) {}
