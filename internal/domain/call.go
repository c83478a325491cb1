package domain

import (
	"fmt"
	"time"
)

// CallID is unique per pair-session: callerID_calleeID_unixMillis.
type CallID string

type CallKind string

const (
	KindAudio CallKind = "audio"
	KindVideo CallKind = "video"
)

type CallStatus string

const (
	StatusRinging  CallStatus = "ringing"
	StatusAccepted CallStatus = "accepted"
	StatusDeclined CallStatus = "declined"
	StatusEnded    CallStatus = "ended"
	StatusMissed   CallStatus = "missed"
)

// Terminal reports whether the status ends the call lifecycle.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusDeclined, StatusEnded, StatusMissed:
		return true
	}
	return false
}

// Call is the mailbox record stored at calls/{calleeID}.
type Call struct {
	ID        CallID     `json:"callID"`
	CallerID  UserID     `json:"callerID"`
	Kind      CallKind   `json:"callType"`
	Status    CallStatus `json:"status"`
	CreatedAt int64      `json:"timestamp"`
}

func NewCallID(caller, callee UserID, now time.Time) CallID {
	return CallID(fmt.Sprintf("%s_%s_%d", caller, callee, now.UnixMilli()))
}

// NewCall builds a fresh ringing record for the callee's mailbox.
func NewCall(caller, callee UserID, kind CallKind, now time.Time) *Call {
	return &Call{
		ID:        NewCallID(caller, callee, now),
		CallerID:  caller,
		Kind:      kind,
		Status:    StatusRinging,
		CreatedAt: now.UnixMilli(),
	}
}
