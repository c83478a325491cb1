package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/dial/internal/domain"
)

// ErrDeviceUnavailable means the local camera/microphone could not be
// opened. Surfaced before any store write; call placement aborts cleanly.
var ErrDeviceUnavailable = errors.New("media device unavailable")

// ErrStaleNegotiation marks an answer or candidate arriving for a call the
// local machine no longer recognizes as active. Discarded, never fatal.
var ErrStaleNegotiation = errors.New("stale negotiation")

// MediaStream holds the local tracks acquired for one call.
// Owned by the session for the lifetime of the call; Close stops all tracks
// and must be safe to call more than once.
type MediaStream interface {
	Tracks() []webrtc.TrackLocal
	Close()
}

// MediaSource yields local device tracks for the requested call kind.
type MediaSource interface {
	Acquire(ctx context.Context, kind domain.CallKind) (MediaStream, error)
}

// MediaConn is one peer transport negotiation, caller or callee side.
// The session state machine sequences the calls; MediaConn never touches
// the store.
type MediaConn interface {
	// CreateOffer produces and installs the local offer (caller side).
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyAnswer installs the remote answer. Returns ErrStaleNegotiation
	// unless the local side still has an unanswered offer out.
	ApplyAnswer(webrtc.SessionDescription) error
	// ApplyOfferAndCreateAnswer installs the remote offer and produces the
	// local answer (callee side).
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnClosed(func())
	Close()
}

// MediaDial builds a fresh MediaConn for one call, carrying the given
// local stream.
type MediaDial func(id domain.CallID, stream MediaStream) (MediaConn, error)
