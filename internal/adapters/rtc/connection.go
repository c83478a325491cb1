// Package rtc wraps pion/webrtc as the core.MediaConn peer transport.
// It never reads or writes the document store; the session state machine
// feeds it remote descriptions and candidates and relays its outputs.
package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/dial/internal/core"
	"github.com/dkeye/dial/internal/domain"
)

type Conn struct {
	pc     *webrtc.PeerConnection
	callID domain.CallID

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onClosed func()

	closeOnce sync.Once
}

var _ core.MediaConn = (*Conn)(nil)

func Config(stunServers []string) webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
}

// New builds a peer connection with the local stream's tracks attached and
// the state callbacks wired.
func New(cfg webrtc.Configuration, callID domain.CallID, stream core.MediaStream) (*Conn, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &Conn{pc: pc, callID: callID}

	for _, track := range stream.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("call_id", string(c.callID)).Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("call_id", string(c.callID)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			if c.onClosed != nil {
				c.onClosed()
			}
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("call_id", string(c.callID)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(track, receiver)
		}
	})

	return c, nil
}

// CreateOffer produces the local offer and installs it. Candidates trickle
// through OnICECandidate as they are gathered.
func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

// ApplyAnswer installs the remote answer only while our offer is still
// unanswered, so a late answer for a torn-down session is discarded.
func (c *Conn) ApplyAnswer(answer webrtc.SessionDescription) error {
	if c.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return core.ErrStaleNegotiation
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (c *Conn) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return c.pc.LocalDescription(), nil
}

func (c *Conn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

// OnTrack sets application-level callback for remote tracks.
func (c *Conn) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) { c.onTrack = fn }

// OnClosed sets application-level callback for transport teardown.
func (c *Conn) OnClosed(fn func()) { c.onClosed = fn }

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("call_id", string(c.callID)).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("call_id", string(c.callID)).Msg("closed")
		}
	})
}
