package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/dial/internal/core"
	"github.com/dkeye/dial/internal/domain"
)

// PlaceCall rings the peer. Media is acquired before anything is written to
// the store, so a denied device leaves no partial state behind.
func (m *Manager) PlaceCall(ctx context.Context, kind domain.CallKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		return ErrCallInProgress
	}

	stream, err := m.media.Acquire(ctx, kind)
	if err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}

	rec := domain.NewCall(m.self, m.peer, kind, m.now())
	cs := &callerSession{
		session: session{
			id:     rec.ID,
			kind:   kind,
			stream: stream,
			seen:   make(map[string]struct{}),
		},
		peer: m.peer,
	}

	conn, err := m.dial(cs.id, stream)
	if err != nil {
		stream.Close()
		return fmt.Errorf("dial transport: %w", err)
	}
	cs.conn = conn
	base := m.ctx
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		m.publishCandidate(base, cs.localCandidatesPath(), ci)
	})
	conn.OnClosed(func() { go m.onTransportClosed(cs) })

	// Publish the ringing record into the callee's mailbox.
	if err := m.store.Set(ctx, core.CallPath(m.peer), rec); err != nil {
		conn.Close()
		stream.Close()
		return fmt.Errorf("publish call record: %w", err)
	}
	m.sess = cs

	offer, err := conn.CreateOffer()
	if err != nil {
		m.abortLocked(ctx, cs)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := m.store.Set(ctx, core.OfferPath(cs.id), sdpPayload{Type: offer.Type.String(), SDP: offer.SDP}); err != nil {
		m.abortLocked(ctx, cs)
		return fmt.Errorf("publish offer: %w", err)
	}

	if err := m.armCallerWatchersLocked(cs); err != nil {
		m.abortLocked(ctx, cs)
		return err
	}

	cs.ringTimer = time.AfterFunc(m.cfg.RingTimeout, func() { m.onRingTimeout(cs) })
	m.setStateLocked(core.CallStateOutgoing)
	log.Info().Str("module", "call").Str("user", string(m.self)).Str("call_id", string(cs.id)).Str("kind", string(kind)).Msg("placed call")
	return nil
}

func (m *Manager) armCallerWatchersLocked(cs *callerSession) error {
	unAnswer, err := m.store.Watch(m.ctx, core.AnswerPath(cs.id), func(snap core.Snapshot) {
		m.onAnswer(cs, snap)
	})
	if err != nil {
		return fmt.Errorf("watch answer: %w", err)
	}
	cs.unwatch = append(cs.unwatch, unAnswer)

	unCands, err := m.store.Watch(m.ctx, cs.remoteCandidatesPath(), func(snap core.Snapshot) {
		m.onRemoteCandidates(cs, snap)
	})
	if err != nil {
		return fmt.Errorf("watch callee candidates: %w", err)
	}
	cs.unwatch = append(cs.unwatch, unCands)

	// Termination signals for the caller arrive on the record it wrote into
	// the callee's mailbox: the callee advances its status or deletes it.
	unStatus, err := m.store.Watch(m.ctx, core.CallPath(m.peer), func(snap core.Snapshot) {
		m.onPeerMailbox(cs, snap)
	})
	if err != nil {
		return fmt.Errorf("watch peer mailbox: %w", err)
	}
	cs.unwatch = append(cs.unwatch, unStatus)
	return nil
}

// abortLocked unwinds a half-placed call: best-effort record removal, then
// local cleanup without a terminal status (nothing rang yet).
func (m *Manager) abortLocked(ctx context.Context, cs *callerSession) {
	if err := m.store.Delete(ctx, core.CallPath(m.peer)); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("call_id", string(cs.id)).Msg("abort record delete failed")
	}
	if err := m.store.Delete(ctx, core.SessionPath(cs.id)); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("call_id", string(cs.id)).Msg("abort bundle delete failed")
	}
	m.finishLocked(core.CallStateEnded)
}

// onAnswer applies the callee's answer, but only while this caller session
// is still current and still awaiting one.
func (m *Manager) onAnswer(cs *callerSession, snap core.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != cs || !snap.Exists() || cs.active {
		return
	}
	var p sdpPayload
	if err := snap.Unmarshal(&p); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("call_id", string(cs.id)).Msg("bad answer payload")
		return
	}
	if err := cs.conn.ApplyAnswer(p.description()); err != nil {
		if errors.Is(err, core.ErrStaleNegotiation) {
			log.Debug().Str("module", "call").Str("call_id", string(cs.id)).Msg("stale answer discarded")
			return
		}
		log.Error().Err(err).Str("module", "call").Str("call_id", string(cs.id)).Msg("apply answer failed")
		return
	}
	if cs.ringTimer != nil {
		cs.ringTimer.Stop()
	}
	cs.active = true
	cs.activeAt = m.now()
	m.setStateLocked(core.CallStateActive)
}

func (m *Manager) onRemoteCandidates(s roleSession, snap core.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != s || !snap.Exists() {
		return
	}
	s.base().applyCandidates(snap)
}

// onPeerMailbox watches the callee's mailbox for lifecycle transitions.
func (m *Manager) onPeerMailbox(cs *callerSession, snap core.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != cs {
		return
	}
	if !snap.Exists() {
		// Record deleted out from under us: the callee tore down.
		m.finishLocked(core.CallStateEnded)
		return
	}
	var rec domain.Call
	if err := snap.Unmarshal(&rec); err != nil {
		return
	}
	if rec.ID != cs.id {
		// Another caller clobbered the mailbox; our call is gone.
		log.Warn().Str("module", "call").Str("call_id", string(cs.id)).Str("other", string(rec.ID)).Msg("mailbox taken by another call")
		m.finishLocked(core.CallStateEnded)
		return
	}
	switch rec.Status {
	case domain.StatusAccepted:
		// The accepted status and the answer live under different keys;
		// either may arrive first.
		if !cs.negotiating && !cs.active {
			cs.negotiating = true
			if cs.ringTimer != nil {
				cs.ringTimer.Stop()
			}
			m.setStateLocked(core.CallStateNegotiating)
		}
	case domain.StatusDeclined, domain.StatusEnded, domain.StatusMissed:
		m.finishLocked(core.CallStateEnded)
	}
}

// onRingTimeout fires when the callee never left ringing within the window:
// record the missed call, signal the callee, tear down.
func (m *Manager) onRingTimeout(cs *callerSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != cs || cs.negotiating || cs.active {
		return
	}
	ctx := context.Background()
	m.history.Missed(ctx, cs.kind)
	m.updateStatusBestEffort(ctx, cs.statusPath(), domain.StatusMissed)
	m.scheduleTeardown(cs.statusPath(), cs.id)
	m.finishLocked(core.CallStateEnded)
}

// onTransportClosed handles the peer transport dying mid-call without a
// store signal.
func (m *Manager) onTransportClosed(s roleSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != s || !s.base().active {
		return
	}
	m.finishLocked(core.CallStateEnded)
}
