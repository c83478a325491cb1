package call

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/dial/internal/core"
	"github.com/dkeye/dial/internal/domain"
)

// onOwnMailbox is the always-armed watcher on calls/{self}. While idle it
// detects incoming rings; while in the callee role the same record is where
// the caller writes termination signals.
func (m *Manager) onOwnMailbox(snap core.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs, ok := m.sess.(*calleeSession); ok {
		if !snap.Exists() {
			// Caller deleted the record: hung up or cancelled.
			m.finishLocked(core.CallStateEnded)
			return
		}
		var rec domain.Call
		if err := snap.Unmarshal(&rec); err != nil {
			return
		}
		if rec.ID != cs.id {
			return
		}
		switch rec.Status {
		case domain.StatusEnded, domain.StatusMissed:
			m.finishLocked(core.CallStateEnded)
		}
		return
	}

	// Busy in the caller role or mid-teardown: a ring in our mailbox now is
	// not actionable.
	if m.sess != nil || !snap.Exists() {
		return
	}
	var rec domain.Call
	if err := snap.Unmarshal(&rec); err != nil {
		return
	}
	if rec.Status != domain.StatusRinging {
		return
	}
	if rec.CallerID != m.peer {
		return
	}
	// A ringing record older than the ring window is a leftover from a
	// vanished caller, not a live ring.
	if m.now().UnixMilli()-rec.CreatedAt >= m.cfg.IncomingRingTimeout.Milliseconds() {
		return
	}

	cs := &calleeSession{
		session: session{
			id:   rec.ID,
			kind: rec.Kind,
			seen: make(map[string]struct{}),
		},
		self: m.self,
	}
	m.sess = cs
	// Slightly longer than the caller's window: in the common case the
	// caller's missed write arrives first and this timer never fires.
	cs.ringTimer = time.AfterFunc(m.cfg.IncomingRingTimeout, func() { m.onIncomingRingTimeout(cs) })
	m.setStateLocked(core.CallStateIncoming)
	log.Info().Str("module", "call").Str("user", string(m.self)).Str("call_id", string(cs.id)).Str("kind", string(rec.Kind)).Msg("incoming call")
}

// Accept joins the ringing call: acquire media, advance the mailbox status,
// and only then read the offer — media is never negotiated for a call we
// have not agreed to join.
func (m *Manager) Accept(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.sess.(*calleeSession)
	if !ok {
		return ErrNoIncomingCall
	}
	if cs.active {
		return nil
	}

	stream, err := m.media.Acquire(ctx, cs.kind)
	if err != nil {
		// Still ringing; the user may retry or decline.
		return fmt.Errorf("acquire media: %w", err)
	}

	if err := m.updateStatus(ctx, cs.statusPath(), domain.StatusAccepted); err != nil {
		// Nothing advanced remotely; the session stays ringing with its
		// timer still armed.
		stream.Close()
		return fmt.Errorf("accept status write: %w", err)
	}
	if cs.ringTimer != nil {
		cs.ringTimer.Stop()
	}
	cs.stream = stream
	cs.negotiating = true
	m.setStateLocked(core.CallStateNegotiating)

	conn, err := m.dial(cs.id, stream)
	if err != nil {
		m.abortAcceptLocked(ctx, cs)
		return fmt.Errorf("dial transport: %w", err)
	}
	cs.conn = conn
	base := m.ctx
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		m.publishCandidate(base, cs.localCandidatesPath(), ci)
	})
	conn.OnClosed(func() { go m.onTransportClosed(cs) })

	offerSnap, err := m.store.Get(ctx, core.OfferPath(cs.id))
	if err != nil || !offerSnap.Exists() {
		m.abortAcceptLocked(ctx, cs)
		if err != nil {
			return fmt.Errorf("read offer: %w", err)
		}
		return core.ErrStaleNegotiation
	}
	var p sdpPayload
	if err := offerSnap.Unmarshal(&p); err != nil {
		m.abortAcceptLocked(ctx, cs)
		return fmt.Errorf("decode offer: %w", err)
	}
	answer, err := conn.ApplyOfferAndCreateAnswer(p.description())
	if err != nil {
		m.abortAcceptLocked(ctx, cs)
		return fmt.Errorf("negotiate answer: %w", err)
	}
	if err := m.store.Set(ctx, core.AnswerPath(cs.id), sdpPayload{Type: answer.Type.String(), SDP: answer.SDP}); err != nil {
		m.abortAcceptLocked(ctx, cs)
		return fmt.Errorf("publish answer: %w", err)
	}

	unCands, err := m.store.Watch(m.ctx, cs.remoteCandidatesPath(), func(snap core.Snapshot) {
		m.onRemoteCandidates(cs, snap)
	})
	if err != nil {
		m.abortAcceptLocked(ctx, cs)
		return fmt.Errorf("watch caller candidates: %w", err)
	}
	cs.unwatch = append(cs.unwatch, unCands)

	cs.active = true
	cs.activeAt = m.now()
	m.history.Started(ctx, cs.kind)
	m.setStateLocked(core.CallStateActive)
	log.Info().Str("module", "call").Str("user", string(m.self)).Str("call_id", string(cs.id)).Msg("accepted call")
	return nil
}

// Decline rejects the ringing call: the caller observes the declined status
// before the grace-delayed deletes remove the records.
func (m *Manager) Decline(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.sess.(*calleeSession)
	if !ok || cs.active {
		return ErrNoIncomingCall
	}
	m.updateStatusBestEffort(ctx, cs.statusPath(), domain.StatusDeclined)
	m.history.Declined(ctx, cs.kind)
	m.scheduleTeardown(cs.statusPath(), cs.id)
	m.finishLocked(core.CallStateEnded)
	return nil
}

// abortAcceptLocked unwinds an accept that failed after the accepted
// status went out: the caller is already negotiating and must observe a
// terminal status, not silence.
func (m *Manager) abortAcceptLocked(ctx context.Context, cs *calleeSession) {
	m.updateStatusBestEffort(ctx, cs.statusPath(), domain.StatusEnded)
	m.scheduleTeardown(cs.statusPath(), cs.id)
	m.finishLocked(core.CallStateEnded)
}

// onIncomingRingTimeout clears a ring nobody answered. In the common case
// the caller's missed write arrives first and this never fires; when it
// does, the caller is gone and the stale record must be reclaimed, or the
// re-armed mailbox watcher would ring the same record again.
func (m *Manager) onIncomingRingTimeout(cs *calleeSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != cs || cs.negotiating || cs.active {
		return
	}
	ctx := context.Background()
	m.updateStatusBestEffort(ctx, cs.statusPath(), domain.StatusMissed)
	m.scheduleTeardown(cs.statusPath(), cs.id)
	m.finishLocked(core.CallStateEnded)
}
