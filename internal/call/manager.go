// Package call owns the two-party signaling protocol: the session state
// machine, its mailbox and signaling-bundle records in the shared store,
// and the timeouts and cleanup ordering both roles follow.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/dial/internal/core"
	"github.com/dkeye/dial/internal/domain"
	"github.com/dkeye/dial/internal/presence"
)

var (
	ErrCallInProgress = errors.New("call already in progress")
	ErrNoIncomingCall = errors.New("no incoming call to act on")
)

// Config carries the protocol timing. The callee's ring window is
// deliberately longer than the caller's so the callee usually observes the
// caller's missed write before its own timer fires; both sides still
// tolerate cleanup via either path.
type Config struct {
	RingTimeout         time.Duration
	IncomingRingTimeout time.Duration
	// TeardownGrace delays deletion of shared records after a terminal
	// status write, giving the other side time to read the status.
	TeardownGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		RingTimeout:         30 * time.Second,
		IncomingRingTimeout: 31 * time.Second,
		TeardownGrace:       2 * time.Second,
	}
}

// Manager runs the state machine for one local user against one expected
// peer. All store callbacks, timers, and user actions serialize on mu, and
// every handler re-checks current state under it: arrival order across
// different keys is not trusted.
type Manager struct {
	mu sync.Mutex

	store   core.Store
	media   core.MediaSource
	dial    core.MediaDial
	notify  core.Notifier
	tracker *presence.Tracker
	history *History
	cfg     Config
	now     func() time.Time

	self domain.UserID
	peer domain.UserID

	// OnPeerPresence, when set before Start, receives the peer's
	// reachability changes.
	OnPeerPresence func(online bool)

	ctx             context.Context
	sess            roleSession
	state           core.CallState
	unwatchIncoming func()
	unwatchPresence func()
}

func NewManager(store core.Store, media core.MediaSource, dial core.MediaDial, notify core.Notifier, self, peer domain.UserID, cfg Config) *Manager {
	if notify == nil {
		notify = core.NopNotifier{}
	}
	return &Manager{
		store:   store,
		media:   media,
		dial:    dial,
		notify:  notify,
		tracker: presence.New(store, self),
		history: NewHistory(store, self, peer),
		cfg:     cfg,
		now:     time.Now,
		self:    self,
		peer:    peer,
		state:   core.CallStateIdle,
	}
}

// Start publishes presence and arms the incoming-call and peer-presence
// watchers. ctx bounds every subscription the manager creates.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
	if err := m.tracker.Publish(ctx); err != nil {
		return err
	}
	return m.armWatchersLocked()
}

// Stop marks presence offline and tears down any in-flight call locally.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if m.sess != nil {
		m.finishLocked(core.CallStateEnded)
	}
	if m.unwatchIncoming != nil {
		m.unwatchIncoming()
		m.unwatchIncoming = nil
	}
	if m.unwatchPresence != nil {
		m.unwatchPresence()
		m.unwatchPresence = nil
	}
	m.mu.Unlock()
	m.tracker.MarkOffline(ctx)
}

// State reports the current lifecycle state.
func (m *Manager) State() core.CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// armWatchersLocked (re)subscribes the incoming-call and presence watchers,
// cancelling any previous subscription for the same logical channel first
// so a re-arm can never duplicate callbacks.
func (m *Manager) armWatchersLocked() error {
	if m.unwatchIncoming != nil {
		m.unwatchIncoming()
		m.unwatchIncoming = nil
	}
	un, err := m.store.Watch(m.ctx, core.CallPath(m.self), m.onOwnMailbox)
	if err != nil {
		return err
	}
	m.unwatchIncoming = un

	if m.unwatchPresence != nil {
		m.unwatchPresence()
		m.unwatchPresence = nil
	}
	fn := m.OnPeerPresence
	if fn == nil {
		fn = func(bool) {}
	}
	up, err := m.tracker.Watch(m.ctx, m.peer, fn)
	if err != nil {
		return err
	}
	m.unwatchPresence = up
	return nil
}

func (m *Manager) setStateLocked(st core.CallState) {
	m.state = st
	m.notify.CallStateChanged(st, m.peer)
}

// finishLocked is the single local cleanup path: release media and
// transport, drop the session context, re-arm the global watchers. The
// sink observes the final state and then the return to idle. Safe to
// reach twice; the second observer of a termination signal finds sess nil
// and does nothing.
func (m *Manager) finishLocked(final core.CallState) {
	s := m.sess
	if s == nil {
		return
	}
	b := s.base()
	m.sess = nil
	if b.ringTimer != nil {
		b.ringTimer.Stop()
	}
	for _, un := range b.unwatch {
		un()
	}
	b.unwatch = nil
	if b.conn != nil {
		b.conn.Close()
	}
	if b.stream != nil {
		b.stream.Close()
	}
	if err := m.armWatchersLocked(); err != nil {
		log.Error().Err(err).Str("module", "call").Str("user", string(m.self)).Msg("re-arm watchers failed")
	}
	m.notify.CallStateChanged(final, m.peer)
	m.setStateLocked(core.CallStateIdle)
	log.Info().Str("module", "call").Str("user", string(m.self)).Str("call_id", string(b.id)).Str("final", string(final)).Msg("call finished")
}

// scheduleTeardown deletes the shared records after the grace window. The
// mailbox delete is conditional on the record still belonging to this call;
// a new call may have taken the slot meanwhile. The signaling bundle is
// keyed by the unique call id and deleted unconditionally.
func (m *Manager) scheduleTeardown(mailboxPath string, id domain.CallID) {
	time.AfterFunc(m.cfg.TeardownGrace, func() {
		ctx := context.Background()
		if _, err := m.store.Transact(ctx, mailboxPath, func(cur core.Snapshot) (any, bool) {
			if !cur.Exists() {
				return nil, false
			}
			var rec domain.Call
			if err := cur.Unmarshal(&rec); err != nil {
				return nil, false
			}
			if rec.ID != id {
				return nil, false
			}
			return nil, true
		}); err != nil {
			log.Warn().Err(err).Str("module", "call").Str("call_id", string(id)).Msg("mailbox delete failed")
		}
		if err := m.store.Delete(ctx, core.SessionPath(id)); err != nil {
			log.Warn().Err(err).Str("module", "call").Str("call_id", string(id)).Msg("signaling bundle delete failed")
		}
	})
}

// updateStatus writes a lifecycle status into a mailbox. Teardown paths
// treat failure as non-blocking notify: logged, never allowed to stall
// local cleanup.
func (m *Manager) updateStatus(ctx context.Context, mailboxPath string, status domain.CallStatus) error {
	return m.store.Update(ctx, mailboxPath, map[string]any{"status": status})
}

func (m *Manager) updateStatusBestEffort(ctx context.Context, mailboxPath string, status domain.CallStatus) {
	if err := m.updateStatus(ctx, mailboxPath, status); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("status", string(status)).Msg("status write failed, tearing down anyway")
	}
}

// HangUp ends the current call from either role: terminal status into the
// role's mailbox, history entry, grace-delayed deletes, local cleanup.
// A no-op when idle.
func (m *Manager) HangUp(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sess
	if s == nil {
		return nil
	}
	b := s.base()
	var duration time.Duration
	if b.active {
		duration = m.now().Sub(b.activeAt)
	}
	m.updateStatusBestEffort(ctx, s.statusPath(), domain.StatusEnded)
	m.history.Ended(ctx, b.kind, duration)
	m.scheduleTeardown(s.statusPath(), b.id)
	m.finishLocked(core.CallStateEnded)
	return nil
}

// publishCandidate relays one locally gathered candidate to this role's
// append-only list. Candidates are never removed, only appended.
func (m *Manager) publishCandidate(ctx context.Context, path string, ci any) {
	if _, err := m.store.Push(ctx, path, ci); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("path", path).Msg("candidate publish failed")
	}
}
