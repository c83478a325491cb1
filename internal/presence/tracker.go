// Package presence publishes and watches online/offline status records.
package presence

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/dial/internal/core"
	"github.com/dkeye/dial/internal/domain"
)

// Tracker owns presence/{self}. Only the identified user's active session
// writes it; everyone else just watches.
type Tracker struct {
	store core.Store
	self  domain.UserID
}

func New(store core.Store, self domain.UserID) *Tracker {
	return &Tracker{store: store, self: self}
}

func (t *Tracker) Publish(ctx context.Context) error {
	return t.store.Set(ctx, core.PresencePath(t.self), domain.PresenceOnline)
}

// MarkOffline is the best-effort teardown write; failure is logged, never
// propagated.
func (t *Tracker) MarkOffline(ctx context.Context) {
	if err := t.store.Set(ctx, core.PresencePath(t.self), domain.PresenceOffline); err != nil {
		log.Warn().Err(err).Str("module", "presence").Str("user", string(t.self)).Msg("mark offline failed")
	}
}

// Watch invokes fn with the peer's reachability on every change. Record
// absence reads as offline.
func (t *Tracker) Watch(ctx context.Context, other domain.UserID, fn func(online bool)) (func(), error) {
	return t.store.Watch(ctx, core.PresencePath(other), func(snap core.Snapshot) {
		if !snap.Exists() {
			fn(false)
			return
		}
		var p domain.Presence
		if err := snap.Unmarshal(&p); err != nil {
			fn(false)
			return
		}
		fn(p == domain.PresenceOnline)
	})
}
