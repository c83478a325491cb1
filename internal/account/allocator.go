package account

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/dial/internal/core"
	"github.com/dkeye/dial/internal/domain"
)

// ErrAllocationExhausted means no free identifier was claimed within the
// attempt bound. Surfaced as a registration failure; no account is created.
var ErrAllocationExhausted = errors.New("identifier allocation exhausted")

const maxAllocAttempts = 10

// Allocator assigns a unique 9-digit identifier by writing the account
// record itself under compare-and-set: the write that claims the slot is
// the write that establishes ownership, so there is no window between a
// placeholder claim and the real record.
type Allocator struct {
	store core.Store
	// randID is swappable in tests to force collisions.
	randID func() domain.UserID
}

func NewAllocator(store core.Store) *Allocator {
	return &Allocator{store: store, randID: randomUserID}
}

func randomUserID() domain.UserID {
	n := domain.UserIDMin + rand.Int64N(domain.UserIDMax-domain.UserIDMin+1)
	id, _ := domain.FormatUserID(n)
	return id
}

// Allocate stamps acct with a fresh identifier and commits it at
// users/{id}, retrying on collision. A failed conditional write counts as
// an attempt.
func (a *Allocator) Allocate(ctx context.Context, acct *domain.Account) (domain.UserID, error) {
	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		id := a.randID()
		acct.ID = id
		committed, err := a.store.Transact(ctx, core.UserPath(id), func(cur core.Snapshot) (any, bool) {
			if cur.Exists() {
				return nil, false
			}
			return acct, true
		})
		if err != nil {
			log.Warn().Err(err).Str("module", "account").Str("candidate", string(id)).Msg("allocation write failed")
			continue
		}
		if !committed {
			log.Debug().Str("module", "account").Str("candidate", string(id)).Msg("identifier collision")
			continue
		}
		return id, nil
	}
	acct.ID = ""
	return "", ErrAllocationExhausted
}
