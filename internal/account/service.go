// Package account handles registration: identifier allocation, the account
// record, and the auth-subject binding in userMap.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/dial/internal/core"
	"github.com/dkeye/dial/internal/domain"
)

var ErrAccountNotFound = errors.New("account not found")

type Service struct {
	store core.Store
	alloc *Allocator
	now   func() time.Time
}

func NewService(store core.Store) *Service {
	return &Service{store: store, alloc: NewAllocator(store), now: time.Now}
}

// Register allocates an identifier for the auth subject and binds it in
// userMap. When two sessions register the same subject concurrently exactly
// one binding wins; the loser's freshly written account record is removed
// and the winner's account is returned.
func (s *Service) Register(ctx context.Context, uid domain.AuthID, displayName, photoURL string) (*domain.Account, error) {
	if existing, err := s.Lookup(ctx, uid); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	acct, err := domain.NewAccount(uid, displayName, photoURL, s.now())
	if err != nil {
		return nil, err
	}
	id, err := s.alloc.Allocate(ctx, acct)
	if err != nil {
		return nil, err
	}

	bound := id
	committed, err := s.store.Transact(ctx, core.UserMapPath(uid), func(cur core.Snapshot) (any, bool) {
		if cur.Exists() {
			_ = cur.Unmarshal(&bound)
			return nil, false
		}
		return id, true
	})
	if err != nil {
		return nil, fmt.Errorf("bind identity map: %w", err)
	}
	if !committed && bound != id {
		// Lost the race for this subject. Release our slot and adopt the
		// winner's account.
		if derr := s.store.Delete(ctx, core.UserPath(id)); derr != nil {
			log.Warn().Err(derr).Str("module", "account").Str("user", string(id)).Msg("orphan account cleanup failed")
		}
		return s.Lookup(ctx, uid)
	}

	log.Info().Str("module", "account").Str("user", string(id)).Str("uid", string(uid)).Msg("registered account")
	return acct, nil
}

// Lookup resolves an auth subject to its account via the identity map.
func (s *Service) Lookup(ctx context.Context, uid domain.AuthID) (*domain.Account, error) {
	snap, err := s.store.Get(ctx, core.UserMapPath(uid))
	if err != nil {
		return nil, fmt.Errorf("read identity map: %w", err)
	}
	if !snap.Exists() {
		return nil, ErrAccountNotFound
	}
	var id domain.UserID
	if err := snap.Unmarshal(&id); err != nil {
		return nil, fmt.Errorf("decode identity map entry: %w", err)
	}
	return s.Get(ctx, id)
}

// Get reads the account record at users/{id}.
func (s *Service) Get(ctx context.Context, id domain.UserID) (*domain.Account, error) {
	snap, err := s.store.Get(ctx, core.UserPath(id))
	if err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}
	if !snap.Exists() {
		return nil, ErrAccountNotFound
	}
	var acct domain.Account
	if err := snap.Unmarshal(&acct); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &acct, nil
}

// SetDisplayName updates the owner-mutable name field in place.
func (s *Service) SetDisplayName(ctx context.Context, id domain.UserID, displayName string) error {
	var check domain.Account
	if err := check.SetDisplayName(displayName); err != nil {
		return err
	}
	return s.store.Update(ctx, core.UserPath(id), map[string]any{"displayName": displayName})
}

// SetPhotoURL updates the owner-mutable avatar reference.
func (s *Service) SetPhotoURL(ctx context.Context, id domain.UserID, photoURL string) error {
	return s.store.Update(ctx, core.UserPath(id), map[string]any{"photoURL": photoURL})
}
