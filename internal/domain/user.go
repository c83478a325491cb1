// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	// UserIDMin and UserIDMax bound the human-shareable 9-digit identifier.
	UserIDMin = 100000000
	UserIDMax = 999999999

	MaxDisplayNameLen = 64
)

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrBadUserID          = errors.New("user id is not a 9-digit number")
)

// UserID is the public numeric identifier, stored as its decimal string.
type UserID string

// AuthID is the opaque auth subject id issued by the identity provider.
type AuthID string

// Account is the record stored at users/{userID}.
type Account struct {
	ID          UserID `json:"userID"`
	DisplayName string `json:"displayName"`
	AuthID      AuthID `json:"uid"`
	PhotoURL    string `json:"photoURL,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// FormatUserID renders a numeric value as a UserID, validating the range.
func FormatUserID(n int64) (UserID, error) {
	if n < UserIDMin || n > UserIDMax {
		return "", ErrBadUserID
	}
	return UserID(fmt.Sprintf("%d", n)), nil
}

// NewAccount is a tiny helper to avoid ad-hoc struct literals in adapters.
// The ID is stamped later by the allocator.
func NewAccount(uid AuthID, displayName, photoURL string, now time.Time) (*Account, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Account{
		DisplayName: displayName,
		AuthID:      uid,
		PhotoURL:    photoURL,
		CreatedAt:   now.UnixMilli(),
	}, nil
}

func (a *Account) SetDisplayName(displayName string) error {
	if len(displayName) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	a.DisplayName = displayName
	return nil
}
