package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatKeyIsOrderIndependent(t *testing.T) {
	a := UserID("111111111")
	b := UserID("222222222")
	assert.Equal(t, NewChatKey(a, b), NewChatKey(b, a))
	assert.Equal(t, ChatKey("111111111_222222222"), NewChatKey(b, a))
}

func TestNewCallID(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	id := NewCallID("111111111", "222222222", now)
	assert.Equal(t, CallID("111111111_222222222_1700000000000"), id)
}

func TestNewCallStartsRinging(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	c := NewCall("111111111", "222222222", KindVideo, now)
	assert.Equal(t, UserID("111111111"), c.CallerID)
	assert.Equal(t, KindVideo, c.Kind)
	assert.Equal(t, StatusRinging, c.Status)
	assert.Equal(t, now.UnixMilli(), c.CreatedAt)
}

func TestCallStatusTerminal(t *testing.T) {
	assert.False(t, StatusRinging.Terminal())
	assert.False(t, StatusAccepted.Terminal())
	assert.True(t, StatusDeclined.Terminal())
	assert.True(t, StatusEnded.Terminal())
	assert.True(t, StatusMissed.Terminal())
}

func TestFormatUserIDValidatesRange(t *testing.T) {
	id, err := FormatUserID(123456789)
	require.NoError(t, err)
	assert.Equal(t, UserID("123456789"), id)

	_, err = FormatUserID(99999999)
	assert.ErrorIs(t, err, ErrBadUserID)
	_, err = FormatUserID(1000000000)
	assert.ErrorIs(t, err, ErrBadUserID)
}

func TestNewAccountValidatesDisplayName(t *testing.T) {
	now := time.Now()

	_, err := NewAccount("uid-1", "", "", now)
	assert.ErrorIs(t, err, ErrDisplayNameEmpty)

	_, err = NewAccount("uid-1", strings.Repeat("x", MaxDisplayNameLen+1), "", now)
	assert.ErrorIs(t, err, ErrDisplayNameTooLong)

	acct, err := NewAccount("uid-1", "Alice", "http://pic", now)
	require.NoError(t, err)
	assert.Empty(t, acct.ID)
	assert.Equal(t, AuthID("uid-1"), acct.AuthID)
	assert.Equal(t, now.UnixMilli(), acct.CreatedAt)
}

func TestSetDisplayName(t *testing.T) {
	acct := Account{DisplayName: "Alice"}
	require.NoError(t, acct.SetDisplayName("Bob"))
	assert.Equal(t, "Bob", acct.DisplayName)

	assert.ErrorIs(t, acct.SetDisplayName(""), ErrDisplayNameEmpty)
	assert.Equal(t, "Bob", acct.DisplayName)
}

func TestNewCallMessage(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	m := NewCallMessage("111111111", "222222222", KindAudio, StatusMissed, "Missed voice call", now)
	assert.Equal(t, "call", m.MsgType)
	assert.Equal(t, "Missed voice call", m.Text)
	assert.Equal(t, StatusMissed, m.CallStatus)
	assert.Equal(t, UserID("111111111"), m.SenderID)
	assert.Equal(t, UserID("222222222"), m.ReceiverID)
	assert.Equal(t, now.UnixMilli(), m.Timestamp)
}
