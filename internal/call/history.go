package call

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/dial/internal/core"
	"github.com/dkeye/dial/internal/domain"
)

// History appends call lifecycle entries to the pair's shared transcript.
// All writes are best-effort: a failed entry never blocks the call flow.
type History struct {
	store core.Store
	self  domain.UserID
	peer  domain.UserID
	now   func() time.Time
}

func NewHistory(store core.Store, self, peer domain.UserID) *History {
	return &History{store: store, self: self, peer: peer, now: time.Now}
}

func kindLabel(kind domain.CallKind) string {
	if kind == domain.KindVideo {
		return "Video"
	}
	return "Voice"
}

func (h *History) Started(ctx context.Context, kind domain.CallKind) {
	h.append(ctx, kind, domain.StatusAccepted, fmt.Sprintf("%s call started", kindLabel(kind)))
}

func (h *History) Ended(ctx context.Context, kind domain.CallKind, duration time.Duration) {
	text := fmt.Sprintf("%s call ended", kindLabel(kind))
	if duration > 0 {
		text += " • " + formatDuration(duration)
	}
	h.append(ctx, kind, domain.StatusEnded, text)
}

func (h *History) Declined(ctx context.Context, kind domain.CallKind) {
	h.append(ctx, kind, domain.StatusDeclined, "Call declined")
}

func (h *History) Missed(ctx context.Context, kind domain.CallKind) {
	label := "voice"
	if kind == domain.KindVideo {
		label = "video"
	}
	h.append(ctx, kind, domain.StatusMissed, fmt.Sprintf("Missed %s call", label))
}

func (h *History) append(ctx context.Context, kind domain.CallKind, status domain.CallStatus, text string) {
	msg := domain.NewCallMessage(h.self, h.peer, kind, status, text, h.now())
	key := domain.NewChatKey(h.self, h.peer)
	if _, err := h.store.Push(ctx, core.MessagesPath(key), msg); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("chat", string(key)).Str("status", string(status)).Msg("history entry failed")
	}
}

func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
