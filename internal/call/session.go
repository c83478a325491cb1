package call

import (
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/dial/internal/core"
	"github.com/dkeye/dial/internal/domain"
)

// session is the per-call context, constructed fresh when a call starts and
// destroyed on cleanup. There is no idle session; Manager.sess is nil when
// idle.
type session struct {
	id   domain.CallID
	kind domain.CallKind

	stream core.MediaStream
	conn   core.MediaConn

	ringTimer *time.Timer
	unwatch   []func()

	// seen is the cursor over the remote candidate list: the store redelivers
	// the whole append-only list on every change, so already-applied entries
	// are tracked by key.
	seen map[string]struct{}

	negotiating bool
	active      bool
	activeAt    time.Time
}

// The two roles are distinct types because their watch targets mirror each
// other: the caller writes into and watches the callee's mailbox, the
// callee its own. statusPath is the mailbox this role writes terminal
// statuses into.

type callerSession struct {
	session
	peer domain.UserID
}

func (s *callerSession) base() *session               { return &s.session }
func (s *callerSession) statusPath() string           { return core.CallPath(s.peer) }
func (s *callerSession) localCandidatesPath() string  { return core.CallerCandsPath(s.id) }
func (s *callerSession) remoteCandidatesPath() string { return core.CalleeCandsPath(s.id) }

type calleeSession struct {
	session
	self domain.UserID
}

func (s *calleeSession) base() *session               { return &s.session }
func (s *calleeSession) statusPath() string           { return core.CallPath(s.self) }
func (s *calleeSession) localCandidatesPath() string  { return core.CalleeCandsPath(s.id) }
func (s *calleeSession) remoteCandidatesPath() string { return core.CallerCandsPath(s.id) }

type roleSession interface {
	base() *session
	statusPath() string
	localCandidatesPath() string
	remoteCandidatesPath() string
}

// sdpPayload is the wire form of an offer or answer under the call id.
type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (p sdpPayload) description() webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(p.Type),
		SDP:  p.SDP,
	}
}

// applyCandidates feeds every not-yet-seen entry of the remote list to the
// transport. An entry is marked seen even when the transport rejects it;
// duplicate delivery must never re-apply a candidate.
func (s *session) applyCandidates(snap core.Snapshot) {
	if s.conn == nil {
		return
	}
	for _, ch := range snap.Children() {
		if _, ok := s.seen[ch.Key]; ok {
			continue
		}
		s.seen[ch.Key] = struct{}{}
		var ci webrtc.ICECandidateInit
		if err := ch.Value.Unmarshal(&ci); err != nil {
			log.Warn().Err(err).Str("module", "call").Str("call_id", string(s.id)).Str("key", ch.Key).Msg("bad candidate payload")
			continue
		}
		if err := s.conn.AddICECandidate(ci); err != nil {
			log.Debug().Err(err).Str("module", "call").Str("call_id", string(s.id)).Msg("add ice candidate")
		}
	}
}
