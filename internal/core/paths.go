package core

import "github.com/dkeye/dial/internal/domain"

// Store key layout. The callee's mailbox lives at calls/{calleeID}; the
// signaling bundle for one session lives under calls/{callID}.
func UserPath(id domain.UserID) string        { return "users/" + string(id) }
func UserMapPath(uid domain.AuthID) string    { return "userMap/" + string(uid) }
func PresencePath(id domain.UserID) string    { return "presence/" + string(id) }
func CallPath(id domain.UserID) string        { return "calls/" + string(id) }
func OfferPath(id domain.CallID) string       { return "calls/" + string(id) + "/offer" }
func AnswerPath(id domain.CallID) string      { return "calls/" + string(id) + "/answer" }
func CallerCandsPath(id domain.CallID) string { return "calls/" + string(id) + "/callerCandidates" }
func CalleeCandsPath(id domain.CallID) string { return "calls/" + string(id) + "/calleeCandidates" }
func SessionPath(id domain.CallID) string     { return "calls/" + string(id) }
func MessagesPath(key domain.ChatKey) string  { return "messages/" + string(key) }
