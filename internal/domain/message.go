package domain

import "time"

// ChatKey addresses the shared transcript of a user pair: sorted ids joined
// by "_", so both sides derive the same key.
type ChatKey string

func NewChatKey(a, b UserID) ChatKey {
	if b < a {
		a, b = b, a
	}
	return ChatKey(string(a) + "_" + string(b))
}

// Message is one transcript entry appended under messages/{chatKey}.
// The core only writes call events; regular chat messages are out of scope.
type Message struct {
	Text       string     `json:"text"`
	MsgType    string     `json:"msgType"`
	CallType   CallKind   `json:"callType,omitempty"`
	CallStatus CallStatus `json:"callStatus,omitempty"`
	SenderID   UserID     `json:"senderID"`
	ReceiverID UserID     `json:"receiverID"`
	Status     string     `json:"status"`
	Timestamp  int64      `json:"timestamp"`
}

// NewCallMessage builds a call-event transcript entry.
func NewCallMessage(from, to UserID, kind CallKind, status CallStatus, text string, now time.Time) *Message {
	return &Message{
		Text:       text,
		MsgType:    "call",
		CallType:   kind,
		CallStatus: status,
		SenderID:   from,
		ReceiverID: to,
		Status:     "sent",
		Timestamp:  now.UnixMilli(),
	}
}
