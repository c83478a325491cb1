// Package wsproto is the JSON envelope protocol between the store gateway
// and its clients. One request, one response, matched by id; watch events
// flow server→client tagged with the client-chosen watch id.
package wsproto

import "encoding/json"

const (
	OpGet     = "get"
	OpSet     = "set"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpPush    = "push"
	OpCAS     = "cas"
	OpWatch   = "watch"
	OpUnwatch = "unwatch"
)

// EventValue is the event name for watch deliveries.
const EventValue = "value"

type Request struct {
	ID   uint64 `json:"id"`
	Op   string `json:"op"`
	Path string `json:"path,omitempty"`
	// Value carries the payload for set/push and the next value for cas
	// (JSON null means delete).
	Value json.RawMessage `json:"value,omitempty"`
	// Fields carries the merge payload for update.
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
	// Expect is the value the cas precondition requires at Path; JSON null
	// means expect-absent.
	Expect json.RawMessage `json:"expect,omitempty"`
	// Watch is the client-chosen subscription id for watch/unwatch.
	Watch uint64 `json:"watch,omitempty"`
}

type Response struct {
	ID        uint64          `json:"id,omitempty"`
	OK        bool            `json:"ok,omitempty"`
	Error     string          `json:"error,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Key       string          `json:"key,omitempty"`
	Committed bool            `json:"committed,omitempty"`
	Event     string          `json:"event,omitempty"`
	Watch     uint64          `json:"watch,omitempty"`
}
