package domain

// Presence is the ephemeral value stored at presence/{userID}.
// Record absence is read as offline.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
)
