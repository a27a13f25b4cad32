package bus

import "time"

// Event kinds published by the core. Subscribers filter by namespace prefix
// ("message.", "presence.", ...).
const (
	PresenceChanged = "presence.changed"
	PresenceLevelUp = "presence.level_up"
	PresenceExpired = "presence.expired"

	VoiceJoined = "voice.joined"
	VoiceLeft   = "voice.left"
	VoiceFlags  = "voice.flags"

	TextJoined = "text.joined"
	TextLeft   = "text.left"

	MessageAppended   = "message.appended"
	MessageConfirmed  = "message.confirmed"
	MessageUpdated    = "message.updated"
	MessageRemoved    = "message.removed"
	MessageSendAck    = "message.send_ack"
	MessageSendFailed = "message.send_failed"

	ReadStateAdvanced = "readstate.advanced"

	DuplicateSuppressed = "delivery.duplicate_suppressed"

	UserRegistered = "directory.user_registered"
	UserUpdated    = "directory.user_updated"
	ChannelCreated = "directory.channel_created"

	DaemonStateChanged = "daemon.state_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
