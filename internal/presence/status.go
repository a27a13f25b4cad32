package presence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is a user's presence status.
type Status string

const (
	Online  Status = "online"
	Idle    Status = "idle"
	DND     Status = "dnd"
	Offline Status = "offline"

	// InActivity is reported when a non-offline user carries an activity label.
	// It is orthogonal to the explicit status and cannot be set directly.
	InActivity Status = "in-activity"
)

var ErrInvalidStatus = errors.New("invalid presence status")

// ParseStatus validates an explicit status. InActivity is rejected; use
// Registry.SetActivity instead.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case Online, Idle, DND, Offline:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Change is the payload for presence.changed events.
type Change struct {
	UserID string
	From   Status
	To     Status
	Reason string
}

// Expiry is the payload for presence.expired events: the user lost liveness
// through a disconnect or a missed heartbeat, whatever status they report.
// LastSeen identifies the liveness period that ended.
type Expiry struct {
	UserID   string
	Reason   string
	LastSeen time.Time
}

// Change reasons.
const (
	ReasonExplicit   = "explicit"
	ReasonHeartbeat  = "heartbeat"
	ReasonStale      = "stale"
	ReasonDisconnect = "disconnect"
	ReasonActivity   = "activity"
)

// LevelUp is the payload for presence.level_up events.
type LevelUp struct {
	UserID string
	Level  int
}
