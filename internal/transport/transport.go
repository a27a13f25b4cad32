package transport

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/parley/internal/msglog"
)

var ErrUnavailable = errors.New("transport unavailable")

// Provisional is a locally applied message awaiting authoritative ordering.
type Provisional struct {
	ID        string
	ChannelID string
	SenderID  string
	Body      msglog.Body
	ReplyTo   string
	Key       msglog.OrderKey
	CreatedAt time.Time
}

// Ack is the authoritative acceptance of a provisional message.
type Ack struct {
	ProvisionalID string
	FinalID       string
	FinalKey      msglog.OrderKey
	AcceptedAt    time.Time
}

// Transport submits messages for authoritative ordering. Submit must be
// idempotent on the provisional ID: resubmitting returns the original ack.
type Transport interface {
	Submit(ctx context.Context, p Provisional) (Ack, error)
}
