package msglog

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("message not found")
	ErrNotSender       = errors.New("only the sender may edit a message")
	ErrReplyTarget     = errors.New("reply target not found in channel")
	ErrInvalidReaction = errors.New("reaction must be a single emoji")
	ErrInvalidKind     = errors.New("invalid message kind")
	ErrEmptyBody       = errors.New("message body is empty")
	ErrDurable         = errors.New("message is durably accepted")
	ErrMalformed       = errors.New("malformed message")
)

// Kind tags the body of a message.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindGift   Kind = "gift"
	KindPoll   Kind = "poll"
	KindSystem Kind = "system"
)

// ParseKind validates a kind tag. The empty string means text.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindText, nil
	}
	switch k := Kind(strings.ToLower(s)); k {
	case KindText, KindImage, KindGift, KindPoll, KindSystem:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Body is the tagged content of a message. URL is set for media stored
// elsewhere; Fields carries structured payloads such as poll options.
type Body struct {
	Kind   Kind
	Text   string
	URL    string
	Fields map[string]any
}

func (b Body) validate() error {
	if _, err := ParseKind(string(b.Kind)); err != nil {
		return err
	}
	if b.Text == "" && b.URL == "" && len(b.Fields) == 0 {
		return ErrEmptyBody
	}
	return nil
}

// Status is the delivery state of a message.
type Status string

const (
	Pending Status = "pending"
	Sent    Status = "sent"
	Failed  Status = "failed"
)

// OrderKey totally orders messages within a channel: logical sequence first,
// message ID as tie-break.
type OrderKey struct {
	Seq uint64
	Tie string
}

// Compare returns -1, 0 or +1.
func (k OrderKey) Compare(o OrderKey) int {
	if c := cmp.Compare(k.Seq, o.Seq); c != 0 {
		return c
	}
	return strings.Compare(k.Tie, o.Tie)
}

func (k OrderKey) Less(o OrderKey) bool { return k.Compare(o) < 0 }

func (k OrderKey) IsZero() bool { return k.Seq == 0 && k.Tie == "" }

func (k OrderKey) String() string { return fmt.Sprintf("%d/%s", k.Seq, k.Tie) }

// Completion holds the result of a generated reply.
type Completion struct {
	Text        string
	Sources     []string
	Failed      bool
	CompletedAt time.Time
}

// Message is one entry of a channel log.
type Message struct {
	ID         string
	ChannelID  string
	SenderID   string
	Body       Body
	CreatedAt  time.Time
	ReplyTo    string
	Key        OrderKey
	Reactions  map[string]int
	Deleted    bool
	Status     Status
	EditedAt   time.Time
	Completion *Completion
}

// Clone returns a deep copy safe to hand to callers.
func (m Message) Clone() Message {
	m.Reactions = maps.Clone(m.Reactions)
	m.Body.Fields = maps.Clone(m.Body.Fields)
	if m.Completion != nil {
		c := *m.Completion
		c.Sources = slices.Clone(c.Sources)
		m.Completion = &c
	}
	return m
}

// Reply describes the message a view replies to, resolved at read time.
type Reply struct {
	ID        string
	Available bool
	SenderID  string
	Text      string
}

// View is a message as returned by reads.
type View struct {
	Message
	Reply *Reply
}

// Edit is a content change requested by EditorID.
type Edit struct {
	EditorID string
	Text     string
}

// Confirmation is the payload of message.confirmed events.
type Confirmation struct {
	ProvisionalID string
	Message       Message
}

// Removal is the payload of message.removed events. Physical removals only
// happen to entries that were never durably accepted.
type Removal struct {
	Message  Message
	Physical bool
}
