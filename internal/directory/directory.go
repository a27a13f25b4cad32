package directory

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/parley/internal/bus"
)

// Kind is the immutable type of a channel.
type Kind string

const (
	Text  Kind = "text"
	Voice Kind = "voice"
)

var (
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrDuplicateChannel = errors.New("channel already exists")
	ErrInvalidKind      = errors.New("invalid channel kind")
)

// Channel is a text or voice channel. ServerID is empty for direct-message channels.
type Channel struct {
	ID        string
	Name      string
	Kind      Kind
	ServerID  string
	CreatedAt time.Time
}

// Direct reports whether the channel is a direct-message channel.
func (c Channel) Direct() bool {
	return c.ServerID == ""
}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case Text, Voice:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Directory holds channel records. Records are handed out by value so no
// caller can mutate the stored copy.
type Directory struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.Bus
}

// New creates an empty directory.
func New(b *bus.Bus) *Directory {
	return &Directory{channels: make(map[string]Channel), bus: b}
}

// Create registers a new channel. An empty ID is replaced by a generated one.
func (d *Directory) Create(c Channel) (Channel, error) {
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return Channel{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	d.mu.Lock()
	if _, ok := d.channels[c.ID]; ok {
		d.mu.Unlock()
		return Channel{}, fmt.Errorf("%w: %s", ErrDuplicateChannel, c.ID)
	}
	d.channels[c.ID] = c
	d.mu.Unlock()

	d.bus.Emit(bus.ChannelCreated, c)
	return c, nil
}

// Get returns the channel with the given ID.
func (d *Directory) Get(id string) (Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.channels[id]
	if !ok {
		return Channel{}, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
	return c, nil
}

// List returns all channels ordered by ID.
func (d *Directory) List() []Channel {
	d.mu.RLock()
	out := make([]Channel, 0, len(d.channels))
	for _, c := range d.channels {
		out = append(out, c)
	}
	d.mu.RUnlock()
	slices.SortFunc(out, func(a, b Channel) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Restore loads persisted channels without emitting events.
func (d *Directory) Restore(channels []Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range channels {
		d.channels[c.ID] = c
	}
}
