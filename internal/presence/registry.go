package presence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"go.uber.org/zap"
)

// DefaultTimeout is the heartbeat window after which a user is reported offline.
const DefaultTimeout = 45 * time.Second

var ErrUnknownUser = errors.New("unknown user")

// User is a registered identity with its explicit presence and leveling counters.
type User struct {
	ID          string
	DisplayName string
	AvatarURL   string
	Status      Status
	Activity    string
	Level       int
	XP          int
	Removed     bool

	LastSeen time.Time
}

// Presence is the effective presence of a user as observed by readers.
type Presence struct {
	UserID   string
	Status   Status
	Explicit Status
	Activity string
	Stale    bool
	LastSeen time.Time
}

// Options configures a Registry.
type Options struct {
	Timeout time.Duration
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

type entry struct {
	user          User
	disconnected  bool
	reportedStale bool
}

// Registry tracks known users, their explicit status and heartbeat freshness.
type Registry struct {
	mu      sync.RWMutex
	users   map[string]*entry
	timeout time.Duration
	now     func() time.Time
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewRegistry creates an empty registry.
func NewRegistry(b *bus.Bus, logger *zap.Logger, opts Options) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		users:   make(map[string]*entry),
		timeout: opts.Timeout,
		now:     opts.Now,
		bus:     b,
		logger:  logger,
	}
}

// Register adds a user. Re-registering a soft-removed user restores it;
// re-registering an active user only refreshes its profile fields.
func (r *Registry) Register(u User) (User, error) {
	if strings.TrimSpace(u.ID) == "" {
		return User{}, fmt.Errorf("%w: empty id", ErrUnknownUser)
	}
	now := r.now()

	r.mu.Lock()
	if e, ok := r.users[u.ID]; ok {
		e.user.DisplayName = u.DisplayName
		e.user.AvatarURL = u.AvatarURL
		e.user.Removed = false
		out := e.user
		r.mu.Unlock()
		return out, nil
	}
	if u.Status == "" {
		u.Status = Offline
	}
	if u.Level < 1 {
		u.Level = 1
	}
	u.Removed = false
	u.LastSeen = now
	r.users[u.ID] = &entry{user: u}
	r.mu.Unlock()

	r.bus.Emit(bus.UserRegistered, u)
	return u, nil
}

// Restore loads persisted users without emitting events. Restored users
// start stale until they heartbeat.
func (r *Registry) Restore(users []User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range users {
		if u.Level < 1 {
			u.Level = 1
		}
		r.users[u.ID] = &entry{user: u, disconnected: true, reportedStale: true}
	}
}

// Remove soft-removes a user. The record is kept for the rest of the session.
func (r *Registry) Remove(userID string) error {
	r.mu.Lock()
	e, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	e.user.Removed = true
	out := e.user
	r.mu.Unlock()

	r.bus.Emit(bus.UserUpdated, out)
	return nil
}

// Exists reports whether a non-removed user is registered.
func (r *Registry) Exists(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[userID]
	return ok && !e.user.Removed
}

// User returns a copy of the user record.
func (r *Registry) User(userID string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[userID]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return e.user, nil
}

// Users returns all users ordered by ID, including soft-removed ones.
func (r *Registry) Users() []User {
	r.mu.RLock()
	out := make([]User, 0, len(r.users))
	for _, e := range r.users {
		out = append(out, e.user)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b User) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// SetStatus updates the explicit status unconditionally and refreshes liveness.
func (r *Registry) SetStatus(userID string, st Status) error {
	st, err := ParseStatus(string(st))
	if err != nil {
		return err
	}
	return r.mutate(userID, ReasonExplicit, func(e *entry, now time.Time) {
		e.user.Status = st
		e.user.LastSeen = now
		e.disconnected = false
		e.reportedStale = false
	})
}

// SetActivity sets or clears (empty label) the activity label.
func (r *Registry) SetActivity(userID, label string) error {
	return r.mutate(userID, ReasonActivity, func(e *entry, _ time.Time) {
		e.user.Activity = strings.TrimSpace(label)
	})
}

// Heartbeat refreshes the user's liveness timestamp without touching the explicit status.
func (r *Registry) Heartbeat(userID string) error {
	return r.mutate(userID, ReasonHeartbeat, func(e *entry, now time.Time) {
		e.user.LastSeen = now
		e.disconnected = false
		e.reportedStale = false
	})
}

// Disconnect is the external disconnect signal: the user is reported offline
// until the next heartbeat or explicit status. A presence.expired event is
// published even when the reported status does not change.
func (r *Registry) Disconnect(userID string) error {
	var lastSeen time.Time
	err := r.mutate(userID, ReasonDisconnect, func(e *entry, _ time.Time) {
		e.disconnected = true
		e.reportedStale = true
		lastSeen = e.user.LastSeen
	})
	if err != nil {
		return err
	}
	r.bus.Emit(bus.PresenceExpired, Expiry{UserID: userID, Reason: ReasonDisconnect, LastSeen: lastSeen})
	return nil
}

// Presence returns the effective presence of a user.
func (r *Registry) Presence(userID string) (Presence, error) {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[userID]
	if !ok {
		return Presence{}, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return r.presenceLocked(e, now), nil
}

// AwardXP adds experience points, levelling the user up each time the
// threshold for the current level is crossed.
func (r *Registry) AwardXP(userID string, amount int) (User, error) {
	if amount < 0 {
		return User{}, fmt.Errorf("negative xp award: %d", amount)
	}
	var ups []LevelUp

	r.mu.Lock()
	e, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return User{}, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	e.user.XP += amount
	for e.user.XP >= Threshold(e.user.Level) {
		e.user.XP -= Threshold(e.user.Level)
		e.user.Level++
		ups = append(ups, LevelUp{UserID: userID, Level: e.user.Level})
	}
	out := e.user
	r.mu.Unlock()

	r.bus.Emit(bus.UserUpdated, out)
	for _, up := range ups {
		r.bus.Emit(bus.PresenceLevelUp, up)
	}
	return out, nil
}

// Threshold is the XP needed to leave the given level.
func Threshold(level int) int {
	if level < 1 {
		level = 1
	}
	return 100 * level
}

// Sweep reports users whose heartbeat expired since the last sweep and
// returns them. Every expiry publishes presence.expired; presence.changed
// follows only when the reported status was not already offline.
func (r *Registry) Sweep() []string {
	now := r.now()
	var changes []Change
	var expiries []Expiry

	r.mu.Lock()
	for id, e := range r.users {
		if e.reportedStale || e.user.Removed || !r.expired(e, now) {
			continue
		}
		e.reportedStale = true
		expiries = append(expiries, Expiry{UserID: id, Reason: ReasonStale, LastSeen: e.user.LastSeen})
		if from := r.liveStatus(e); from != Offline {
			changes = append(changes, Change{UserID: id, From: from, To: Offline, Reason: ReasonStale})
		}
	}
	r.mu.Unlock()

	for _, c := range changes {
		r.logger.Info("presence expired", zap.String("user", c.UserID), zap.String("from", string(c.From)))
		r.bus.Emit(bus.PresenceChanged, c)
	}
	stale := make([]string, 0, len(expiries))
	for _, x := range expiries {
		r.bus.Emit(bus.PresenceExpired, x)
		stale = append(stale, x.UserID)
	}
	slices.Sort(stale)
	return stale
}

// Start runs the staleness sweeper until Stop is called.
func (r *Registry) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	interval := max(r.timeout/3, 100*time.Millisecond)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the sweeper.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Registry) mutate(userID, reason string, fn func(e *entry, now time.Time)) error {
	now := r.now()

	r.mu.Lock()
	e, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	before := r.presenceLocked(e, now).Status
	fn(e, now)
	after := r.presenceLocked(e, now).Status
	r.mu.Unlock()

	if before != after {
		r.bus.Emit(bus.PresenceChanged, Change{UserID: userID, From: before, To: after, Reason: reason})
	}
	return nil
}

func (r *Registry) expired(e *entry, now time.Time) bool {
	return e.disconnected || now.Sub(e.user.LastSeen) > r.timeout
}

// liveStatus is the status a user would report if they were not stale.
func (r *Registry) liveStatus(e *entry) Status {
	if e.user.Status != Offline && e.user.Activity != "" {
		return InActivity
	}
	return e.user.Status
}

func (r *Registry) presenceLocked(e *entry, now time.Time) Presence {
	p := Presence{
		UserID:   e.user.ID,
		Explicit: e.user.Status,
		Activity: e.user.Activity,
		LastSeen: e.user.LastSeen,
	}
	if r.expired(e, now) {
		p.Stale = true
		p.Status = Offline
		return p
	}
	p.Status = r.liveStatus(e)
	return p
}
