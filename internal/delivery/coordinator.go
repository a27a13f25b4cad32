package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/msglog"
	"github.com/matheus3301/parley/internal/presence"
	"github.com/matheus3301/parley/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrDeliveryTimeout = errors.New("delivery timed out")
	ErrRateLimited     = errors.New("send rate exceeded")
	ErrNotPending      = errors.New("message is not awaiting acknowledgment")
	ErrNotFailed       = errors.New("message has not failed")
	ErrClosed          = errors.New("coordinator closed")
)

const (
	DefaultAckTimeout = 5 * time.Second
	attempts          = 2
)

// Options tunes the coordinator. A zero SendRate disables rate limiting.
type Options struct {
	AckTimeout time.Duration
	SendRate   float64
	SendBurst  int
}

// Mapping records the authoritative identity of a provisional message.
type Mapping struct {
	ProvisionalID string
	FinalID       string
	FinalKey      msglog.OrderKey
	ConfirmedAt   time.Time
}

// SendRequest is a client action entering the coordinator.
type SendRequest struct {
	ChannelID string
	SenderID  string
	Body      msglog.Body
	ReplyTo   string
}

// Delivered is the payload of message.send_ack events.
type Delivered struct {
	ProvisionalID string
	Message       msglog.Message
}

// Failure is the payload of message.send_failed events.
type Failure struct {
	Message msglog.Message
	Reason  string
	Timeout bool
}

// Duplicate is the payload of delivery.duplicate_suppressed events.
type Duplicate struct {
	MessageID string
	Source    string
}

// Users is the subset of the presence registry the coordinator needs.
type Users interface {
	Exists(userID string) bool
}

// Channels resolves channel records.
type Channels interface {
	Get(id string) (directory.Channel, error)
}

type attempt struct {
	cancel context.CancelFunc
	failed bool
}

// Coordinator applies sends optimistically to the message log and
// reconciles them with the transport's authoritative ordering.
type Coordinator struct {
	log       *msglog.Log
	transport transport.Transport
	users     Users
	channels  Channels
	bus       *bus.Bus
	logger    *zap.Logger
	opts      Options
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	attempts  map[string]*attempt
	cancelled map[string]time.Time
	mappings  map[string]Mapping
	finals    map[string]string // final ID -> provisional ID
	limiters  map[string]*rate.Limiter
}

// New creates a coordinator. Close must be called to stop in-flight sends.
func New(log *msglog.Log, t transport.Transport, users Users, channels Channels, b *bus.Bus, logger *zap.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		log:       log,
		transport: t,
		users:     users,
		channels:  channels,
		bus:       b,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		attempts:  make(map[string]*attempt),
		cancelled: make(map[string]time.Time),
		mappings:  make(map[string]Mapping),
		finals:    make(map[string]string),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Send applies the message locally under a provisional ID and dispatches it
// in the background. It returns once the local apply is done.
func (c *Coordinator) Send(req SendRequest) (msglog.Message, error) {
	// Registered before Close can start waiting; released on any early return.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return msglog.Message{}, ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()
	dispatched := false
	defer func() {
		if !dispatched {
			c.wg.Done()
		}
	}()

	if !c.users.Exists(req.SenderID) {
		return msglog.Message{}, fmt.Errorf("%w: %s", presence.ErrUnknownUser, req.SenderID)
	}
	if _, err := c.channels.Get(req.ChannelID); err != nil {
		return msglog.Message{}, err
	}
	if !c.allow(req.SenderID) {
		return msglog.Message{}, fmt.Errorf("%w: %s", ErrRateLimited, req.SenderID)
	}

	m, err := c.log.AppendPending(req.ChannelID, req.SenderID, req.Body, req.ReplyTo, msglog.NewID())
	if err != nil {
		return msglog.Message{}, err
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	c.attempts[m.ID] = &attempt{cancel: cancel}
	c.mu.Unlock()

	dispatched = true
	go c.dispatch(ctx, m)
	return m, nil
}

func (c *Coordinator) dispatch(ctx context.Context, m msglog.Message) {
	defer c.wg.Done()
	p := transport.Provisional{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		SenderID:  m.SenderID,
		Body:      m.Body,
		ReplyTo:   m.ReplyTo,
		Key:       m.Key,
		CreatedAt: m.CreatedAt,
	}

	var lastErr error
	for i := range attempts {
		subCtx, cancel := context.WithTimeout(ctx, c.opts.AckTimeout)
		ack, err := c.transport.Submit(subCtx, p)
		cancel()
		if err == nil {
			if err := c.HandleAck(m.ID, ack); err != nil {
				c.logger.Error("failed to apply ack", zap.Error(err), zap.String("provisional_id", m.ID))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		lastErr = err
		if i < attempts-1 {
			c.logger.Warn("send not acknowledged, retrying", zap.Error(err), zap.String("provisional_id", m.ID))
		}
	}
	c.fail(m.ID, lastErr)
}

func (c *Coordinator) fail(provisionalID string, cause error) {
	c.mu.Lock()
	a, ok := c.attempts[provisionalID]
	if !ok {
		c.mu.Unlock()
		return
	}
	a.failed = true
	c.mu.Unlock()

	m, err := c.log.MarkFailed(provisionalID)
	if err != nil {
		c.logger.Debug("mark failed skipped", zap.Error(err), zap.String("provisional_id", provisionalID))
		return
	}
	timeout := errors.Is(cause, context.DeadlineExceeded)
	reason := cause.Error()
	if timeout {
		reason = ErrDeliveryTimeout.Error()
	}
	c.logger.Warn("message delivery failed", zap.String("provisional_id", provisionalID), zap.String("reason", reason))
	c.bus.Emit(bus.MessageSendFailed, Failure{Message: m, Reason: reason, Timeout: timeout})
}

// HandleAck reconciles an acknowledgment. Repeated acks for the same
// provisional ID are suppressed; acks for cancelled sends are ignored.
func (c *Coordinator) HandleAck(provisionalID string, ack transport.Ack) error {
	c.mu.Lock()
	if _, dup := c.mappings[provisionalID]; dup {
		c.mu.Unlock()
		c.bus.Emit(bus.DuplicateSuppressed, Duplicate{MessageID: provisionalID, Source: "ack"})
		return nil
	}
	if _, gone := c.cancelled[provisionalID]; gone {
		c.mu.Unlock()
		return nil
	}
	mapping := Mapping{
		ProvisionalID: provisionalID,
		FinalID:       ack.FinalID,
		FinalKey:      ack.FinalKey,
		ConfirmedAt:   c.now(),
	}
	c.mappings[provisionalID] = mapping
	c.finals[ack.FinalID] = provisionalID
	if a, ok := c.attempts[provisionalID]; ok {
		a.cancel()
		delete(c.attempts, provisionalID)
	}
	c.mu.Unlock()

	m, err := c.log.Confirm(provisionalID, ack.FinalID, ack.FinalKey)
	if err != nil {
		if errors.Is(err, msglog.ErrNotFound) {
			c.logger.Debug("ack for unknown message", zap.String("provisional_id", provisionalID))
			return nil
		}
		return fmt.Errorf("confirm %s: %w", provisionalID, err)
	}
	c.logger.Info("message sent", zap.String("provisional_id", provisionalID), zap.String("final_id", ack.FinalID))
	c.bus.Emit(bus.MessageSendAck, Delivered{ProvisionalID: provisionalID, Message: m})
	return nil
}

// Receive ingests a message confirmed by the transport. nonce is the
// provisional ID the transport echoes back for our own sends; an echo that
// overtakes its ack is treated as the ack.
func (c *Coordinator) Receive(m msglog.Message, nonce string) (bool, error) {
	c.mu.Lock()
	_, own := c.finals[m.ID]
	_, inflight := c.attempts[nonce]
	c.mu.Unlock()

	if own {
		c.bus.Emit(bus.DuplicateSuppressed, Duplicate{MessageID: m.ID, Source: "echo"})
		return false, nil
	}
	if nonce != "" && inflight {
		return false, c.HandleAck(nonce, transport.Ack{ProvisionalID: nonce, FinalID: m.ID, FinalKey: m.Key})
	}

	ok, err := c.log.Ingest(m)
	if err != nil {
		return false, err
	}
	if !ok {
		c.bus.Emit(bus.DuplicateSuppressed, Duplicate{MessageID: m.ID, Source: "inbound"})
	}
	return ok, nil
}

// Cancel withdraws a send that has not been acknowledged. The optimistic
// entry is removed and no further events are emitted for it.
func (c *Coordinator) Cancel(provisionalID string) error {
	c.mu.Lock()
	a, ok := c.attempts[provisionalID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotPending, provisionalID)
	}
	a.cancel()
	delete(c.attempts, provisionalID)
	c.cancelled[provisionalID] = c.now()
	c.mu.Unlock()

	if err := c.log.Discard(provisionalID); err != nil && !errors.Is(err, msglog.ErrNotFound) {
		return err
	}
	return nil
}

// Retry resends the body of a failed message as a new send and discards the
// failed entry.
func (c *Coordinator) Retry(provisionalID string) (msglog.Message, error) {
	old, err := c.log.Get(provisionalID)
	if err != nil {
		return msglog.Message{}, err
	}
	if old.Status != msglog.Failed {
		return msglog.Message{}, fmt.Errorf("%w: %s", ErrNotFailed, provisionalID)
	}
	m, err := c.Send(SendRequest{ChannelID: old.ChannelID, SenderID: old.SenderID, Body: old.Body, ReplyTo: old.ReplyTo})
	if err != nil {
		return msglog.Message{}, err
	}
	if err := c.Discard(provisionalID); err != nil {
		c.logger.Warn("discard after retry", zap.Error(err), zap.String("provisional_id", provisionalID))
	}
	return m, nil
}

// Discard removes a failed message.
func (c *Coordinator) Discard(provisionalID string) error {
	m, err := c.log.Get(provisionalID)
	if err != nil {
		return err
	}
	if m.Status != msglog.Failed {
		return fmt.Errorf("%w: %s", ErrNotFailed, provisionalID)
	}
	c.mu.Lock()
	delete(c.attempts, provisionalID)
	c.cancelled[provisionalID] = c.now()
	c.mu.Unlock()
	return c.log.Discard(provisionalID)
}

// Mapping returns the authoritative identity of a confirmed provisional ID.
func (c *Coordinator) Mapping(provisionalID string) (Mapping, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.mappings[provisionalID]
	return m, ok
}

// Restore loads persisted mappings so acks and echoes replayed after a
// restart are still recognised as duplicates.
func (c *Coordinator) Restore(mappings []Mapping) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range mappings {
		c.mappings[m.ProvisionalID] = m
		c.finals[m.FinalID] = m.ProvisionalID
	}
}

// InFlight returns how many sends await acknowledgment.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.attempts {
		if !a.failed {
			n++
		}
	}
	return n
}

// Prune drops mappings and cancellation markers older than maxAge, and
// limiters that have refilled. It returns the number of mappings removed.
func (c *Coordinator) Prune(maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, m := range c.mappings {
		if m.ConfirmedAt.Before(cutoff) {
			delete(c.mappings, id)
			delete(c.finals, m.FinalID)
			n++
		}
	}
	for id, at := range c.cancelled {
		if at.Before(cutoff) {
			delete(c.cancelled, id)
		}
	}
	for id, l := range c.limiters {
		if l.Tokens() >= float64(c.opts.SendBurst) {
			delete(c.limiters, id)
		}
	}
	return n
}

// Close stops in-flight dispatches and waits for them to return.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) allow(senderID string) bool {
	if c.opts.SendRate <= 0 {
		return true
	}
	c.mu.Lock()
	l, ok := c.limiters[senderID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.opts.SendRate), c.opts.SendBurst)
		c.limiters[senderID] = l
	}
	c.mu.Unlock()
	return l.Allow()
}
