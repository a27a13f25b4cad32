package companion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/msglog"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 30 * time.Second
	SystemSender   = "system"
	placeholder    = "…"
	contextLines   = 10
)

// Channels resolves channel records.
type Channels interface {
	Get(id string) (directory.Channel, error)
}

// Service answers questions in a channel on behalf of the bot user.
type Service struct {
	log      *msglog.Log
	channels Channels
	gen      Generator
	logger   *zap.Logger
	botID    string
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewService creates a companion service posting as botID. gen may be nil,
// in which case every question is answered with a system notice.
func NewService(log *msglog.Log, channels Channels, gen Generator, botID string, timeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		log:      log,
		channels: channels,
		gen:      gen,
		logger:   logger,
		botID:    botID,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// BotID is the sender ID of generated messages.
func (s *Service) BotID() string { return s.botID }

// Ask posts a placeholder reply to replyTo and fills it in once the
// generator answers. It returns the placeholder without waiting.
func (s *Service) Ask(channelID, question, replyTo string) (msglog.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return msglog.Message{}, ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()
	started := false
	defer func() {
		if !started {
			s.wg.Done()
		}
	}()

	if _, err := s.channels.Get(channelID); err != nil {
		return msglog.Message{}, err
	}
	prompt := Prompt{Question: question}
	for _, v := range s.log.Recent(channelID, contextLines) {
		if v.Body.Text != "" && v.Body.Kind != msglog.KindSystem {
			prompt.Context = append(prompt.Context, v.Body.Text)
		}
	}

	m, err := s.log.Append(channelID, s.botID, msglog.Body{Kind: msglog.KindText, Text: placeholder}, replyTo)
	if err != nil {
		return msglog.Message{}, fmt.Errorf("post placeholder: %w", err)
	}

	started = true
	go s.generate(m, prompt)
	return m, nil
}

func (s *Service) generate(m msglog.Message, p Prompt) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	var resp Response
	err := ErrNoGenerator
	if s.gen != nil {
		resp, err = s.gen.Generate(ctx, p)
	}
	if err != nil {
		s.logger.Warn("generation failed", zap.Error(err), zap.String("message", m.ID))
		if _, cerr := s.log.Complete(m.ID, msglog.Completion{Failed: true}); cerr != nil {
			s.logger.Error("failed to complete placeholder", zap.Error(cerr))
		}
		notice := msglog.Body{Kind: msglog.KindSystem, Text: "companion could not answer: " + err.Error()}
		_, aerr := s.log.Append(m.ChannelID, SystemSender, notice, m.ID)
		if errors.Is(aerr, msglog.ErrReplyTarget) {
			// The placeholder is gone, most likely cleared with its channel.
			_, aerr = s.log.Append(m.ChannelID, SystemSender, notice, "")
		}
		if aerr != nil {
			s.logger.Error("failed to post notice", zap.Error(aerr))
		}
		return
	}
	if _, err := s.log.Complete(m.ID, msglog.Completion{Text: resp.Text, Sources: resp.Sources}); err != nil {
		s.logger.Error("failed to complete answer", zap.Error(err), zap.String("message", m.ID))
	}
}

// Close cancels outstanding generations and waits for them.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
