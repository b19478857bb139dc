// Package meeting implements the single shared meeting room: the host
// controlled session lifecycle, participant presence, the ordered message
// log with private message filtering, and self-expiring typing indicators.
//
// All state is owned by one Meeting value. Every mutation runs under its lock,
// writes through to the store first, updates memory only once the write
// succeeded, and then publishes the new view to subscribers.
package meeting

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/npezzotti/go-meet/internal/database"
	"github.com/npezzotti/go-meet/internal/pubsub"
	"github.com/npezzotti/go-meet/internal/stats"
	"github.com/npezzotti/go-meet/internal/types"
)

const (
	DefaultTypingTimeout = 1500 * time.Millisecond
	DefaultMaxTextLength = 4096
	DefaultMaxImageBytes = 1 << 20

	// storeTimeout bounds writes issued from timer callbacks, which have no
	// caller context.
	storeTimeout = 5 * time.Second

	metricMessagesSent       = "MessagesSent"
	metricSessionsLaunched   = "SessionsLaunched"
	metricOnlineParticipants = "OnlineParticipants"
)

type Config struct {
	// HostUsername is the only identity allowed to launch the meeting.
	HostUsername  string
	TypingTimeout time.Duration
	MaxTextLength int
	MaxImageBytes int
}

type Meeting struct {
	mu       sync.Mutex
	log      zerolog.Logger
	db       database.MeetRepository
	stats    stats.StatsProvider
	validate *validator.Validate
	cfg      Config
	now      func() time.Time

	session       types.Session
	messages      []types.Message
	presence      map[string]types.Presence
	typing        map[string]bool
	timers        map[string]*typingTimer
	timerGen      uint64
	lastCreatedAt time.Time
	closed        bool

	sessionTopic  *pubsub.Topic[types.Session]
	messageTopic  *pubsub.Topic[[]types.Message]
	presenceTopic *pubsub.Topic[[]types.Presence]
	typingTopic   *pubsub.Topic[[]string]
}

// New restores the meeting from the store. Presence and typing flags left set
// by a previous process are cleared: the connections and timers that owned
// them did not survive the restart.
func New(ctx context.Context, logger zerolog.Logger, db database.MeetRepository, su stats.StatsProvider, cfg Config) (*Meeting, error) {
	if cfg.HostUsername == "" {
		return nil, fmt.Errorf("host username cannot be empty")
	}
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = DefaultTypingTimeout
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultMaxTextLength
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}

	m := &Meeting{
		log:      logger.With().Str("component", "meeting").Logger(),
		db:       db,
		stats:    su,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfg:      cfg,
		now:      time.Now,
		presence: make(map[string]types.Presence),
		typing:   make(map[string]bool),
		timers:   make(map[string]*typingTimer),
	}

	if err := m.load(ctx); err != nil {
		return nil, err
	}

	su.RegisterMetric(metricMessagesSent)
	su.RegisterMetric(metricSessionsLaunched)
	su.RegisterMetric(metricOnlineParticipants)

	m.sessionTopic = pubsub.NewTopic(m.session)
	m.messageTopic = pubsub.NewTopic(slices.Clone(m.messages))
	m.presenceTopic = pubsub.NewTopic(m.participantsLocked())
	m.typingTopic = pubsub.NewTopic(m.typingLocked())

	return m, nil
}

func (m *Meeting) load(ctx context.Context) error {
	session, err := m.db.GetSession(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	m.session = session

	messages, err := m.db.ListMessages(ctx)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	sortMessages(messages)
	m.messages = messages
	if n := len(messages); n > 0 {
		m.lastCreatedAt = messages[n-1].CreatedAt
	}

	presence, err := m.db.ListPresence(ctx)
	if err != nil {
		return fmt.Errorf("load presence: %w", err)
	}
	for _, p := range presence {
		if p.Online {
			p.Online = false
			if err := m.db.UpsertPresence(ctx, p); err != nil {
				return fmt.Errorf("reset presence for %q: %w", p.Username, err)
			}
		}
		m.presence[p.Username] = p
	}

	typing, err := m.db.ListTyping(ctx)
	if err != nil {
		return fmt.Errorf("load typing: %w", err)
	}
	for _, t := range typing {
		if !t.Typing {
			continue
		}
		if err := m.db.SetTyping(ctx, types.Typing{Username: t.Username, Typing: false}); err != nil {
			m.log.Warn().Err(err).Str("username", t.Username).Msg("failed to reset stale typing flag")
		}
	}

	m.log.Info().
		Bool("active", session.Active).
		Int("messages", len(messages)).
		Int("participants", len(presence)).
		Msg("meeting state loaded")

	return nil
}

// Close cancels all pending typing timers and closes every subscription.
// No state changes are published after Close returns.
func (m *Meeting) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for username, tt := range m.timers {
		tt.timer.Stop()
		delete(m.timers, username)
	}
	m.mu.Unlock()

	m.sessionTopic.Close()
	m.messageTopic.Close()
	m.presenceTopic.Close()
	m.typingTopic.Close()
	m.log.Info().Msg("meeting closed")
}

// HostUsername returns the identity allowed to launch the meeting.
func (m *Meeting) HostUsername() string {
	return m.cfg.HostUsername
}

func (m *Meeting) validateUsername(username string) error {
	if err := m.validate.Var(username, "required,max=64"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	if username == types.SystemUsername {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidUsername, username)
	}
	if strings.TrimSpace(username) != username {
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidUsername, username)
	}
	return nil
}

// SubscribeSession streams the session state, starting with the current one.
func (m *Meeting) SubscribeSession(ctx context.Context) <-chan types.Session {
	return m.sessionTopic.Subscribe(ctx)
}

// SubscribePresence streams every presence record, starting with the current
// set.
func (m *Meeting) SubscribePresence(ctx context.Context) <-chan []types.Presence {
	return m.presenceTopic.Subscribe(ctx)
}

// SubscribeMessages streams the ordered messages visible to viewer. The first
// value is the full current set; each change yields a new full set.
func (m *Meeting) SubscribeMessages(ctx context.Context, viewer string) <-chan []types.Message {
	return pubsub.Project(ctx, m.messageTopic, func(all []types.Message) []types.Message {
		return visibleTo(all, viewer)
	})
}

// SubscribeTyping streams the users currently typing, excluding viewer.
func (m *Meeting) SubscribeTyping(ctx context.Context, viewer string) <-chan []string {
	return pubsub.Project(ctx, m.typingTopic, func(users []string) []string {
		return excluding(users, viewer)
	})
}
