package meeting

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"github.com/teris-io/shortid"

	"github.com/npezzotti/go-meet/internal/database"
	"github.com/npezzotti/go-meet/internal/types"
)

type SendParams struct {
	Username string `validate:"required,max=64"`
	Text     string
	// Image is a data URI carrying a base64 payload.
	Image string `validate:"omitempty,datauri"`
	// To makes the message private to the sender and this recipient.
	To string `validate:"omitempty,max=64,nefield=Username"`
}

// Send appends a user message, or a private one when To is set. Validation
// happens before anything is written. A send also stops the sender's typing
// indicator.
func (m *Meeting) Send(ctx context.Context, p SendParams) (types.Message, error) {
	if err := m.validateSend(p); err != nil {
		return types.Message{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.Message{}, ErrClosed
	}
	if !m.session.Active {
		return types.Message{}, ErrSessionInactive
	}

	msg := types.Message{
		Username: p.Username,
		Text:     p.Text,
		Image:    p.Image,
		Type:     types.MessageTypeUser,
	}
	if p.To != "" {
		msg.Type = types.MessageTypePrivate
		msg.To = p.To
	}

	msg, err := m.appendLocked(ctx, msg)
	if err != nil {
		return types.Message{}, err
	}
	m.stats.Incr(metricMessagesSent)

	m.cancelTimerLocked(p.Username)
	if err := m.clearTypingLocked(ctx, p.Username); err != nil {
		m.log.Warn().Err(err).Str("username", p.Username).Msg("failed to clear typing flag after send")
	}

	return msg, nil
}

func (m *Meeting) validateSend(p SendParams) error {
	if strings.TrimSpace(p.Text) == "" && p.Image == "" {
		return ErrEmptyMessage
	}
	if err := m.validateUsername(p.Username); err != nil {
		return err
	}
	if err := m.validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if p.To != "" {
		if err := m.validateUsername(p.To); err != nil {
			return fmt.Errorf("%w: recipient: %w", ErrInvalidMessage, err)
		}
	}
	if n := utf8.RuneCountInString(p.Text); n > m.cfg.MaxTextLength {
		return fmt.Errorf("%w: text is %d characters, limit is %d", ErrInvalidMessage, n, m.cfg.MaxTextLength)
	}
	if len(p.Image) > m.cfg.MaxImageBytes {
		return fmt.Errorf("%w: image is %d bytes, limit is %d", ErrInvalidMessage, len(p.Image), m.cfg.MaxImageBytes)
	}
	return nil
}

// appendLocked assigns the id, sequence id and creation time, persists the
// message and publishes the new log. m.mu must be held.
func (m *Meeting) appendLocked(ctx context.Context, msg types.Message) (types.Message, error) {
	id, err := shortid.Generate()
	if err != nil {
		return types.Message{}, fmt.Errorf("generate message id: %w", err)
	}

	seq, err := m.db.Increment(ctx, database.MessageSeqCounter, 1)
	if err != nil {
		return types.Message{}, fmt.Errorf("assign sequence id: %w", err)
	}

	msg.Id = id
	msg.SeqId = seq
	msg.CreatedAt = m.nextCreatedAt()

	if err := m.db.CreateMessage(ctx, msg); err != nil {
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}

	m.messages = append(m.messages, msg)
	m.messageTopic.Publish(slices.Clone(m.messages))

	m.log.Debug().
		Str("id", msg.Id).
		Int64("seq_id", msg.SeqId).
		Str("username", msg.Username).
		Str("type", string(msg.Type)).
		Msg("message appended")

	return msg, nil
}

// nextCreatedAt returns a creation time strictly after every earlier one, at
// the microsecond precision the stores keep.
func (m *Meeting) nextCreatedAt() time.Time {
	t := m.now().UTC().Truncate(time.Microsecond)
	if !t.After(m.lastCreatedAt) {
		t = m.lastCreatedAt.Add(time.Microsecond)
	}
	m.lastCreatedAt = t
	return t
}

// Messages returns the ordered messages visible to viewer.
func (m *Meeting) Messages(viewer string) []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return visibleTo(m.messages, viewer)
}

func visibleTo(all []types.Message, viewer string) []types.Message {
	return lo.Filter(all, func(msg types.Message, _ int) bool {
		return msg.VisibleTo(viewer)
	})
}

func sortMessages(messages []types.Message) {
	slices.SortStableFunc(messages, func(a, b types.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.SeqId < b.SeqId:
			return -1
		case a.SeqId > b.SeqId:
			return 1
		}
		return 0
	})
}
