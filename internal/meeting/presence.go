package meeting

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/npezzotti/go-meet/internal/types"
)

// Join marks username online. Joining while already online is a no-op apart
// from returning the current record; no second announcement is written.
func (m *Meeting) Join(ctx context.Context, username string) (types.Presence, error) {
	if err := m.validateUsername(username); err != nil {
		return types.Presence{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.Presence{}, ErrClosed
	}

	if p, ok := m.presence[username]; ok && p.Online {
		return p, nil
	}

	p := types.Presence{
		Username: username,
		Online:   true,
		JoinedAt: m.now().UTC(),
	}
	if err := m.db.UpsertPresence(ctx, p); err != nil {
		return types.Presence{}, fmt.Errorf("upsert presence: %w", err)
	}

	m.presence[username] = p
	m.stats.Incr(metricOnlineParticipants)
	m.presenceTopic.Publish(m.participantsLocked())
	m.log.Info().Str("username", username).Msg("participant joined")

	m.announceLocked(ctx, fmt.Sprintf("%s joined the meeting", username))

	return p, nil
}

// Leave marks username offline and stops its typing indicator. Leaving while
// offline or unknown does nothing.
func (m *Meeting) Leave(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	p, ok := m.presence[username]
	if !ok || !p.Online {
		return nil
	}

	p.Online = false
	if err := m.db.UpsertPresence(ctx, p); err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}

	m.presence[username] = p
	m.stats.Decr(metricOnlineParticipants)
	m.presenceTopic.Publish(m.participantsLocked())
	m.log.Info().Str("username", username).Msg("participant left")

	m.cancelTimerLocked(username)
	if err := m.clearTypingLocked(ctx, username); err != nil {
		m.log.Warn().Err(err).Str("username", username).Msg("failed to clear typing flag on leave")
	}

	m.announceLocked(ctx, fmt.Sprintf("%s left the meeting", username))

	return nil
}

// announceLocked appends a system message while the meeting is active. A
// failed announcement never fails the operation that triggered it.
func (m *Meeting) announceLocked(ctx context.Context, text string) {
	if !m.session.Active {
		return
	}
	if _, err := m.appendLocked(ctx, types.Message{
		Username: types.SystemUsername,
		Text:     text,
		Type:     types.MessageTypeSystem,
	}); err != nil {
		m.log.Error().Err(err).Str("text", text).Msg("failed to append system message")
	}
}

// Participants returns every known presence record, online or not, ordered by
// join time.
func (m *Meeting) Participants() []types.Presence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.participantsLocked()
}

// Online returns the usernames currently online.
func (m *Meeting) Online() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	online := lo.Filter(m.participantsLocked(), func(p types.Presence, _ int) bool {
		return p.Online
	})
	return lo.Map(online, func(p types.Presence, _ int) string {
		return p.Username
	})
}

func (m *Meeting) participantsLocked() []types.Presence {
	out := lo.Values(m.presence)
	slices.SortFunc(out, func(a, b types.Presence) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Username, b.Username)
	})
	return out
}
