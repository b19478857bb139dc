package meeting

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-meet/internal/types"
)

// Launch starts the meeting with caller as host. Only the configured host may
// launch, and only while the meeting is idle: a launch against an active
// meeting fails with ErrSessionActive and leaves the current host in place.
func (m *Meeting) Launch(ctx context.Context, caller string) (types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.Session{}, ErrClosed
	}
	if caller != m.cfg.HostUsername {
		return types.Session{}, ErrNotHost
	}
	if m.session.Active {
		return types.Session{}, ErrSessionActive
	}

	now := m.now().UTC()
	next := types.Session{
		Active:       true,
		HostUsername: caller,
		StartedAt:    &now,
	}
	if err := m.db.SaveSession(ctx, next); err != nil {
		return types.Session{}, fmt.Errorf("save session: %w", err)
	}

	m.session = next
	m.stats.Incr(metricSessionsLaunched)
	m.sessionTopic.Publish(next)
	m.log.Info().Str("host", caller).Msg("meeting launched")

	// The announcement is a separate write. The launch stands even if it fails.
	if _, err := m.appendLocked(ctx, types.Message{
		Username: types.SystemUsername,
		Text:     fmt.Sprintf("%s started the meeting", caller),
		Type:     types.MessageTypeSystem,
	}); err != nil {
		m.log.Error().Err(err).Msg("failed to announce meeting start")
	}

	return next, nil
}

// End stops the meeting and deletes every message. Only the current host may
// end an active meeting.
func (m *Meeting) End(ctx context.Context, caller string) (types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.Session{}, ErrClosed
	}
	if !m.session.Active {
		return types.Session{}, ErrSessionInactive
	}
	if caller != m.session.HostUsername {
		return types.Session{}, ErrNotHost
	}

	now := m.now().UTC()
	next := m.session
	next.Active = false
	next.EndedAt = &now
	if err := m.db.SaveSession(ctx, next); err != nil {
		return types.Session{}, fmt.Errorf("save session: %w", err)
	}

	if err := m.db.DeleteMessages(ctx); err != nil {
		// Put the active session back so the store matches memory again.
		if rerr := m.db.SaveSession(ctx, m.session); rerr != nil {
			m.log.Error().Err(rerr).Msg("failed to restore session after aborted end")
		}
		return types.Session{}, fmt.Errorf("delete messages: %w", err)
	}

	m.messages = nil
	m.messageTopic.Publish(nil)
	m.session = next
	m.sessionTopic.Publish(next)

	for username := range m.timers {
		m.cancelTimerLocked(username)
	}
	for username := range m.typing {
		if err := m.clearTypingLocked(ctx, username); err != nil {
			m.log.Warn().Err(err).Str("username", username).Msg("failed to clear typing flag")
		}
	}

	m.log.Info().Str("host", caller).Msg("meeting ended")
	return next, nil
}

// Session returns the current session state.
func (m *Meeting) Session() types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Meeting) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Active
}
