package meeting

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/npezzotti/go-meet/internal/types"
)

// typingTimer clears a typing flag once it fires. gen identifies the arming
// that created it, so a callback racing with a later re-arm is ignored.
type typingTimer struct {
	timer *time.Timer
	gen   uint64
}

// OnInput records keyboard activity from username. The typing flag is set if
// it was not already, and the expiry timer is restarted. Input is ignored
// while the meeting is idle.
func (m *Meeting) OnInput(ctx context.Context, username string) error {
	if err := m.validateUsername(username); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if !m.session.Active {
		return nil
	}

	if !m.typing[username] {
		if err := m.db.SetTyping(ctx, types.Typing{Username: username, Typing: true}); err != nil {
			return fmt.Errorf("set typing: %w", err)
		}
		m.typing[username] = true
		m.typingTopic.Publish(m.typingLocked())
	}

	m.armTimerLocked(username)
	return nil
}

// OnSend stops username's typing indicator right away.
func (m *Meeting) OnSend(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.cancelTimerLocked(username)
	return m.clearTypingLocked(ctx, username)
}

// SetTyping is the single-call form used by transports: true behaves as
// OnInput, false as OnSend.
func (m *Meeting) SetTyping(ctx context.Context, username string, typing bool) error {
	if typing {
		return m.OnInput(ctx, username)
	}
	return m.OnSend(ctx, username)
}

// Typing returns the users currently typing, excluding viewer.
func (m *Meeting) Typing(viewer string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return excluding(m.typingLocked(), viewer)
}

func (m *Meeting) armTimerLocked(username string) {
	m.cancelTimerLocked(username)

	m.timerGen++
	gen := m.timerGen
	m.timers[username] = &typingTimer{
		gen: gen,
		timer: time.AfterFunc(m.cfg.TypingTimeout, func() {
			m.expireTyping(username, gen)
		}),
	}
}

func (m *Meeting) cancelTimerLocked(username string) {
	if tt, ok := m.timers[username]; ok {
		tt.timer.Stop()
		delete(m.timers, username)
	}
}

func (m *Meeting) expireTyping(username string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tt, ok := m.timers[username]
	if m.closed || !ok || tt.gen != gen {
		return
	}
	delete(m.timers, username)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := m.clearTypingLocked(ctx, username); err != nil {
		m.log.Warn().Err(err).Str("username", username).Msg("failed to expire typing flag, retrying")
	}
}

// clearTypingLocked clears username's typing flag if it is set. When the
// store write fails the flag stays set and the expiry timer is re-armed, so
// the clear is retried after another timeout.
func (m *Meeting) clearTypingLocked(ctx context.Context, username string) error {
	if !m.typing[username] {
		return nil
	}
	if err := m.db.SetTyping(ctx, types.Typing{Username: username, Typing: false}); err != nil {
		m.armTimerLocked(username)
		return fmt.Errorf("clear typing: %w", err)
	}
	delete(m.typing, username)
	m.typingTopic.Publish(m.typingLocked())
	return nil
}

func (m *Meeting) typingLocked() []string {
	users := lo.Keys(m.typing)
	slices.Sort(users)
	return users
}

func excluding(users []string, viewer string) []string {
	return lo.Without(users, viewer)
}
