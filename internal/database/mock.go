package database

import (
	"context"

	"github.com/npezzotti/go-meet/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockMeetRepository struct {
	mock.Mock
}

func (m *MockMeetRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockMeetRepository) GetSession(ctx context.Context) (types.Session, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Session), args.Error(1)
}
func (m *MockMeetRepository) SaveSession(ctx context.Context, session types.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}
func (m *MockMeetRepository) CreateMessage(ctx context.Context, msg types.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
func (m *MockMeetRepository) ListMessages(ctx context.Context) ([]types.Message, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockMeetRepository) DeleteMessages(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockMeetRepository) UpsertPresence(ctx context.Context, p types.Presence) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}
func (m *MockMeetRepository) ListPresence(ctx context.Context) ([]types.Presence, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Presence), args.Error(1)
}
func (m *MockMeetRepository) SetTyping(ctx context.Context, t types.Typing) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}
func (m *MockMeetRepository) ListTyping(ctx context.Context) ([]types.Typing, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Typing), args.Error(1)
}
func (m *MockMeetRepository) Increment(ctx context.Context, name string, delta int64) (int64, error) {
	args := m.Called(ctx, name, delta)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockMeetRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
