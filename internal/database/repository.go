package database

import (
	"context"

	"github.com/npezzotti/go-meet/internal/types"
)

// MessageSeqCounter is the counter used to assign message sequence ids.
const MessageSeqCounter = "message_seq"

// MeetRepository persists the meeting documents. Writes are single-document
// and atomic; there are no multi-document transactions.
type MeetRepository interface {
	Ping(ctx context.Context) error
	// GetSession returns the zero Session when none has been stored yet.
	GetSession(ctx context.Context) (types.Session, error)
	SaveSession(ctx context.Context, session types.Session) error
	CreateMessage(ctx context.Context, msg types.Message) error
	// ListMessages returns all stored messages ordered by sequence id.
	ListMessages(ctx context.Context) ([]types.Message, error)
	DeleteMessages(ctx context.Context) error
	UpsertPresence(ctx context.Context, p types.Presence) error
	ListPresence(ctx context.Context) ([]types.Presence, error)
	SetTyping(ctx context.Context, t types.Typing) error
	ListTyping(ctx context.Context) ([]types.Typing, error)
	// Increment atomically adds delta to the named counter and returns the
	// new value. Missing counters start at zero.
	Increment(ctx context.Context, name string, delta int64) (int64, error)
	Close() error
}
