package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/npezzotti/go-meet/internal/types"
)

const (
	upsertSessionQuery = "INSERT INTO meeting_session (id, active, host_username, started_at, ended_at) " +
		"VALUES (1, $1, $2, $3, $4) " +
		"ON CONFLICT (id) DO UPDATE SET active = EXCLUDED.active, host_username = EXCLUDED.host_username, " +
		"started_at = EXCLUDED.started_at, ended_at = EXCLUDED.ended_at"
	upsertPresenceQuery = "INSERT INTO meeting_presence (username, online, joined_at) VALUES ($1, $2, $3) " +
		"ON CONFLICT (username) DO UPDATE SET online = EXCLUDED.online, joined_at = EXCLUDED.joined_at"
	upsertTypingQuery = "INSERT INTO meeting_typing (username, typing) VALUES ($1, $2) " +
		"ON CONFLICT (username) DO UPDATE SET typing = EXCLUDED.typing"
	incrementQuery = "INSERT INTO meeting_counters (name, value) VALUES ($1, $2) " +
		"ON CONFLICT (name) DO UPDATE SET value = meeting_counters.value + EXCLUDED.value RETURNING value"
)

func (db *PgMeetRepository) GetSession(ctx context.Context) (types.Session, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT active, host_username, started_at, ended_at FROM meeting_session WHERE id = 1",
	)

	var (
		s                  types.Session
		startedAt, endedAt sql.NullTime
	)
	err := row.Scan(&s.Active, &s.HostUsername, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Session{}, nil
	}
	if err != nil {
		return types.Session{}, err
	}

	if startedAt.Valid {
		t := startedAt.Time.UTC()
		s.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		s.EndedAt = &t
	}

	return s, nil
}

func (db *PgMeetRepository) SaveSession(ctx context.Context, s types.Session) error {
	_, err := db.conn.ExecContext(ctx, upsertSessionQuery,
		s.Active,
		s.HostUsername,
		nullTime(s.StartedAt),
		nullTime(s.EndedAt),
	)
	return err
}

func (db *PgMeetRepository) CreateMessage(ctx context.Context, msg types.Message) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO meeting_messages (seq_id, id, username, text, image, type, recipient, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		msg.SeqId,
		msg.Id,
		msg.Username,
		msg.Text,
		msg.Image,
		string(msg.Type),
		msg.To,
		msg.CreatedAt,
	)
	return err
}

func (db *PgMeetRepository) ListMessages(ctx context.Context) ([]types.Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT seq_id, id, username, text, image, type, recipient, created_at "+
			"FROM meeting_messages ORDER BY seq_id ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var (
			m       types.Message
			msgType string
		)
		if err := rows.Scan(
			&m.SeqId,
			&m.Id,
			&m.Username,
			&m.Text,
			&m.Image,
			&msgType,
			&m.To,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		m.Type = types.MessageType(msgType)
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (db *PgMeetRepository) DeleteMessages(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM meeting_messages")
	return err
}

func (db *PgMeetRepository) UpsertPresence(ctx context.Context, p types.Presence) error {
	_, err := db.conn.ExecContext(ctx, upsertPresenceQuery, p.Username, p.Online, p.JoinedAt)
	return err
}

func (db *PgMeetRepository) ListPresence(ctx context.Context) ([]types.Presence, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT username, online, joined_at FROM meeting_presence ORDER BY joined_at ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var presence []types.Presence
	for rows.Next() {
		var p types.Presence
		if err := rows.Scan(&p.Username, &p.Online, &p.JoinedAt); err != nil {
			return nil, err
		}
		p.JoinedAt = p.JoinedAt.UTC()
		presence = append(presence, p)
	}

	return presence, rows.Err()
}

func (db *PgMeetRepository) SetTyping(ctx context.Context, t types.Typing) error {
	_, err := db.conn.ExecContext(ctx, upsertTypingQuery, t.Username, t.Typing)
	return err
}

func (db *PgMeetRepository) ListTyping(ctx context.Context) ([]types.Typing, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT username, typing FROM meeting_typing")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var typing []types.Typing
	for rows.Next() {
		var t types.Typing
		if err := rows.Scan(&t.Username, &t.Typing); err != nil {
			return nil, err
		}
		typing = append(typing, t)
	}

	return typing, rows.Err()
}

func (db *PgMeetRepository) Increment(ctx context.Context, name string, delta int64) (int64, error) {
	var value int64
	err := db.conn.QueryRowContext(ctx, incrementQuery, name, delta).Scan(&value)
	return value, err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
