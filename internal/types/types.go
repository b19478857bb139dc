package types

import (
	"time"
)

// SystemUsername is the sender of messages synthesized by the meeting itself.
const SystemUsername = "system"

type MessageType string

const (
	MessageTypeSystem  MessageType = "system"
	MessageTypeUser    MessageType = "user"
	MessageTypePrivate MessageType = "private"
)

type User struct {
	Username string `json:"username"`
	IsHost   bool   `json:"is_host"`
}

type Session struct {
	Active       bool       `json:"active"`
	HostUsername string     `json:"host_username,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

type Message struct {
	Id        string      `json:"id"`
	SeqId     int64       `json:"seq_id"`
	Username  string      `json:"username"`
	Text      string      `json:"text,omitempty"`
	Image     string      `json:"image,omitempty"`
	Type      MessageType `json:"type"`
	To        string      `json:"to,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// VisibleTo reports whether viewer may see the message. Private messages are
// only visible to their sender and recipient.
func (m Message) VisibleTo(viewer string) bool {
	if m.Type != MessageTypePrivate {
		return true
	}

	return m.Username == viewer || m.To == viewer
}

type Presence struct {
	Username string    `json:"username"`
	Online   bool      `json:"online"`
	JoinedAt time.Time `json:"joined_at"`
}

type Typing struct {
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}
