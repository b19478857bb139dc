package meeting

import "errors"

var (
	ErrNotHost         = errors.New("caller is not the meeting host")
	ErrSessionActive   = errors.New("meeting is already active")
	ErrSessionInactive = errors.New("meeting is not active")
	ErrEmptyMessage    = errors.New("message has no text and no image")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrInvalidUsername = errors.New("invalid username")
	ErrClosed          = errors.New("meeting is closed")
)
