package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/go-meet/internal/meeting"
	"github.com/npezzotti/go-meet/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame sent by a websocket client. Exactly one of the
// action fields is expected to be set.
type ClientMessage struct {
	BaseMessage
	Join    *Join    `json:"join,omitempty"`
	Leave   *Leave   `json:"leave,omitempty"`
	Launch  *Launch  `json:"launch,omitempty"`
	End     *End     `json:"end,omitempty"`
	Publish *Publish `json:"publish,omitempty"`
	Typing  *Typing  `json:"typing,omitempty"`
}

type Join struct{}

type Leave struct{}

type Launch struct{}

type End struct{}

type Publish struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
	To    string `json:"to,omitempty"`
}

type Typing struct {
	Typing bool `json:"typing"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response     `json:"response,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// Notification carries a full snapshot of one stream. Only one field is set
// per frame.
type Notification struct {
	Session      *types.Session `json:"session,omitempty"`
	Messages     *MessageList   `json:"messages,omitempty"`
	Typing       *TypingList    `json:"typing,omitempty"`
	Participants *Participants  `json:"participants,omitempty"`
}

type MessageList struct {
	Messages []types.Message `json:"messages"`
}

type TypingList struct {
	Usernames []string `json:"usernames"`
}

type Participants struct {
	Participants []types.Presence `json:"participants"`
}

func newNotification(n *Notification) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: n,
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
			Data:         data,
		},
	}
}

func newErrResponse(id, code int, text string) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        text,
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrInvalidMessage(id int) *ServerMessage {
	return newErrResponse(id, http.StatusBadRequest, "invalid message format")
}

func ErrForbidden(id int) *ServerMessage {
	return newErrResponse(id, http.StatusForbidden, "only the host can do that")
}

func ErrConflict(id int, reason string) *ServerMessage {
	return newErrResponse(id, http.StatusConflict, reason)
}

func ErrTooManyRequests(id int) *ServerMessage {
	return newErrResponse(id, http.StatusTooManyRequests, "too many requests")
}

func ErrInternalError(id int) *ServerMessage {
	return newErrResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return newErrResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

// ErrFromMeeting maps an error returned by the meeting to a response.
func ErrFromMeeting(id int, err error) *ServerMessage {
	switch {
	case errors.Is(err, meeting.ErrEmptyMessage),
		errors.Is(err, meeting.ErrInvalidMessage),
		errors.Is(err, meeting.ErrInvalidUsername):
		return newErrResponse(id, http.StatusBadRequest, err.Error())
	case errors.Is(err, meeting.ErrNotHost):
		return ErrForbidden(id)
	case errors.Is(err, meeting.ErrSessionActive),
		errors.Is(err, meeting.ErrSessionInactive):
		return ErrConflict(id, err.Error())
	case errors.Is(err, meeting.ErrClosed):
		return ErrServiceUnavailable(id)
	default:
		return ErrInternalError(id)
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
