package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/npezzotti/go-meet/internal/meeting"
	"github.com/npezzotti/go-meet/internal/server"
	"github.com/npezzotti/go-meet/internal/types"
)

const maxBodyBytes = 2 << 20

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password"`
}

type SendMessageRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
	To    string `json:"to"`
}

type SetTypingRequest struct {
	Typing bool `json:"typing"`
}

type TypingResponse struct {
	Usernames []string `json:"usernames"`
}

func (s *GoMeetApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *GoMeetApp) writeError(w http.ResponseWriter, err *ApiError) {
	if err.StatusCode >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJson(w, err.StatusCode, err)
}

func (s *GoMeetApp) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, NewBadRequestError())
		return false
	}
	return true
}

// caller returns the authenticated username or writes a 401.
func (s *GoMeetApp) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, ok := Username(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
	}
	return username, ok
}

func (s *GoMeetApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoMeetApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if !s.decode(w, r, &lr) {
		return
	}

	if err := s.validate.Struct(lr); err != nil {
		s.writeError(w, NewValidationError(err))
		return
	}
	if strings.TrimSpace(lr.Username) != lr.Username {
		s.writeError(w, NewBadRequestError())
		return
	}
	if strings.EqualFold(lr.Username, types.SystemUsername) {
		s.writeError(w, NewForbiddenError())
		return
	}

	isHost := lr.Username == s.meeting.HostUsername()
	if isHost && !verifyPassword(s.hostPasswordHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	token, err := s.createJwtForSession(lr.Username, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))
	s.log.Info().Str("username", lr.Username).Bool("is_host", isHost).Msg("user logged in")

	s.writeJson(w, http.StatusOK, types.User{Username: lr.Username, IsHost: isHost})
}

func (s *GoMeetApp) session(w http.ResponseWriter, r *http.Request) {
	username, ok := s.caller(w, r)
	if !ok {
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Username: username,
		IsHost:   username == s.meeting.HostUsername(),
	})
}

func (s *GoMeetApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *GoMeetApp) getMeeting(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, s.meeting.Session())
}

func (s *GoMeetApp) joinMeeting(w http.ResponseWriter, r *http.Request) {
	username, ok := s.caller(w, r)
	if !ok {
		return
	}

	p, err := s.meeting.Join(r.Context(), username)
	if err != nil {
		s.writeError(w, errorFromMeeting(err))
		return
	}

	s.writeJson(w, http.StatusOK, p)
}

func (s *GoMeetApp) leaveMeeting(w http.ResponseWriter, r *http.Request) {
	username, ok := s.caller(w, r)
	if !ok {
		return
	}

	if err := s.meeting.Leave(r.Context(), username); err != nil {
		s.writeError(w, errorFromMeeting(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoMeetApp) launchMeeting(w http.ResponseWriter, r *http.Request) {
	username, ok := s.caller(w, r)
	if !ok {
		return
	}

	session, err := s.meeting.Launch(r.Context(), username)
	if err != nil {
		s.writeError(w, errorFromMeeting(err))
		return
	}

	s.writeJson(w, http.StatusOK, session)
}

func (s *GoMeetApp) endMeeting(w http.ResponseWriter, r *http.Request) {
	username, ok := s.caller(w, r)
	if !ok {
		return
	}

	session, err := s.meeting.End(r.Context(), username)
	if err != nil {
		s.writeError(w, errorFromMeeting(err))
		return
	}

	s.writeJson(w, http.StatusOK, session)
}

// getParticipants returns every presence record, or only online ones with
// ?online=true.
func (s *GoMeetApp) getParticipants(w http.ResponseWriter, r *http.Request) {
	participants := s.meeting.Participants()
	if r.URL.Query().Get("online") == "true" {
		participants = slices.DeleteFunc(participants, func(p types.Presence) bool {
			return !p.Online
		})
	}

	s.writeJson(w, http.StatusOK, nonNil(participants))
}

func (s *GoMeetApp) getMessages(w http.ResponseWriter, r *http.Request) {
	username, ok := s.caller(w, r)
	if !ok {
		return
	}

	s.writeJson(w, http.StatusOK, nonNil(s.meeting.Messages(username)))
}

func (s *GoMeetApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	username, ok := s.caller(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if !s.decode(w, r, &req) {
		return
	}

	msg, err := s.meeting.Send(r.Context(), meeting.SendParams{
		Username: username,
		Text:     req.Text,
		Image:    req.Image,
		To:       req.To,
	})
	if err != nil {
		s.writeError(w, errorFromMeeting(err))
		return
	}

	s.writeJson(w, http.StatusAccepted, msg)
}

func (s *GoMeetApp) getTyping(w http.ResponseWriter, r *http.Request) {
	username, ok := s.caller(w, r)
	if !ok {
		return
	}

	s.writeJson(w, http.StatusOK, TypingResponse{Usernames: nonNil(s.meeting.Typing(username))})
}

func (s *GoMeetApp) setTyping(w http.ResponseWriter, r *http.Request) {
	username, ok := s.caller(w, r)
	if !ok {
		return
	}

	var req SetTypingRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.meeting.SetTyping(r.Context(), username, req.Typing); err != nil {
		s.writeError(w, errorFromMeeting(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoMeetApp) serveWs(w http.ResponseWriter, r *http.Request) {
	username, ok := s.caller(w, r)
	if !ok {
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("error upgrading connection")
		return
	}

	client := server.NewClient(types.User{
		Username: username,
		IsHost:   username == s.meeting.HostUsername(),
	}, conn, s.ms, s.log)

	if err := s.ms.RegisterClient(client); err != nil {
		s.log.Warn().Err(err).Msg("rejecting websocket connection")
		conn.Close()
		return
	}
	client.Start()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
