package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/npezzotti/go-meet/internal/config"
	"github.com/npezzotti/go-meet/internal/database"
	"github.com/npezzotti/go-meet/internal/meeting"
	"github.com/npezzotti/go-meet/internal/stats"
	"github.com/npezzotti/go-meet/internal/testutil"
	"github.com/npezzotti/go-meet/internal/types"
)

const (
	testHost     = "NewTalentsG"
	testPassword = "s3cret"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	return &config.Config{
		ServerAddr:       "localhost:8080",
		SigningKey:       []byte("test-signing-key"),
		AllowedOrigins:   []string{"http://localhost:3000"},
		HostUsername:     testHost,
		HostPasswordHash: hash,
	}
}

// newTestApp wires the app to a meeting over an in-memory store.
func newTestApp(t *testing.T, db database.MeetRepository) *GoMeetApp {
	t.Helper()
	logger := testutil.TestLogger(t)
	cfg := newTestConfig(t)

	if db == nil {
		bdb, err := database.OpenBadger("", logger)
		require.NoError(t, err)
		repo := database.NewBadgerMeetRepository(bdb)
		t.Cleanup(func() { repo.Close() })
		db = repo
	}

	m, err := meeting.New(context.Background(), logger, db, stats.NewLenientMock(), meeting.Config{HostUsername: cfg.HostUsername})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	return NewGoMeetApp(http.NewServeMux(), logger, nil, m, db, cfg)
}

func emptyMockRepo() *database.MockMeetRepository {
	repo := &database.MockMeetRepository{}
	repo.On("GetSession", mock.Anything).Return(types.Session{}, nil)
	repo.On("ListMessages", mock.Anything).Return([]types.Message{}, nil)
	repo.On("ListPresence", mock.Anything).Return([]types.Presence{}, nil)
	repo.On("ListTyping", mock.Anything).Return([]types.Typing{}, nil)
	return repo
}

// do sends a request through the full handler chain as username. An empty
// username sends no cookie.
func do(t *testing.T, app *GoMeetApp, method, path, username, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if username != "" {
		token, err := app.createJwtForSession(username, defaultJwtExpiration)
		require.NoError(t, err)
		req.AddCookie(createJwtCookie(token, defaultJwtExpiration))
	}

	rr := httptest.NewRecorder()
	app.mux.Handler.ServeHTTP(rr, req)
	return rr
}

// findCookie is a helper function to find a cookie by name in the response recorder.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func TestNewGoMeetApp(t *testing.T) {
	app := newTestApp(t, nil)

	assert.NotNil(t, app.mux, "expected server to be initialized")
	assert.NotNil(t, app.meeting, "expected meeting to be set")
	assert.Equal(t, []byte("test-signing-key"), app.signingKey, "expected signing key to be set")
	assert.Equal(t, "localhost:8080", app.mux.Addr, "expected server address to match config")
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := emptyMockRepo()
			mockRepo.On("Ping", mock.Anything).Return(tc.mockErr).Once()
			app := newTestApp(t, mockRepo)

			rr := do(t, app, http.MethodGet, "/healthz", "", "")

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestLoginHandler(t *testing.T) {
	app := newTestApp(t, nil)

	tcases := []struct {
		name         string
		body         string
		expectedCode int
		expectHost   bool
	}{
		{name: "participant without password", body: `{"username":"bob"}`, expectedCode: http.StatusOK},
		{name: "host with password", body: `{"username":"NewTalentsG","password":"s3cret"}`, expectedCode: http.StatusOK, expectHost: true},
		{name: "host with wrong password", body: `{"username":"NewTalentsG","password":"nope"}`, expectedCode: http.StatusUnauthorized},
		{name: "host without password", body: `{"username":"NewTalentsG"}`, expectedCode: http.StatusUnauthorized},
		{name: "empty username", body: `{"username":""}`, expectedCode: http.StatusBadRequest},
		{name: "padded username", body: `{"username":" bob"}`, expectedCode: http.StatusBadRequest},
		{name: "reserved username", body: `{"username":"System"}`, expectedCode: http.StatusForbidden},
		{name: "malformed body", body: `{"username":`, expectedCode: http.StatusBadRequest},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, app, http.MethodPost, "/api/auth/login", "", tc.body)
			assert.Equal(t, tc.expectedCode, rr.Code, "body: %s", rr.Body.String())

			cookie := findCookie(rr, tokenCookieKey)
			if tc.expectedCode != http.StatusOK {
				assert.Nil(t, cookie, "expected no token cookie")
				return
			}

			require.NotNil(t, cookie, "expected token cookie to be set")
			assert.True(t, cookie.HttpOnly)
			user := decodeBody[types.User](t, rr)
			assert.Equal(t, tc.expectHost, user.IsHost)

			username, err := app.extractUsernameFromToken(cookie.Value)
			require.NoError(t, err)
			assert.Equal(t, user.Username, username)
		})
	}
}

func TestSessionAndLogout(t *testing.T) {
	app := newTestApp(t, nil)

	rr := do(t, app, http.MethodGet, "/api/auth/session", testHost, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, types.User{Username: testHost, IsHost: true}, decodeBody[types.User](t, rr))

	rr = do(t, app, http.MethodGet, "/api/auth/session", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, app, http.MethodGet, "/api/auth/logout", "bob", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	cookie := findCookie(rr, tokenCookieKey)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value, "expected token to be cleared")
}

func TestMeetingLifecycleHandlers(t *testing.T) {
	app := newTestApp(t, nil)

	rr := do(t, app, http.MethodPost, "/api/meeting/launch", "bob", "")
	assert.Equal(t, http.StatusForbidden, rr.Code, "expected non-host launch to be rejected")

	rr = do(t, app, http.MethodPost, "/api/meeting/launch", testHost, "")
	require.Equal(t, http.StatusOK, rr.Code)
	session := decodeBody[types.Session](t, rr)
	assert.True(t, session.Active)
	assert.Equal(t, testHost, session.HostUsername)

	rr = do(t, app, http.MethodPost, "/api/meeting/launch", testHost, "")
	assert.Equal(t, http.StatusConflict, rr.Code, "expected second launch to conflict")

	rr = do(t, app, http.MethodGet, "/api/meeting", "bob", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeBody[types.Session](t, rr).Active)

	rr = do(t, app, http.MethodPost, "/api/meeting/end", "bob", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, app, http.MethodPost, "/api/meeting/end", testHost, "")
	require.Equal(t, http.StatusOK, rr.Code)
	session = decodeBody[types.Session](t, rr)
	assert.False(t, session.Active)
	assert.NotNil(t, session.EndedAt)

	rr = do(t, app, http.MethodPost, "/api/meeting/end", testHost, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestMessageHandlers(t *testing.T) {
	app := newTestApp(t, nil)

	rr := do(t, app, http.MethodPost, "/api/messages", "bob", `{"text":"too early"}`)
	assert.Equal(t, http.StatusConflict, rr.Code, "expected send to fail while idle")

	require.Equal(t, http.StatusOK, do(t, app, http.MethodPost, "/api/meeting/launch", testHost, "").Code)

	rr = do(t, app, http.MethodPost, "/api/messages", "bob", `{"text":"hi","to":"carol"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, "body: %s", rr.Body.String())
	msg := decodeBody[types.Message](t, rr)
	assert.Equal(t, types.MessageTypePrivate, msg.Type)
	assert.NotEmpty(t, msg.Id)

	rr = do(t, app, http.MethodPost, "/api/messages", "bob", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, app, http.MethodPost, "/api/messages", "bob", `{"text":"`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	tcases := []struct {
		viewer   string
		expected bool
	}{
		{viewer: "bob", expected: true},
		{viewer: "carol", expected: true},
		{viewer: "dave", expected: false},
	}

	for _, tc := range tcases {
		t.Run(tc.viewer, func(t *testing.T) {
			rr := do(t, app, http.MethodGet, "/api/messages", tc.viewer, "")
			require.Equal(t, http.StatusOK, rr.Code)

			found := false
			for _, m := range decodeBody[[]types.Message](t, rr) {
				if m.Id == msg.Id {
					found = true
				}
			}
			assert.Equal(t, tc.expected, found)
		})
	}

	rr = do(t, app, http.MethodGet, "/api/messages", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestPresenceAndTypingHandlers(t *testing.T) {
	app := newTestApp(t, nil)
	require.Equal(t, http.StatusOK, do(t, app, http.MethodPost, "/api/meeting/launch", testHost, "").Code)

	require.Equal(t, http.StatusOK, do(t, app, http.MethodPost, "/api/meeting/join", "bob", "").Code)
	require.Equal(t, http.StatusOK, do(t, app, http.MethodPost, "/api/meeting/join", "carol", "").Code)
	require.Equal(t, http.StatusNoContent, do(t, app, http.MethodPost, "/api/meeting/leave", "carol", "").Code)

	rr := do(t, app, http.MethodGet, "/api/participants", "bob", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]types.Presence](t, rr), 2)

	rr = do(t, app, http.MethodGet, "/api/participants?online=true", "bob", "")
	require.Equal(t, http.StatusOK, rr.Code)
	online := decodeBody[[]types.Presence](t, rr)
	require.Len(t, online, 1)
	assert.Equal(t, "bob", online[0].Username)

	rr = do(t, app, http.MethodPost, "/api/typing", "bob", `{"typing":true}`)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, app, http.MethodGet, "/api/typing", "carol", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"bob"}, decodeBody[TypingResponse](t, rr).Usernames)

	rr = do(t, app, http.MethodGet, "/api/typing", "bob", "")
	assert.Empty(t, decodeBody[TypingResponse](t, rr).Usernames, "expected the viewer to be excluded")

	rr = do(t, app, http.MethodPost, "/api/typing", "bob", `{"typing":false}`)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, app, http.MethodGet, "/api/typing", "carol", "")
	assert.Empty(t, decodeBody[TypingResponse](t, rr).Usernames)
}

func TestStoreFailureHandler(t *testing.T) {
	repo := emptyMockRepo()
	repo.On("UpsertPresence", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	app := newTestApp(t, repo)

	rr := do(t, app, http.MethodPost, "/api/meeting/join", "bob", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	apiErr := decodeBody[ApiError](t, rr)
	assert.Equal(t, "internal server error", apiErr.Message)
	assert.NotContains(t, rr.Body.String(), "disk full", "expected store errors to stay internal")
}

func TestRateLimit(t *testing.T) {
	app := newTestApp(t, nil)

	var last int
	for i := 0; i < requestBurst+5; i++ {
		last = do(t, app, http.MethodPost, "/api/typing", "bob", `{"typing":false}`).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	rr := do(t, app, http.MethodPost, "/api/typing", "carol", `{"typing":false}`)
	assert.Equal(t, http.StatusNoContent, rr.Code, "expected limits to be per user")
}

func TestWriteJson(t *testing.T) {
	app := &GoMeetApp{log: testutil.TestLogger(t)}
	rr := httptest.NewRecorder()

	app.writeJson(rr, http.StatusTeapot, map[string]string{"a": "b"})

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"a":"b"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	app.writeJson(rr, http.StatusNoContent, nil)
	assert.Zero(t, rr.Body.Len())
}
