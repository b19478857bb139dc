package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/go-meet/internal/testutil"
	"github.com/npezzotti/go-meet/internal/types"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	assert.NotPanics(t, c.stopClient, "expected a second stop to be a no-op")

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func Test_nonNil(t *testing.T) {
	assert.Equal(t, []string{}, nonNil[string](nil))
	assert.Equal(t, []string{"bob"}, nonNil([]string{"bob"}))
}

func TestClient_handle(t *testing.T) {
	ms := newTestMeetServer(t)

	tcases := []struct {
		name     string
		username string
		msg      *ClientMessage
		wantCode int
		noReply  bool
	}{
		{
			name:     "join replies ok",
			username: "bob",
			msg:      &ClientMessage{BaseMessage: BaseMessage{Id: 1}, Join: &Join{}},
			wantCode: http.StatusOK,
		},
		{
			name:     "empty frame is invalid",
			username: "bob",
			msg:      &ClientMessage{BaseMessage: BaseMessage{Id: 2}},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "non-host launch is forbidden",
			username: "bob",
			msg:      &ClientMessage{BaseMessage: BaseMessage{Id: 3}, Launch: &Launch{}},
			wantCode: http.StatusForbidden,
		},
		{
			name:     "publish while idle conflicts",
			username: "bob",
			msg:      &ClientMessage{BaseMessage: BaseMessage{Id: 4}, Publish: &Publish{Text: "hi"}},
			wantCode: http.StatusConflict,
		},
		{
			name:     "frame without id gets no reply",
			username: "bob",
			msg:      &ClientMessage{Leave: &Leave{}},
			noReply:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Client{
				server: ms,
				user:   types.User{Username: tc.username},
				send:   make(chan *ServerMessage, 1),
				log:    testutil.TestLogger(t),
			}

			c.handle(tc.msg)

			select {
			case resp := <-c.send:
				require.False(t, tc.noReply, "expected no reply, got %+v", resp)
				require.NotNil(t, resp.Response)
				assert.Equal(t, tc.msg.Id, resp.Id)
				assert.Equal(t, tc.wantCode, resp.Response.ResponseCode)
			default:
				assert.True(t, tc.noReply, "expected a reply")
			}
		})
	}
}
