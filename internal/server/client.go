package server

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/npezzotti/go-meet/internal/meeting"
	"github.com/npezzotti/go-meet/internal/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	// maxMessageSize leaves room for an inline image plus its frame.
	maxMessageSize = 2 << 20

	inboundRate  = 20
	inboundBurst = 40
)

type Client struct {
	id       string
	conn     *websocket.Conn
	server   *MeetServer
	log      zerolog.Logger
	user     types.User
	send     chan *ServerMessage
	limiter  *rate.Limiter
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, ms *MeetServer, l zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		conn:    conn,
		server:  ms,
		log:     l.With().Str("client_id", id).Str("username", user.Username).Logger(),
		user:    user,
		send:    make(chan *ServerMessage, 256),
		limiter: rate.NewLimiter(rate.Limit(inboundRate), inboundBurst),
		stop:    make(chan struct{}),
	}
}

// Start runs the client's pumps. The client must already be registered.
func (c *Client) Start() {
	go c.Write()
	go c.Read()
	go c.Forward()
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws read")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}
		msg.Timestamp = Now()

		if !c.limiter.Allow() {
			c.queueMessage(ErrTooManyRequests(msg.Id))
			continue
		}

		c.handle(&msg)
	}
}

// Forward pushes a snapshot of every meeting stream to the client whenever
// one changes, until the client stops or the meeting closes.
func (c *Client) Forward() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := c.server.meeting
	sessions := m.SubscribeSession(ctx)
	messages := m.SubscribeMessages(ctx, c.user.Username)
	typing := m.SubscribeTyping(ctx, c.user.Username)
	participants := m.SubscribePresence(ctx)

	for {
		var n Notification
		select {
		case <-c.stop:
			return
		case s, ok := <-sessions:
			if !ok {
				return
			}
			n.Session = &s
		case msgs, ok := <-messages:
			if !ok {
				return
			}
			n.Messages = &MessageList{Messages: nonNil(msgs)}
		case users, ok := <-typing:
			if !ok {
				return
			}
			n.Typing = &TypingList{Usernames: nonNil(users)}
		case p, ok := <-participants:
			if !ok {
				return
			}
			n.Participants = &Participants{Participants: nonNil(p)}
		}
		c.queueMessage(newNotification(&n))
	}
}

func (c *Client) handle(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	m := c.server.meeting
	username := c.user.Username

	var (
		data any
		err  error
	)
	accepted := false

	switch {
	case msg.Join != nil:
		data, err = m.Join(ctx, username)
	case msg.Leave != nil:
		err = m.Leave(ctx, username)
	case msg.Launch != nil:
		data, err = m.Launch(ctx, username)
	case msg.End != nil:
		data, err = m.End(ctx, username)
	case msg.Publish != nil:
		accepted = true
		data, err = m.Send(ctx, meeting.SendParams{
			Username: username,
			Text:     msg.Publish.Text,
			Image:    msg.Publish.Image,
			To:       msg.Publish.To,
		})
	case msg.Typing != nil:
		err = m.SetTyping(ctx, username, msg.Typing.Typing)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if err != nil {
		c.log.Debug().Err(err).Int("msg_id", msg.Id).Msg("request failed")
		c.queueMessage(ErrFromMeeting(msg.Id, err))
		return
	}

	// Frames without an id are fire-and-forget.
	if msg.Id <= 0 {
		return
	}
	if accepted {
		c.queueMessage(NoErrAccepted(msg.Id, data))
		return
	}
	c.queueMessage(NoErrOK(msg.Id, data))
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.server.deRegisterClient(c)
	c.stopClient()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
