package server

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/npezzotti/go-meet/internal/meeting"
	"github.com/npezzotti/go-meet/internal/stats"
)

const (
	// requestTimeout bounds the store work done for one client frame or one
	// presence change.
	requestTimeout = 5 * time.Second

	metricConnectedClients = "ConnectedClients"
)

var ErrServerStopped = errors.New("server stopped")

type stopReq struct {
	done chan struct{}
}

// MeetServer tracks websocket connections and turns the first connection of
// a user into a join and the last disconnect into a leave.
type MeetServer struct {
	log            zerolog.Logger
	meeting        *meeting.Meeting
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	userMap        map[string]map[*Client]struct{}
	registerChan   chan *Client
	deRegisterChan chan *Client
	stop           chan stopReq
	done           chan struct{}
}

func NewMeetServer(logger zerolog.Logger, m *meeting.Meeting, su stats.StatsProvider) *MeetServer {
	su.RegisterMetric(metricConnectedClients)

	return &MeetServer{
		log:            logger.With().Str("component", "ws").Logger(),
		meeting:        m,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[string]map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}
}

func (ms *MeetServer) Run() {
	for {
		select {
		case c := <-ms.registerChan:
			ms.handleRegister(c)
		case c := <-ms.deRegisterChan:
			ms.handleDeRegister(c)
		case req := <-ms.stop:
			ms.log.Info().Int("clients", len(ms.clients)).Msg("disconnecting clients")
			for c := range ms.clients {
				c.stopClient()
			}
			close(ms.done)
			close(req.done)
			return
		}
	}
}

// RegisterClient hands a new connection to the server loop.
func (ms *MeetServer) RegisterClient(c *Client) error {
	select {
	case ms.registerChan <- c:
		return nil
	case <-ms.done:
		return ErrServerStopped
	}
}

func (ms *MeetServer) deRegisterClient(c *Client) {
	select {
	case ms.deRegisterChan <- c:
	case <-ms.done:
	}
}

func (ms *MeetServer) handleRegister(c *Client) {
	ms.addClient(c)
	username := c.user.Username
	ms.log.Debug().Str("client_id", c.id).Str("username", username).Msg("client connected")

	// Join is a no-op for users already online, so every connection retries
	// a join that failed on an earlier one.
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, err := ms.meeting.Join(ctx, username); err != nil {
		ms.log.Error().Err(err).Str("username", username).Msg("failed to join on connect")
		c.queueMessage(ErrFromMeeting(0, err))
	}
}

func (ms *MeetServer) handleDeRegister(c *Client) {
	if !ms.removeClient(c) {
		return
	}
	username := c.user.Username
	ms.log.Debug().Str("client_id", c.id).Str("username", username).Msg("client disconnected")

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := ms.meeting.OnSend(ctx, username); err != nil && !errors.Is(err, meeting.ErrClosed) {
		ms.log.Warn().Err(err).Str("username", username).Msg("failed to clear typing on disconnect")
	}

	if _, ok := ms.userMap[username]; ok {
		return
	}
	if err := ms.meeting.Leave(ctx, username); err != nil && !errors.Is(err, meeting.ErrClosed) {
		ms.log.Error().Err(err).Str("username", username).Msg("failed to leave on disconnect")
	}
}

func (ms *MeetServer) addClient(c *Client) {
	ms.clients[c] = struct{}{}
	if _, ok := ms.userMap[c.user.Username]; !ok {
		ms.userMap[c.user.Username] = make(map[*Client]struct{})
	}
	ms.userMap[c.user.Username][c] = struct{}{}
	ms.stats.Incr(metricConnectedClients)
}

// removeClient reports whether c was registered.
func (ms *MeetServer) removeClient(c *Client) bool {
	if _, ok := ms.clients[c]; !ok {
		return false
	}
	delete(ms.clients, c)

	conns := ms.userMap[c.user.Username]
	delete(conns, c)
	if len(conns) == 0 {
		delete(ms.userMap, c.user.Username)
	}
	ms.stats.Decr(metricConnectedClients)
	return true
}

func (ms *MeetServer) Shutdown(ctx context.Context) error {
	ms.log.Info().Msg("received shutdown signal")
	req := stopReq{done: make(chan struct{})}

	select {
	case ms.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
