package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/npezzotti/go-meet/internal/config"
	"github.com/npezzotti/go-meet/internal/database"
	"github.com/npezzotti/go-meet/internal/meeting"
	"github.com/npezzotti/go-meet/internal/server"
)

type GoMeetApp struct {
	log              zerolog.Logger
	db               database.MeetRepository
	mux              *http.Server
	ms               *server.MeetServer
	meeting          *meeting.Meeting
	validate         *validator.Validate
	limiter          *userLimiter
	signingKey       []byte
	hostPasswordHash []byte
	allowedOrigins   []string
}

func NewGoMeetApp(mux *http.ServeMux, logger zerolog.Logger, ms *server.MeetServer, m *meeting.Meeting, db database.MeetRepository, cfg *config.Config) *GoMeetApp {
	s := &GoMeetApp{
		log:              logger.With().Str("component", "api").Logger(),
		db:               db,
		ms:               ms,
		meeting:          m,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		limiter:          newUserLimiter(rate.Limit(requestRate), requestBurst),
		signingKey:       cfg.SigningKey,
		hostPasswordHash: cfg.HostPasswordHash,
		allowedOrigins:   cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/meeting", s.authMiddleware(s.getMeeting))
	mux.HandleFunc("POST /api/meeting/join", s.authMiddleware(s.rateLimit(s.joinMeeting)))
	mux.HandleFunc("POST /api/meeting/leave", s.authMiddleware(s.rateLimit(s.leaveMeeting)))
	mux.HandleFunc("POST /api/meeting/launch", s.authMiddleware(s.rateLimit(s.launchMeeting)))
	mux.HandleFunc("POST /api/meeting/end", s.authMiddleware(s.rateLimit(s.endMeeting)))
	mux.HandleFunc("GET /api/participants", s.authMiddleware(s.getParticipants))
	mux.HandleFunc("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/messages", s.authMiddleware(s.rateLimit(s.sendMessage)))
	mux.HandleFunc("GET /api/typing", s.authMiddleware(s.getTyping))
	mux.HandleFunc("POST /api/typing", s.authMiddleware(s.rateLimit(s.setTyping)))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GoMeetApp) Start() error {
	s.log.Info().Str("addr", s.mux.Addr).Msg("starting server")
	return s.mux.ListenAndServe()
}

func (s *GoMeetApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
