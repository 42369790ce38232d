// Package bridge exposes a running session to local clients: an HTTP control
// API and a websocket that pushes transcripts, emotion scores and errors.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chriscow/empathic-go/pkg/emotion"
	"github.com/chriscow/empathic-go/pkg/metrics"
	"github.com/chriscow/empathic-go/pkg/session"
	"github.com/chriscow/empathic-go/pkg/transport"
	"github.com/chriscow/empathic-go/pkg/version"
)

// DefaultConnectTimeout bounds a session start request.
const DefaultConnectTimeout = 15 * time.Second

// Config configures a Server.
type Config struct {
	Session        *session.Session
	Hub            *Hub
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer       prometheus.Gatherer
	// Tap also receives every speech turn.
	Tap            session.Listener
	ConnectTimeout time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// ErrorResponse is the body of a failed API call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StateResponse describes the session for clients.
type StateResponse struct {
	SessionID   string     `json:"session_id"`
	State       string     `json:"state"`
	Capture     string     `json:"capture"`
	Playing     bool       `json:"playing"`
	ChatGroupID string     `json:"chat_group_id,omitempty"`
	Resume      bool       `json:"resume"`
	Clients     int        `json:"clients"`
	Recording   string     `json:"recording"`
	Since       *time.Time `json:"recording_since,omitempty"`
}

type textRequest struct {
	Text string `json:"text"`
}

type resumeRequest struct {
	Resume *bool `json:"resume"`
}

// Server routes control requests to one session.
type Server struct {
	echo    *echo.Echo
	sess    *session.Session
	hub     *Hub
	timeout time.Duration
	timer   *recordingTimer
	logger  *slog.Logger
}

// New wires the session's listeners into the hub and registers the routes.
// The session must have been created with the hub as its notifier for
// errors to reach clients.
func New(cfg Config) (*Server, error) {
	if cfg.Session == nil {
		return nil, errors.New("session is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(cfg.Logger)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		echo:    echo.New(),
		sess:    cfg.Session,
		hub:     cfg.Hub,
		timeout: cfg.ConnectTimeout,
		timer:   &recordingTimer{now: cfg.Now},
		logger:  cfg.Logger,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	tap := cfg.Tap
	s.sess.SetListener(func(turn session.Turn) {
		s.hub.Broadcast(Event{Type: EventTurn, Turn: &turn})
		if tap != nil {
			tap(turn)
		}
	})
	s.sess.SetTranscriptListener(func(text string) {
		s.hub.Broadcast(Event{Type: EventTranscript, Transcript: text})
	})
	s.sess.SetFrameListener(func(scores []emotion.Score) {
		s.hub.Broadcast(Event{Type: EventFrame, Scores: scores})
	})

	s.hub.OnEmpty = s.clientsGone
	s.hub.OnMessage = s.clientMessage

	s.routes(cfg.Gatherer)
	return s, nil
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"service": version.Name,
			"version": version.Get(),
		})
	})
	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(gatherer)))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/state", s.getState)
	v1.POST("/session/start", s.startSession)
	v1.POST("/session/stop", s.stopSession)
	v1.POST("/session/text", s.sendText)
	v1.PUT("/session/resume", s.setResume)
	v1.POST("/voice/toggle", s.toggleVoice)

	s.echo.GET("/ws", func(c echo.Context) error {
		return s.hub.ServeWS(c.Response(), c.Request())
	})
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("Bridge listening", slog.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener and ends the session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sess.Cleanup()
	s.timer.reset()
	return s.echo.Shutdown(ctx)
}

func (s *Server) state() StateResponse {
	since, elapsed := s.timer.elapsed()
	resp := StateResponse{
		SessionID:   s.sess.ID(),
		State:       s.sess.State().String(),
		Capture:     s.sess.CaptureState().String(),
		Playing:     s.sess.Playing(),
		ChatGroupID: s.sess.ChatGroupID(),
		Resume:      s.sess.Resume(),
		Clients:     s.hub.Clients(),
		Recording:   formatElapsed(elapsed),
	}
	if !since.IsZero() {
		resp.Since = &since
	}
	return resp
}

func (s *Server) publishState() {
	st := s.state()
	s.hub.Broadcast(Event{Type: EventState, State: &st})
}

func (s *Server) getState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.state())
}

func (s *Server) startSession(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.timeout)
	defer cancel()

	if err := s.sess.Connect(ctx); err != nil {
		s.logger.Warn("Session start failed", slog.String("error", err.Error()))
		if errors.Is(err, transport.ErrMissingCredentials) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "missing_credentials",
				Message: err.Error(),
			})
		}
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "connect_failed",
			Message: err.Error(),
		})
	}
	if s.sess.CaptureState() == session.Capturing {
		s.timer.start()
	}
	s.publishState()
	return c.JSON(http.StatusOK, s.state())
}

func (s *Server) stopSession(c echo.Context) error {
	s.sess.Cleanup()
	s.timer.reset()
	s.publishState()
	return c.JSON(http.StatusOK, s.state())
}

func (s *Server) sendText(c echo.Context) error {
	var req textRequest
	if err := c.Bind(&req); err != nil || req.Text == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "text is required",
		})
	}
	if err := s.sess.SendText(c.Request().Context(), req.Text); err != nil {
		return s.sessionError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) setResume(c echo.Context) error {
	var req resumeRequest
	if err := c.Bind(&req); err != nil || req.Resume == nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "resume is required",
		})
	}
	s.sess.SetResume(*req.Resume)
	return c.JSON(http.StatusOK, s.state())
}

// toggleVoice starts capture when idle and stops it when capturing. The
// channel must be open.
func (s *Server) toggleVoice(c echo.Context) error {
	if s.sess.State() != session.Open {
		return s.sessionError(c, session.ErrNotConnected)
	}

	if s.sess.CaptureState() == session.Capturing {
		s.sess.StopCapture()
		s.timer.reset()
	} else {
		if err := s.sess.StartCapture(c.Request().Context()); err != nil {
			return s.sessionError(c, err)
		}
		s.timer.start()
	}
	s.publishState()
	return c.JSON(http.StatusOK, s.state())
}

func (s *Server) sessionError(c echo.Context, err error) error {
	var devErr *session.DeviceError
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "not_connected",
			Message: err.Error(),
		})
	case errors.As(err, &devErr):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "device_unavailable",
			Message: err.Error(),
		})
	default:
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "send_failed",
			Message: err.Error(),
		})
	}
}

// clientsGone ends the session once nobody is watching it.
func (s *Server) clientsGone() {
	if s.sess.State() == session.Disconnected {
		return
	}
	s.logger.Info("Last client disconnected, stopping session")
	s.sess.Cleanup()
	s.timer.reset()
}

func (s *Server) clientMessage(msg ClientMessage) {
	switch msg.Type {
	case "text":
		if msg.Text == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.sess.SendText(ctx, msg.Text); err != nil {
			s.hub.Notify(err)
		}
	case "state":
		s.publishState()
	default:
		s.logger.Warn("Unknown client message", slog.String("type", msg.Type))
	}
}
