// Package server exposes the dispatcher and the chat agent over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dhamidi/cmdgate"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Chatter answers one chat message. *cmdgate.Agent implements it.
type Chatter interface {
	Send(ctx context.Context, message string) (*cmdgate.Reply, error)
}

type Config struct {
	Addr string

	// Chat serves POST /chat when set.
	Chat Chatter

	// Gatherer serves GET /metrics when set.
	Gatherer prometheus.Gatherer
}

// Server provides HTTP endpoints for cmdgate.
type Server struct {
	echo       *echo.Echo
	dispatcher *cmdgate.Dispatcher
	log        logrus.FieldLogger
	config     *Config
}

func New(dispatcher *cmdgate.Dispatcher, log logrus.FieldLogger, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{Addr: "127.0.0.1:8080"}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			log.WithFields(logrus.Fields{
				"method":     c.Request().Method,
				"uri":        c.Request().RequestURI,
				"status":     c.Response().Status,
				"duration":   time.Since(start),
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}).Debug("http request")
			return err
		}
	})

	s := &Server{
		echo:       e,
		dispatcher: dispatcher,
		log:        log,
		config:     cfg,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/commands", s.handleCommands)
	v1.POST("/dispatch", s.handleDispatch)

	if s.config.Chat != nil {
		s.echo.POST("/chat", s.handleChat)
	}
	if s.config.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

type ParameterView struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Required   bool   `json:"required"`
	Validation string `json:"validation"`
}

type CommandView struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Binding     string          `json:"binding"`
	Parameters  []ParameterView `json:"parameters"`
}

func (s *Server) handleCommands(c echo.Context) error {
	commands := s.dispatcher.Registry().Commands()
	views := make([]CommandView, 0, len(commands))
	for _, cmd := range commands {
		view := CommandView{
			Name:        cmd.Name,
			Description: cmd.Description,
			Binding:     cmd.Binding.String(),
			Parameters:  []ParameterView{},
		}
		for _, p := range cmd.Parameters {
			view.Parameters = append(view.Parameters, ParameterView{
				Name:       p.Name,
				Type:       string(p.Type),
				Required:   p.Required,
				Validation: p.Validation,
			})
		}
		views = append(views, view)
	}
	return c.JSON(http.StatusOK, views)
}

type DispatchRequest struct {
	Command string            `json:"command"`
	Args    map[string]string `json:"args"`
}

// DispatchResponse carries the result of a dispatch and, when it failed,
// what was wrong with the request.
type DispatchResponse struct {
	Result    *cmdgate.Result `json:"result"`
	Error     string          `json:"error,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Parameter string          `json:"parameter,omitempty"`
	Pattern   string          `json:"pattern,omitempty"`
	Type      string          `json:"type,omitempty"`
}

func (s *Server) handleDispatch(c echo.Context) error {
	var req DispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Command == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "command field is required")
	}

	result, err := s.dispatcher.Dispatch(c.Request().Context(), req.Command, req.Args)
	if err == nil {
		return c.JSON(http.StatusOK, DispatchResponse{Result: result})
	}

	resp := DispatchResponse{Result: result, Error: err.Error(), Kind: cmdgate.KindName(err)}
	var de *cmdgate.Error
	if errors.As(err, &de) {
		resp.Parameter = de.Parameter
		resp.Pattern = de.Pattern
		resp.Type = string(de.Type)
	}
	return c.JSON(StatusFor(err), resp)
}

// StatusFor maps a dispatch error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, cmdgate.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, cmdgate.ErrMissingParameter),
		errors.Is(err, cmdgate.ErrTypeMismatch),
		errors.Is(err, cmdgate.ErrValidationFailed),
		errors.Is(err, cmdgate.ErrUnexpectedParameter):
		return http.StatusBadRequest
	case errors.Is(err, cmdgate.ErrSpawnFailed),
		errors.Is(err, cmdgate.ErrExecutionFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}

	reply, err := s.config.Chat.Send(c.Request().Context(), req.Message)
	if err != nil {
		s.log.WithError(err).Warn("chat failed")
		return c.JSON(http.StatusInternalServerError, ChatErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, reply)
}

func (s *Server) Start() error {
	s.log.WithField("addr", s.config.Addr).Info("starting http server")
	err := s.echo.Start(s.config.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
