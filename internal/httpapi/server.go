// Package httpapi serves the Telegram webhook and the operator endpoints.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"

	"github.com/foospoll/foospollbot/internal/domain"
)

// UpdateDispatcher accepts updates for asynchronous handling.
type UpdateDispatcher interface {
	Dispatch(ctx context.Context, update tgbotapi.Update)
}

type StatusSource interface {
	Ping(ctx context.Context) error
	Status(ctx context.Context) (domain.Status, error)
}

type Config struct {
	WebhookPath string
	StatusToken string
}

type Server struct {
	app     *fiber.App
	base    context.Context
	updates UpdateDispatcher
	status  StatusSource
	token   string
	logger  *slog.Logger
}

// New builds the routes. Updates are dispatched under base so that handlers outlive the
// HTTP request.
func New(base context.Context, cfg Config, updates UpdateDispatcher, status StatusSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			BodyLimit:             1 << 20,
		}),
		base:    base,
		updates: updates,
		status:  status,
		token:   cfg.StatusToken,
		logger:  logger,
	}

	path := cfg.WebhookPath
	if path == "" {
		path = "/telegram"
	}
	if updates != nil {
		s.app.Post(path, s.webhook)
	}
	s.app.Get("/healthz", s.health)
	s.app.Get("/status", s.requireToken, s.statusReport)
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks serving addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) webhook(c *fiber.Ctx) error {
	var update tgbotapi.Update
	if err := json.Unmarshal(c.Body(), &update); err != nil {
		s.logger.Warn("webhook payload rejected", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid update"})
	}
	s.updates.Dispatch(s.base, update)
	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) health(c *fiber.Ctx) error {
	if err := s.status.Ping(c.UserContext()); err != nil {
		s.logger.Error("health check failed", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) requireToken(c *fiber.Ctx) error {
	if s.token == "" {
		return fiber.ErrNotFound
	}
	got, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	return c.Next()
}

type tallyJSON struct {
	OptionID int64  `json:"option_id"`
	Label    string `json:"label"`
	Votes    int64  `json:"votes"`
}

type statusJSON struct {
	Applicants map[string]int64 `json:"applicants"`
	Tallies    []tallyJSON      `json:"tallies"`
}

func (s *Server) statusReport(c *fiber.Ctx) error {
	st, err := s.status.Status(c.UserContext())
	if err != nil {
		s.logger.Error("status report failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "status unavailable"})
	}
	out := statusJSON{Applicants: map[string]int64{}, Tallies: []tallyJSON{}}
	for state, n := range st.ByState {
		out.Applicants[string(state)] = n
	}
	for _, t := range st.Tallies {
		out.Tallies = append(out.Tallies, tallyJSON{OptionID: t.OptionID, Label: t.Label, Votes: t.Votes})
	}
	return c.JSON(out)
}

// IsClosed reports the error fiber returns after a clean shutdown.
func IsClosed(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "server closed")
}
