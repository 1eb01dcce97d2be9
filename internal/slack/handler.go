package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/techflow/internal/api"
	"github.com/ashureev/techflow/internal/command"
	"github.com/ashureev/techflow/internal/directory"
	"github.com/ashureev/techflow/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const (
	// SlashCommand is the registered slash command name.
	SlashCommand = "/techflow"

	processingNotice = "🤔 Processing your request..."
	failureMessage   = "❌ Sorry, I encountered an error processing your request. Please try again."
	slackbotUserID   = "USLACKBOT"
	maxBodyBytes     = 1 << 20

	// DefaultProcessTimeout bounds asynchronous handling of one event.
	DefaultProcessTimeout = 2 * time.Minute
)

var errBadSignature = errors.New("invalid request signature")

// Router is the command state machine the handler feeds.
type Router interface {
	State(ctx context.Context, channel domain.Channel, identity string) (command.State, error)
	Route(ctx context.Context, msg domain.InboundMessage) (*command.Response, error)
}

// Personas resolves persona names for reply headers.
type Personas interface {
	Resolve(ctx context.Context, agentID string, allow directory.OwnerPredicate) (*domain.AgentPersona, error)
}

// Config configures the chat-platform endpoints.
type Config struct {
	// SigningSecret enables request signature verification when set.
	SigningSecret string
	// BotUserID is the bot's own user; its messages are ignored.
	BotUserID string
	// BotConfigured is reported by the health endpoint.
	BotConfigured  bool
	ProcessTimeout time.Duration
}

// Handler serves the Events API and slash command endpoints.
type Handler struct {
	cfg      Config
	router   Router
	personas Personas
	poster   Poster
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewHandler creates a Handler.
func NewHandler(cfg Config, router Router, personas Personas, poster Poster, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = DefaultProcessTimeout
	}
	return &Handler{
		cfg:      cfg,
		router:   router,
		personas: personas,
		poster:   poster,
		logger:   logger,
	}
}

// RegisterRoutes registers the chat-platform routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/slack", func(r chi.Router) {
		r.Post("/events", h.Events)
		r.Post("/commands", h.Commands)
		r.Get("/health", h.Health)
	})
}

// Wait blocks until in-flight events finish or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readBody reads the request body and checks its signature when a signing
// secret is configured.
func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if h.cfg.SigningSecret == "" {
		return body, nil
	}

	sv, err := slack.NewSecretsVerifier(r.Header, h.cfg.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadSignature, err)
	}
	if _, err := sv.Write(body); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadSignature, err)
	}
	if err := sv.Ensure(); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadSignature, err)
	}
	return body, nil
}

// Events handles Events API callbacks. Message events are acknowledged
// immediately and processed in the background.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(r)
	if err != nil {
		h.logger.Warn("rejected slack event", "error", err)
		api.Error(w, http.StatusUnauthorized, "invalid request")
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid challenge")
			return
		}
		api.JSON(w, http.StatusOK, map[string]string{"challenge": challenge.Challenge})
		return

	case slackevents.CallbackEvent:
		// Retries of an event we already acknowledged would post duplicate replies.
		if r.Header.Get("X-Slack-Retry-Num") != "" {
			break
		}
		if msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok && h.accepts(msg) {
			h.dispatch(context.WithoutCancel(r.Context()), msg)
		}
	}

	api.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) accepts(msg *slackevents.MessageEvent) bool {
	switch {
	case msg.BotID != "", msg.SubType != "":
		return false
	case msg.User == "", msg.User == slackbotUserID:
		return false
	case h.cfg.BotUserID != "" && msg.User == h.cfg.BotUserID:
		return false
	}
	return strings.TrimSpace(msg.Text) != ""
}

func (h *Handler) dispatch(parent context.Context, msg *slackevents.MessageEvent) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(parent, h.cfg.ProcessTimeout)
		defer cancel()
		h.process(ctx, msg.User, msg.Channel, msg.TimeStamp, msg.Text)
	}()
}

// process routes one message and posts the outcome to the channel.
func (h *Handler) process(ctx context.Context, user, channel, ts, text string) {
	logger := h.logger.With("identity", user, "channel_id", channel)
	inbound := domain.InboundMessage{
		Channel:          domain.ChannelChatPlatform,
		ExternalIdentity: user,
		Text:             strings.TrimSpace(text),
	}

	if command.Parse(inbound.Text).Type == command.ResultText {
		state, err := h.router.State(ctx, inbound.Channel, user)
		if err != nil {
			logger.Error("failed to read router state", "error", err)
			h.post(ctx, logger, channel, failureMessage, ts)
			return
		}
		if state == command.StateAgentSelected {
			h.post(ctx, logger, channel, processingNotice, ts)
		}
	}

	resp, err := h.router.Route(ctx, inbound)
	if err != nil {
		logger.Error("failed to handle slack message", "error", err)
		h.post(ctx, logger, channel, failureMessage, ts)
		return
	}

	h.post(ctx, logger, channel, h.render(ctx, resp), ts)
}

// render formats a router response, prefixing agent replies with the
// persona name and template.
func (h *Handler) render(ctx context.Context, resp *command.Response) string {
	if resp.Reply == nil || resp.Reply.WasError || resp.Reply.AgentID == "" {
		return resp.Text
	}
	persona, err := h.personas.Resolve(ctx, resp.Reply.AgentID, nil)
	if err != nil {
		h.logger.Warn("failed to resolve persona for reply header", "agent_id", resp.Reply.AgentID, "error", err)
		return resp.Text
	}
	return fmt.Sprintf("🤖 *%s* (%s)\n\n%s", persona.DisplayName, persona.TemplateKind, resp.Text)
}

func (h *Handler) post(ctx context.Context, logger *slog.Logger, channel, text, ts string) {
	if err := h.poster.PostMessage(ctx, channel, text, ts); err != nil {
		logger.Error("failed to post slack message", "error", err)
	}
}

// slashResponse is the body returned to a slash command.
type slashResponse struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

// Commands handles the slash command. Commands are answered synchronously
// and privately; chat text belongs in a direct message.
func (h *Handler) Commands(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(r)
	if err != nil {
		h.logger.Warn("rejected slash command", "error", err)
		api.Error(w, http.StatusUnauthorized, "invalid request")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid slash command")
		return
	}
	if cmd.Command != SlashCommand {
		api.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		text = string(command.KindHelp)
	}
	if command.Parse(text).Type == command.ResultText {
		api.JSON(w, http.StatusOK, slashResponse{
			ResponseType: "ephemeral",
			Text:         fmt.Sprintf("Unknown command: %s. Use `%s help` for available options.", strings.Fields(text)[0], SlashCommand),
		})
		return
	}

	resp, err := h.router.Route(r.Context(), domain.InboundMessage{
		Channel:          domain.ChannelChatPlatform,
		ExternalIdentity: cmd.UserID,
		Text:             text,
	})
	if err != nil {
		h.logger.Error("failed to handle slash command", "identity", cmd.UserID, "error", err)
		api.JSON(w, http.StatusOK, slashResponse{
			ResponseType: "ephemeral",
			Text:         "Sorry, I encountered an error processing your command.",
		})
		return
	}
	api.JSON(w, http.StatusOK, slashResponse{ResponseType: "ephemeral", Text: resp.Text})
}

// Health reports whether the chat-platform integration is configured.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	status := "inactive"
	if h.cfg.BotConfigured && h.cfg.SigningSecret != "" {
		status = "active"
	}
	api.JSON(w, http.StatusOK, map[string]interface{}{
		"slack_integration":         status,
		"timestamp":                 time.Now().UTC().Format(time.RFC3339),
		"bot_configured":            h.cfg.BotConfigured,
		"signing_secret_configured": h.cfg.SigningSecret != "",
	})
}
