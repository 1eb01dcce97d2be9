package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/techflow/internal/domain"
)

// State is the per-identity router state.
type State string

const (
	StateIdle          State = "IDLE"
	StateAgentSelected State = "AGENT_SELECTED"
)

// Directory lists and resolves built-in personas.
type Directory interface {
	Kinds() []domain.TemplateKind
	ResolveKind(ctx context.Context, kind domain.TemplateKind) (*domain.AgentPersona, error)
}

// Sessions is the session registry used by the router.
type Sessions interface {
	Select(ctx context.Context, channel domain.Channel, externalIdentity, agentID string) (string, bool, error)
	Current(ctx context.Context, channel domain.Channel, externalIdentity string) (*domain.ActiveSessionPointer, error)
	Clear(ctx context.Context, channel domain.Channel, externalIdentity string) error
}

// ConversationStarts records new conversations.
type ConversationStarts interface {
	RecordConversationStart(ctx context.Context, agentID string) error
}

// Exchanger runs a chat exchange.
type Exchanger interface {
	Handle(ctx context.Context, msg domain.InboundMessage) (*domain.OutboundReply, error)
}

// Response is what the router hands back to the transport.
type Response struct {
	Text     string
	WasError bool
	// State is the router state after handling the message.
	State State
	// Reply is set when the message was forwarded to the orchestrator.
	Reply *domain.OutboundReply
}

// Router implements the IDLE / AGENT_SELECTED command state machine. State
// lives in the session registry; the router itself is stateless.
type Router struct {
	directory Directory
	sessions  Sessions
	starts    ConversationStarts
	chat      Exchanger
	logger    *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(directory Directory, sessions Sessions, starts ConversationStarts, chat Exchanger, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		directory: directory,
		sessions:  sessions,
		starts:    starts,
		chat:      chat,
		logger:    logger,
	}
}

// State reports the router state for an identity.
func (r *Router) State(ctx context.Context, channel domain.Channel, identity string) (State, error) {
	pointer, err := r.sessions.Current(ctx, channel, identity)
	if err != nil {
		return "", err
	}
	if pointer == nil {
		return StateIdle, nil
	}
	return StateAgentSelected, nil
}

// Route handles one inbound message.
func (r *Router) Route(ctx context.Context, msg domain.InboundMessage) (*Response, error) {
	state, err := r.State(ctx, msg.Channel, msg.ExternalIdentity)
	if err != nil {
		return nil, err
	}

	parsed := Parse(msg.Text)
	switch parsed.Type {
	case ResultUnrecognized:
		return &Response{
			Text:     fmt.Sprintf("❌ Unknown command: /%s. Use `help` for available commands.", parsed.Name),
			WasError: true,
			State:    state,
		}, nil
	case ResultCommand:
		return r.execute(ctx, msg, parsed.Command, state)
	}

	if state == StateIdle {
		text, err := r.agentsListing(ctx)
		if err != nil {
			return nil, err
		}
		return &Response{Text: text, State: StateIdle}, nil
	}

	reply, err := r.chat.Handle(ctx, msg)
	if errors.Is(err, domain.ErrNotFound) {
		// The pointer vanished between lookup and exchange.
		text, listErr := r.agentsListing(ctx)
		if listErr != nil {
			return nil, listErr
		}
		return &Response{Text: text, State: StateIdle}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Response{Text: reply.Text, WasError: reply.WasError, State: StateAgentSelected, Reply: reply}, nil
}

func (r *Router) execute(ctx context.Context, msg domain.InboundMessage, cmd Command, state State) (*Response, error) {
	switch cmd.Kind {
	case KindAgents:
		text, err := r.agentsListing(ctx)
		if err != nil {
			return nil, err
		}
		return &Response{Text: text, State: state}, nil

	case KindHelp:
		return &Response{Text: r.helpText(), State: state}, nil

	case KindClear:
		if err := r.sessions.Clear(ctx, msg.Channel, msg.ExternalIdentity); err != nil {
			return nil, err
		}
		return &Response{Text: "✅ Session cleared. Use `agents` to select a new agent.", State: StateIdle}, nil

	case KindSelect:
		return r.selectAgent(ctx, msg, cmd.Arg, state)
	}
	return nil, fmt.Errorf("unhandled command %q", cmd.Kind)
}

func (r *Router) selectAgent(ctx context.Context, msg domain.InboundMessage, arg string, state State) (*Response, error) {
	if arg == "" {
		return &Response{
			Text:     "❌ Please specify an agent type. Use `agents` to see available options.",
			WasError: true,
			State:    state,
		}, nil
	}

	persona, err := r.directory.ResolveKind(ctx, domain.TemplateKind(arg))
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
		return &Response{
			Text:     fmt.Sprintf("❌ Invalid agent type: %s. Valid types: %s", arg, r.validKinds()),
			WasError: true,
			State:    state,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	_, isNew, err := r.sessions.Select(ctx, msg.Channel, msg.ExternalIdentity, persona.ID)
	if err != nil {
		return nil, err
	}
	if isNew {
		if err := r.starts.RecordConversationStart(ctx, persona.ID); err != nil {
			r.logger.Warn("failed to record conversation start", "agent_id", persona.ID, "error", err)
		}
	}

	return &Response{
		Text: fmt.Sprintf("✅ *%s* selected!\n\n%s\n\n💬 You can now start chatting. Use `clear` to reset the session or `agents` to switch agents.",
			persona.DisplayName, persona.Description),
		State: StateAgentSelected,
	}, nil
}

func (r *Router) validKinds() string {
	kinds := r.directory.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func (r *Router) agentsListing(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("*🚀 Welcome to TechFlow AI!*\n\nSelect an AI agent to start chatting:\n")
	for _, kind := range r.directory.Kinds() {
		persona, err := r.directory.ResolveKind(ctx, kind)
		if err != nil {
			return "", fmt.Errorf("list agents: %w", err)
		}
		fmt.Fprintf(&b, "\n*%s*\n%s\n_Use: `select %s`_\n", persona.DisplayName, persona.Description, kind)
	}
	b.WriteString("\n💡 *Commands:* `agents` list agents | `select [type]` choose agent | `clear` reset session | `help` show help")
	return b.String(), nil
}

func (r *Router) helpText() string {
	return "*🤖 TechFlow AI - Help*\n\n" +
		"*Available Commands:*\n" +
		"• `agents` or `list` - Show available AI agents\n" +
		"• `select [type]` - Select an agent (" + r.validKinds() + ")\n" +
		"• `clear` or `reset` - Clear current session\n" +
		"• `help` - Show this help message\n\n" +
		"*How to use:*\n" +
		"1. List agents with `agents`\n" +
		"2. Choose a specialist with `select [type]`\n" +
		"3. Ask technical questions naturally"
}
