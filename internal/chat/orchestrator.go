// Package chat runs one user exchange end to end: resolve the session,
// assemble the prompt, generate, persist and report analytics.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/techflow/internal/agent"
	"github.com/ashureev/techflow/internal/directory"
	"github.com/ashureev/techflow/internal/domain"
	"github.com/ashureev/techflow/internal/prompt"
	"github.com/ashureev/techflow/internal/validation"
)

// FallbackMessage is shown, and persisted as a synthetic assistant turn,
// when generation fails or times out.
const FallbackMessage = "I'm experiencing technical difficulties and couldn't generate a response. Please try again in a moment."

// DefaultGenerationTimeout bounds a backend call when none is configured.
const DefaultGenerationTimeout = 30 * time.Second

// State is a step of the exchange state machine.
type State string

const (
	StateResolvingSession  State = "RESOLVING_SESSION"
	StateAssemblingContext State = "ASSEMBLING_CONTEXT"
	StateGenerating        State = "GENERATING"
	StatePersisting        State = "PERSISTING"
	StateAggregating       State = "AGGREGATING"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// Terminal reports whether s ends an exchange.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Personas resolves agent personas.
type Personas interface {
	Resolve(ctx context.Context, agentID string, allow directory.OwnerPredicate) (*domain.AgentPersona, error)
}

// Conversations is the conversation store used by the orchestrator.
type Conversations interface {
	Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error)
	ReadTail(ctx context.Context, sessionID string, n int) ([]domain.Turn, error)
	AppendTurns(ctx context.Context, sessionID string, turns ...domain.Turn) error
}

// Sessions is the session registry used by the orchestrator.
type Sessions interface {
	Select(ctx context.Context, channel domain.Channel, externalIdentity, agentID string) (string, bool, error)
	Current(ctx context.Context, channel domain.Channel, externalIdentity string) (*domain.ActiveSessionPointer, error)
	Touch(ctx context.Context, channel domain.Channel, externalIdentity, sessionID string) error
}

// Analytics receives usage events.
type Analytics interface {
	RecordConversationStart(ctx context.Context, agentID string) error
	RecordMessages(ctx context.Context, agentID string, n int64) error
	RecordResponseTime(ctx context.Context, agentID string, ms int64) error
}

// Transcript receives conversation log events.
type Transcript interface {
	Log(event agent.ConversationLogEvent)
}

// Observer is notified on every state transition.
type Observer func(sessionID string, from, to State)

// Config holds orchestrator settings.
type Config struct {
	GenerationTimeout time.Duration
	Assembler         *prompt.Assembler
}

// Orchestrator coordinates exchanges. It holds no lock across I/O; per
// session ordering is enforced by the conversation store.
type Orchestrator struct {
	personas      Personas
	conversations Conversations
	sessions      Sessions
	analytics     Analytics
	generator     agent.Generator
	validator     *validation.Validator
	assembler     *prompt.Assembler
	timeout       time.Duration
	transcript    Transcript
	observer      Observer
	logger        *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTranscript writes exchanges to a conversation log.
func WithTranscript(t Transcript) Option {
	return func(o *Orchestrator) { o.transcript = t }
}

// WithObserver installs a state transition hook.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// New creates an Orchestrator.
func New(
	cfg Config,
	personas Personas,
	conversations Conversations,
	sessions Sessions,
	analytics Analytics,
	generator agent.Generator,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	if cfg.Assembler == nil {
		cfg.Assembler = prompt.NewAssembler(prompt.DefaultHistoryTurns)
	}
	o := &Orchestrator{
		personas:      personas,
		conversations: conversations,
		sessions:      sessions,
		analytics:     analytics,
		generator:     generator,
		validator:     validation.New(),
		assembler:     cfg.Assembler,
		timeout:       cfg.GenerationTimeout,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ValidateInbound rejects malformed messages before they reach Handle.
func (o *Orchestrator) ValidateInbound(msg domain.InboundMessage) error {
	if err := o.validator.Struct(msg); err != nil {
		return err
	}
	if strings.TrimSpace(msg.Text) == "" {
		return fmt.Errorf("text is required: %w", domain.ErrValidation)
	}
	return nil
}

type exchange struct {
	msg     domain.InboundMessage
	state   State
	session *domain.ConversationSession
	persona *domain.AgentPersona
	prompt  string
	reply   string
	latency int64
	genErr  error
}

func (o *Orchestrator) transition(ex *exchange, to State) {
	from := ex.state
	ex.state = to
	sessionID := ""
	if ex.session != nil {
		sessionID = ex.session.SessionID
	}
	o.logger.Debug("exchange transition", "session_id", sessionID, "from", from, "to", to)
	if o.observer != nil {
		o.observer(sessionID, from, to)
	}
}

// Handle runs one exchange. Generation failures are returned as a reply
// with WasError set; storage failures and unresolvable sessions are
// returned as errors.
func (o *Orchestrator) Handle(ctx context.Context, msg domain.InboundMessage) (*domain.OutboundReply, error) {
	if err := o.ValidateInbound(msg); err != nil {
		return nil, err
	}

	ex := &exchange{msg: msg}
	o.transition(ex, StateResolvingSession)
	if err := o.resolveSession(ctx, ex); err != nil {
		o.transition(ex, StateFailed)
		return nil, err
	}

	o.transition(ex, StateAssemblingContext)
	if err := o.assemble(ctx, ex); err != nil {
		o.transition(ex, StateFailed)
		return nil, err
	}

	o.transition(ex, StateGenerating)
	o.generate(ctx, ex)

	// The exchange is committed once generation returns, even if the
	// caller goes away.
	ctx = context.WithoutCancel(ctx)

	o.transition(ex, StatePersisting)
	if err := o.persist(ctx, ex); err != nil {
		o.transition(ex, StateFailed)
		o.logger.Error("exchange persistence failed",
			"session_id", ex.session.SessionID, "agent_id", ex.session.AgentID, "error", err)
		return nil, err
	}

	o.transition(ex, StateAggregating)
	o.aggregate(ctx, ex)

	if err := o.sessions.Touch(ctx, msg.Channel, msg.ExternalIdentity, ex.session.SessionID); err != nil {
		o.logger.Warn("failed to touch active pointer", "session_id", ex.session.SessionID, "error", err)
	}

	reply := &domain.OutboundReply{
		Text:      ex.reply,
		WasError:  ex.genErr != nil,
		SessionID: ex.session.SessionID,
		AgentID:   ex.session.AgentID,
		LatencyMs: ex.latency,
	}
	if ex.genErr != nil {
		o.transition(ex, StateFailed)
	} else {
		o.transition(ex, StateDone)
	}

	o.logger.Info("exchange completed",
		"session_id", reply.SessionID,
		"agent_id", reply.AgentID,
		"channel", msg.Channel,
		"latency_ms", reply.LatencyMs,
		"was_error", reply.WasError)
	return reply, nil
}

func (o *Orchestrator) resolveSession(ctx context.Context, ex *exchange) error {
	msg := ex.msg

	if msg.SessionID != "" {
		session, err := o.conversations.Get(ctx, msg.SessionID)
		if err != nil {
			return err
		}
		if session.OwnerRef != msg.ExternalIdentity {
			return fmt.Errorf("session %s: %w", msg.SessionID, domain.ErrNotFound)
		}
		ex.session = session
		return nil
	}

	agentID := msg.AgentID
	if agentID == "" {
		pointer, err := o.sessions.Current(ctx, msg.Channel, msg.ExternalIdentity)
		if err != nil {
			return err
		}
		if pointer == nil {
			return fmt.Errorf("no active agent for %s: %w", msg.Channel, domain.ErrNotFound)
		}
		session, err := o.conversations.Get(ctx, pointer.SessionID)
		if err == nil {
			ex.session = session
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		agentID = pointer.AgentID
	}

	// Validate the agent before any session is created for it.
	if _, err := o.personas.Resolve(ctx, agentID, directory.OwnedBy(msg.ExternalIdentity)); err != nil {
		return err
	}

	sessionID, isNew, err := o.sessions.Select(ctx, msg.Channel, msg.ExternalIdentity, agentID)
	if err != nil {
		return err
	}
	if isNew {
		if err := o.analytics.RecordConversationStart(ctx, agentID); err != nil {
			o.logger.Warn("failed to record conversation start", "agent_id", agentID, "error", err)
		}
	}
	session, err := o.conversations.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	ex.session = session
	return nil
}

func (o *Orchestrator) assemble(ctx context.Context, ex *exchange) error {
	persona, err := o.personas.Resolve(ctx, ex.session.AgentID, directory.OwnedBy(ex.session.OwnerRef))
	if err != nil {
		return err
	}
	history, err := o.conversations.ReadTail(ctx, ex.session.SessionID, o.assembler.Limit())
	if err != nil {
		return err
	}
	ex.persona = persona
	ex.prompt = o.assembler.Assemble(persona, history, ex.msg.TechnicalContext, ex.msg.Text)
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, ex *exchange) {
	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	result, err := o.generator.Generate(genCtx, ex.prompt)
	ex.latency = time.Since(start).Milliseconds()

	if err == nil && strings.TrimSpace(result.Content) == "" {
		err = errors.New("empty response")
	}
	if err != nil {
		ex.genErr = fmt.Errorf("%w: %w", domain.ErrGeneration, err)
		ex.reply = FallbackMessage
		o.logger.Warn("generation failed, using fallback",
			"session_id", ex.session.SessionID,
			"agent_id", ex.session.AgentID,
			"backend", o.generator.Name(),
			"latency_ms", ex.latency,
			"error", err)
		return
	}
	ex.reply = result.Content
}

func (o *Orchestrator) persist(ctx context.Context, ex *exchange) error {
	now := time.Now()
	user := domain.Turn{Role: domain.RoleUser, Content: ex.msg.Text, Timestamp: now}
	assistant := domain.Turn{
		Role:      domain.RoleAssistant,
		Content:   ex.reply,
		Timestamp: now,
		Synthetic: ex.genErr != nil,
	}
	if err := o.conversations.AppendTurns(ctx, ex.session.SessionID, user, assistant); err != nil {
		return fmt.Errorf("persist exchange: %w", err)
	}

	if o.transcript != nil {
		base := agent.ConversationLogEvent{
			Identity:  ex.msg.ExternalIdentity,
			SessionID: ex.session.SessionID,
			AgentID:   ex.session.AgentID,
			Channel:   string(ex.msg.Channel),
		}
		in := base
		in.Direction, in.EventType, in.ContentRaw = "inbound", "user_message", ex.msg.Text
		o.transcript.Log(in)

		out := base
		out.Direction, out.EventType, out.ContentRaw = "outbound", "assistant_message", ex.reply
		out.LatencyMs, out.WasError = ex.latency, ex.genErr != nil
		o.transcript.Log(out)
	}
	return nil
}

func (o *Orchestrator) aggregate(ctx context.Context, ex *exchange) {
	agentID := ex.session.AgentID

	messages := int64(2)
	if ex.genErr != nil {
		messages = 1
	}
	if err := o.analytics.RecordMessages(ctx, agentID, messages); err != nil {
		o.logger.Warn("failed to record messages", "agent_id", agentID, "error", err)
	}
	if ex.genErr != nil {
		return
	}
	if err := o.analytics.RecordResponseTime(ctx, agentID, ex.latency); err != nil {
		o.logger.Warn("failed to record response time", "agent_id", agentID, "error", err)
	}
}
