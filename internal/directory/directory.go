// Package directory resolves agent persona definitions.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/techflow/internal/domain"
	"github.com/ashureev/techflow/internal/store"
)

// OwnerPredicate reports whether the caller may use a persona.
type OwnerPredicate func(p *domain.AgentPersona) bool

// OwnedBy allows built-in personas and personas owned by ownerRef.
func OwnedBy(ownerRef string) OwnerPredicate {
	return func(p *domain.AgentPersona) bool {
		return p.IsBuiltin() || p.OwnerRef == ownerRef
	}
}

// Directory is a read-only view over persona definitions.
type Directory struct {
	store  store.PersonaStore
	logger *slog.Logger
}

// New creates a Directory.
func New(personas store.PersonaStore, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{store: personas, logger: logger}
}

// Seed installs the built-in personas. Safe to call on every start.
func (d *Directory) Seed(ctx context.Context) error {
	now := time.Now()
	for _, kind := range domain.TemplateKinds() {
		existing, err := d.store.GetPersona(ctx, string(kind))
		if err != nil {
			return fmt.Errorf("seed %s: %w", kind, err)
		}
		if existing != nil {
			continue
		}
		b := builtins[kind]
		persona := &domain.AgentPersona{
			ID:               string(kind),
			DisplayName:      b.name,
			Description:      b.description,
			BaseInstructions: b.instructions,
			TemplateKind:     kind,
			CreatedAt:        now,
		}
		if err := d.store.UpsertPersona(ctx, persona); err != nil {
			return fmt.Errorf("seed %s: %w", kind, err)
		}
		d.logger.Info("seeded built-in persona", "agent_id", persona.ID)
	}
	return nil
}

// Resolve returns the persona for agentID. Personas rejected by allow are
// reported as domain.ErrNotFound so callers cannot discover other owners' agents.
func (d *Directory) Resolve(ctx context.Context, agentID string, allow OwnerPredicate) (*domain.AgentPersona, error) {
	persona, err := d.store.GetPersona(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("resolve agent %s: %w", agentID, err)
	}
	if persona == nil || (allow != nil && !allow(persona)) {
		return nil, fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}
	return persona, nil
}

// ResolveKind returns the built-in persona for a template kind.
func (d *Directory) ResolveKind(ctx context.Context, kind domain.TemplateKind) (*domain.AgentPersona, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown agent kind %q: %w", kind, domain.ErrValidation)
	}
	return d.Resolve(ctx, string(kind), func(p *domain.AgentPersona) bool { return p.IsBuiltin() })
}

// Kinds returns the supported template kinds.
func (d *Directory) Kinds() []domain.TemplateKind {
	return domain.TemplateKinds()
}

// List returns the personas visible to ownerRef.
func (d *Directory) List(ctx context.Context, ownerRef string) ([]*domain.AgentPersona, error) {
	personas, err := d.store.ListPersonas(ctx, ownerRef)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return personas, nil
}
