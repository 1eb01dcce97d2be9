// Package domain contains core domain types for the TechFlow agent platform.
package domain

import "time"

// TemplateKind is the specialization an agent persona is built from.
type TemplateKind string

const (
	TemplateAIMLEngineer       TemplateKind = "ai-ml-engineer"
	TemplateFullstackDeveloper TemplateKind = "fullstack-developer"
	TemplateDevOpsEngineer     TemplateKind = "devops-engineer"
	TemplateSoftwareEngineer   TemplateKind = "software-engineer"
)

// TemplateKinds lists the supported specializations in display order.
func TemplateKinds() []TemplateKind {
	return []TemplateKind{
		TemplateAIMLEngineer,
		TemplateFullstackDeveloper,
		TemplateDevOpsEngineer,
		TemplateSoftwareEngineer,
	}
}

// Valid reports whether k is one of the supported specializations.
func (k TemplateKind) Valid() bool {
	for _, known := range TemplateKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// AgentPersona is an immutable agent definition. OwnerRef is empty for
// built-in personas that every identity may use.
type AgentPersona struct {
	ID               string       `json:"id"`
	OwnerRef         string       `json:"owner_ref,omitempty"`
	DisplayName      string       `json:"display_name"`
	Description      string       `json:"description"`
	BaseInstructions string       `json:"base_instructions"`
	TemplateKind     TemplateKind `json:"template_kind"`
	CreatedAt        time.Time    `json:"created_at"`
}

// IsBuiltin returns true if the persona is not owned by any identity.
func (p *AgentPersona) IsBuiltin() bool {
	return p.OwnerRef == ""
}
