package domain

import (
	"strings"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message within a conversation session.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Synthetic marks assistant turns produced by the fallback path.
	Synthetic bool `json:"synthetic,omitempty"`
}

// ConversationSession is one continuous exchange between an owner and one
// agent. AgentID never changes after creation.
type ConversationSession struct {
	SessionID      string    `json:"session_id"`
	AgentID        string    `json:"agent_id"`
	OwnerRef       string    `json:"owner_ref"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	TurnCount      int       `json:"turn_count"`
}

// TechnicalContext carries optional structured context for a request.
type TechnicalContext struct {
	CodeSnippet  string   `json:"code_snippet,omitempty" validate:"max=20000"`
	Technologies []string `json:"technologies,omitempty" validate:"max=25,dive,min=1,max=64"`
	Architecture string   `json:"architecture,omitempty" validate:"max=4000"`
	Environment  string   `json:"environment,omitempty" validate:"max=4000"`
	ErrorLogs    string   `json:"error_logs,omitempty" validate:"max=20000"`
}

// IsEmpty reports whether no field carries content.
func (c *TechnicalContext) IsEmpty() bool {
	if c == nil {
		return true
	}
	for _, tech := range c.Technologies {
		if strings.TrimSpace(tech) != "" {
			return false
		}
	}
	return strings.TrimSpace(c.CodeSnippet) == "" &&
		strings.TrimSpace(c.Architecture) == "" &&
		strings.TrimSpace(c.Environment) == "" &&
		strings.TrimSpace(c.ErrorLogs) == ""
}

// TailTurns returns the last n turns without copying the backing array.
func TailTurns(turns []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if n >= len(turns) {
		return turns
	}
	return turns[len(turns)-n:]
}
