// Package prompt assembles the bounded prompt sent to a generation backend.
package prompt

import (
	"strings"

	"github.com/ashureev/techflow/internal/domain"
)

// DefaultHistoryTurns is how many recent turns are included when unset.
const DefaultHistoryTurns = 8

const requestInstruction = "Provide a detailed, technical response with code examples and best practices:"

// Assembler builds prompts. The zero value uses DefaultHistoryTurns.
type Assembler struct {
	HistoryTurns int
}

// NewAssembler returns an Assembler keeping the last historyTurns turns.
func NewAssembler(historyTurns int) *Assembler {
	return &Assembler{HistoryTurns: historyTurns}
}

// Limit is the number of trailing turns Assemble keeps.
func (a *Assembler) Limit() int {
	if a == nil || a.HistoryTurns <= 0 {
		return DefaultHistoryTurns
	}
	return a.HistoryTurns
}

// Assemble renders persona instructions, the technical context block when
// any field is set, the most recent turns of history and the new input, in
// that order. history is not modified.
func (a *Assembler) Assemble(persona *domain.AgentPersona, history []domain.Turn, tc *domain.TechnicalContext, input string) string {
	var b strings.Builder

	if persona != nil {
		b.WriteString(persona.BaseInstructions)
		b.WriteString("\n\n")
	}

	writeTechnicalContext(&b, tc)

	recent := domain.TailTurns(history, a.Limit())
	if len(recent) > 0 {
		b.WriteString("CONVERSATION HISTORY:\n")
		for _, turn := range recent {
			if turn.Role == domain.RoleUser {
				b.WriteString("Human: ")
			} else {
				b.WriteString("Assistant: ")
			}
			b.WriteString(turn.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("CURRENT REQUEST: ")
	b.WriteString(input)
	b.WriteString("\n\n")
	b.WriteString(requestInstruction)

	return b.String()
}

func writeTechnicalContext(b *strings.Builder, tc *domain.TechnicalContext) {
	if tc.IsEmpty() {
		return
	}

	b.WriteString("TECHNICAL CONTEXT:\n")

	var techs []string
	for _, tech := range tc.Technologies {
		if t := strings.TrimSpace(tech); t != "" {
			techs = append(techs, t)
		}
	}
	if len(techs) > 0 {
		b.WriteString("Technologies: ")
		b.WriteString(strings.Join(techs, ", "))
		b.WriteString("\n")
	}
	if s := strings.TrimSpace(tc.Architecture); s != "" {
		b.WriteString("Architecture: " + s + "\n")
	}
	if s := strings.TrimSpace(tc.Environment); s != "" {
		b.WriteString("Environment: " + s + "\n")
	}
	if strings.TrimSpace(tc.CodeSnippet) != "" {
		b.WriteString("Code Context:\n```\n" + tc.CodeSnippet + "\n```\n")
	}
	if strings.TrimSpace(tc.ErrorLogs) != "" {
		b.WriteString("Error Logs:\n```\n" + tc.ErrorLogs + "\n```\n")
	}
	b.WriteString("\n")
}
