// Package command routes chat-platform text: slash-style commands change
// the active agent, everything else is forwarded to the chat orchestrator.
package command

import "strings"

// Kind enumerates the recognized commands.
type Kind string

const (
	KindAgents Kind = "agents"
	KindSelect Kind = "select"
	KindClear  Kind = "clear"
	KindHelp   Kind = "help"
)

var aliases = map[string]Kind{
	"agents": KindAgents,
	"list":   KindAgents,
	"select": KindSelect,
	"clear":  KindClear,
	"reset":  KindClear,
	"help":   KindHelp,
}

// Command is a recognized command and its argument.
type Command struct {
	Kind Kind
	Arg  string
}

// ResultType tags a parse Result.
type ResultType int

const (
	// ResultText is ordinary chat text.
	ResultText ResultType = iota
	// ResultCommand carries a recognized Command.
	ResultCommand
	// ResultUnrecognized is slash-prefixed text naming no known command.
	ResultUnrecognized
)

// Result is the tagged outcome of Parse.
type Result struct {
	Type    ResultType
	Command Command
	// Name is the unknown command word for ResultUnrecognized.
	Name string
}

// Parse classifies text. A leading slash is optional: "select <kind>" and a
// bare command word are commands too. Matching is case-insensitive.
func Parse(text string) Result {
	trimmed := strings.TrimSpace(text)
	slashed := strings.HasPrefix(trimmed, "/")
	body := strings.TrimPrefix(trimmed, "/")

	fields := strings.Fields(body)
	if len(fields) == 0 {
		if slashed {
			return Result{Type: ResultUnrecognized}
		}
		return Result{Type: ResultText}
	}

	word := strings.ToLower(fields[0])
	kind, known := aliases[word]

	switch {
	case slashed && !known:
		return Result{Type: ResultUnrecognized, Name: word}
	case !slashed && !known:
		return Result{Type: ResultText}
	case !slashed && kind != KindSelect && len(fields) > 1:
		// "help me with terraform" is a question, not a command.
		return Result{Type: ResultText}
	}

	cmd := Command{Kind: kind}
	if kind == KindSelect && len(fields) > 1 {
		cmd.Arg = strings.ToLower(fields[1])
	}
	return Result{Type: ResultCommand, Command: cmd}
}
