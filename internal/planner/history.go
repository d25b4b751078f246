package planner

import "rover/internal/llm"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role
	Content string
}

// History is a bounded FIFO of conversation turns. It holds at most
// 2*maxPairs entries; the oldest go first.
type History struct {
	limit int
	turns []Turn
}

func NewHistory(maxPairs int) *History {
	if maxPairs <= 0 {
		maxPairs = 1
	}
	return &History{limit: 2 * maxPairs}
}

func (h *History) Append(role Role, content string) {
	h.turns = append(h.turns, Turn{Role: role, Content: content})
	if over := len(h.turns) - h.limit; over > 0 {
		h.turns = append(h.turns[:0], h.turns[over:]...)
	}
}

// Turns returns a copy of the retained turns, oldest first.
func (h *History) Turns() []Turn {
	return append([]Turn(nil), h.turns...)
}

func (h *History) Len() int { return len(h.turns) }

func (h *History) messages() []llm.Message {
	out := make([]llm.Message, 0, len(h.turns))
	for _, t := range h.turns {
		out = append(out, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	return out
}

const DefaultDirective = "look for companionship and instruction"

// Memory is what the robot carries between deliberations: the directive it
// is pursuing and the recent conversation.
type Memory struct {
	Directive string
	History   *History
}

func NewMemory(directive string, maxPairs int) *Memory {
	if directive == "" {
		directive = DefaultDirective
	}
	return &Memory{Directive: directive, History: NewHistory(maxPairs)}
}
