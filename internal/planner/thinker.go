package planner

import (
	"context"
	"fmt"
	log "log/slog"

	"rover/internal/llm"
)

// Chatter is a chat model backend.
type Chatter interface {
	Chat(ctx context.Context, msgs []llm.Message) (string, error)
}

const DefaultPersona = "You are the brain of a small, curious and cheerful robot on wheels. " +
	"You talk casually and keep replies short."

const schema = `Reply ONLY with a JSON object. Always think for two sentences before acting.
Keys are applied in the order listed below. Only include keys you need; booleans only when true.
Use only periods and exclamation marks for punctuation.
{
  "think": "string, your reasoning before acting",
  "turn_right": true,
  "turn_left": true,
  "move_forward_autonomously": true,
  "speak": "string, what to say out loud in your personality",
  "listen_for_response": true,
  "stop": true,
  "survey": true,
  "change_directive": "string, a new directive when asked to do something or when a new goal fits better"
}
move_forward_autonomously already surveys afterwards, never combine it with survey.
Set listen_for_response only when you need an answer from someone.`

// Thinker turns observations into decisions through a chat model.
type Thinker struct {
	chat    Chatter
	persona string
}

func NewThinker(chat Chatter, persona string) *Thinker {
	if persona == "" {
		persona = DefaultPersona
	}
	return &Thinker{chat: chat, persona: persona}
}

// PlanSurvey asks what to do after looking around.
func (t *Thinker) PlanSurvey(ctx context.Context, mem *Memory, front, left, right string) *Decision {
	prompt := fmt.Sprintf("I just looked around. In front of me: %s. On my left: %s. On my right: %s. "+
		"What should I do next, given that my current directive is '%s'?",
		front, left, right, mem.Directive)
	return t.decide(ctx, mem, prompt,
		"I had trouble connecting to my thinking core. I should probably stop and wait.")
}

// PlanUserCommand asks how to respond to something a person said.
func (t *Thinker) PlanUserCommand(ctx context.Context, mem *Memory, utterance string) *Decision {
	prompt := fmt.Sprintf("A voice addressing you said %q. How do you respond? (My current directive is '%s')",
		utterance, mem.Directive)
	return t.decide(ctx, mem, prompt,
		"My thinking circuits are down. I'll stop for now.")
}

func (t *Thinker) decide(ctx context.Context, mem *Memory, prompt, offline string) *Decision {
	mem.History.Append(RoleUser, prompt)

	msgs := append([]llm.Message{llm.System(t.system(mem.Directive))}, mem.History.messages()...)

	log.Debug("Asking planner", "turns", mem.History.Len(), "prompt", prompt)
	reply, err := t.chat.Chat(ctx, msgs)
	if err != nil {
		log.Error("Planner unavailable", "err", err)
		return Failure(err.Error(), offline)
	}

	mem.History.Append(RoleAssistant, reply)

	d := ParseDecision(reply)
	if d.Failed() {
		log.Warn("Planner reply rejected", "err", *d.Error, "raw", reply)
	}
	return d
}

func (t *Thinker) system(directive string) string {
	return fmt.Sprintf("%s Your current directive is: %s.\n%s", t.persona, directive, schema)
}
