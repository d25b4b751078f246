package brain

import (
	"context"
	log "log/slog"

	"github.com/google/uuid"
)

const describePrompt = "Describe the scene in 3 sentences."

type heading struct {
	name     string
	announce string
	turn     func(m *Machine) error
}

var headings = []heading{
	{
		name:     "front",
		announce: "Let me take a look around. First, what's in front?",
	},
	{
		name:     "left",
		announce: "Now, to my left.",
		turn:     func(m *Machine) error { return m.deps.Driver.TurnLeft(m.timing.SurveyTurn) },
	},
	{
		name:     "right",
		announce: "And finally, to my right.",
		// from the left heading, so twice as far
		turn: func(m *Machine) error { return m.deps.Driver.TurnRight(2 * m.timing.SurveyTurn) },
	},
}

// survey looks front, left and right, re-centres and stops. A failed capture
// or description leaves a fixed placeholder for that heading.
func (m *Machine) survey(ctx context.Context) error {
	log.Info("Surveying surroundings")

	var seen [3]string
	for i, h := range headings {
		m.say(ctx, h.announce)
		if h.turn != nil {
			if err := h.turn(m); err != nil {
				return err
			}
		}
		seen[i] = m.look(ctx, h.name)
		m.sleep(ctx, m.timing.ViewPause)
	}

	if err := m.deps.Driver.TurnLeft(m.timing.SurveyTurn); err != nil {
		return err
	}
	if err := m.deps.Driver.Stop(); err != nil {
		return err
	}

	m.views = &views{front: seen[0], left: seen[1], right: seen[2]}
	m.setState(AwaitingDecision)
	return nil
}

func (m *Machine) look(ctx context.Context, name string) string {
	fallback := "Error during " + name + " view"

	img, err := m.deps.Camera.Capture(ctx)
	if err != nil {
		log.Warn("Failed to capture image", "heading", name, "err", err)
		return fallback
	}
	desc, err := m.deps.Describer.Describe(ctx, img, describePrompt)
	if err != nil || desc == "" {
		log.Warn("Failed to describe image", "heading", name, "err", err)
		return fallback
	}
	log.Info("Survey", "heading", name, "desc", desc)
	return desc
}

func (m *Machine) planSurvey(ctx context.Context) {
	v := m.views
	m.views = nil
	if v == nil {
		log.Warn("No survey results to plan from")
		m.setState(Idle)
		return
	}

	m.beginCycle()
	log.Info("Requesting decision", "cycle", m.cycle)
	m.decision = m.deps.Planner.PlanSurvey(ctx, m.mem, v.front, v.left, v.right)
	m.setState(ExecutingDecision)
}

func (m *Machine) beginCycle() {
	m.cycle = uuid.NewString()
}
