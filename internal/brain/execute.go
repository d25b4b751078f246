package brain

import (
	"context"
	log "log/slog"

	"rover/internal/hub"
	"rover/internal/ipc"
)

const thinkingFallback = "I had a problem with my thinking process. I'll just stop for now."

// execute applies the pending decision once. The decision is taken before
// anything else happens, so no path can run it a second time.
func (m *Machine) execute(ctx context.Context) error {
	d := m.decision
	m.decision = nil

	if d == nil || d.Failed() {
		think := thinkingFallback
		if d != nil && d.Think != "" {
			think = d.Think
		}
		if d != nil && d.Error != nil {
			log.Warn("Decision failed", "cycle", m.cycle, "err", *d.Error)
		}
		m.say(ctx, think)
		if d != nil {
			m.say(ctx, d.Speak)
		}
		return m.halt()
	}

	if d.Raw != "" {
		m.publish(hub.KindDecision, d.Raw)
	}
	if d.Think != "" {
		log.Info("Thinking", "cycle", m.cycle, "think", d.Think)
	}

	if d.Speak != "" {
		m.say(ctx, d.Speak)
		m.sleep(ctx, m.timing.SpeakPause)
	}

	if d.Stop {
		return m.halt()
	}

	if d.Survey {
		m.setState(Survey)
		return nil
	}

	if d.TurnLeft {
		m.say(ctx, "Okay, turning left.")
		if err := m.deps.Driver.TurnLeft(m.timing.Turn); err != nil {
			return err
		}
	}
	if d.TurnRight {
		m.say(ctx, "Alright, turning right.")
		if err := m.deps.Driver.TurnRight(m.timing.Turn); err != nil {
			return err
		}
	}

	if d.ChangeDirective != "" {
		log.Info("Directive changed", "from", m.mem.Directive, "to", d.ChangeDirective)
		m.mem.Directive = d.ChangeDirective
		m.say(ctx, "Okay, I will now try to: "+d.ChangeDirective)
	}

	if d.MoveForward {
		m.say(ctx, "Moving forward autonomously.")
		if err := m.deps.Driver.SetAutonomousMode(true); err != nil {
			return err
		}
		// frames queued while surveying or planning predate the switch
		if err := m.deps.Telemetry.Flush(); err != nil {
			log.Warn("Failed to flush telemetry", "err", err)
		}
		m.setState(AutonomousNav)
		return nil
	}

	if d.ListenForResponse {
		m.say(ctx, "I'm listening.")
		if err := m.deps.Signals.Raise(ipc.RequestAudioCapture); err != nil {
			log.Error("Failed to request audio capture", "err", err)
			m.say(ctx, "I have a problem setting up my listener.")
			m.setState(Idle)
			return nil
		}
		m.listenSince = m.now()
		m.setState(AwaitingSpeech)
		return nil
	}

	m.setState(Idle)
	if !d.TurnLeft && !d.TurnRight {
		return m.deps.Driver.SetAutonomousMode(true)
	}
	return nil
}

// halt stops the robot and goes idle. If the stop cannot be delivered the
// state is left as is, so the next tick stops again once the link is back.
func (m *Machine) halt() error {
	if err := m.deps.Driver.Stop(); err != nil {
		return err
	}
	m.setState(Idle)
	return nil
}
