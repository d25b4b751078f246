// Package robot translates motion intents into firmware command tokens.
package robot

import (
	log "log/slog"
	"time"

	"rover/pkg/protocol"
)

// Commander delivers a command token to the microcontroller.
type Commander interface {
	Send(cmd protocol.Command) error
}

// Dispatcher holds no motion state of its own; every call is a fixed token
// sequence. Errors are the link's write errors, returned unchanged.
type Dispatcher struct {
	link  Commander
	sleep func(time.Duration)
}

type Option func(*Dispatcher)

// WithSleep replaces the pause used between the start and stop of a timed move.
func WithSleep(sleep func(time.Duration)) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

func NewDispatcher(link Commander, opts ...Option) *Dispatcher {
	d := &Dispatcher{link: link, sleep: time.Sleep}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Stop() error {
	return d.link.Send(protocol.CmdStop)
}

func (d *Dispatcher) TurnLeft(dur time.Duration) error {
	log.Info("Turning", "dir", "left", "for", dur)
	return d.timed(protocol.CmdTurnLeft, dur)
}

func (d *Dispatcher) TurnRight(dur time.Duration) error {
	log.Info("Turning", "dir", "right", "for", dur)
	return d.timed(protocol.CmdTurnRight, dur)
}

// Backup reverses for dur and then stops.
func (d *Dispatcher) Backup(dur time.Duration) error {
	log.Info("Backing up", "for", dur)
	return d.timed(protocol.CmdReverse, dur)
}

func (d *Dispatcher) SetAutonomousMode(enabled bool) error {
	log.Info("Autonomous mode", "enabled", enabled)
	if enabled {
		return d.link.Send(protocol.CmdAutonomousOn)
	}
	return d.link.Send(protocol.CmdAutonomousOff)
}

func (d *Dispatcher) timed(cmd protocol.Command, dur time.Duration) error {
	if err := d.link.Send(cmd); err != nil {
		return err
	}
	d.sleep(dur)
	return d.link.Send(protocol.CmdStop)
}
