// Package brain runs the robot's control loop: it reads telemetry, watches
// the signals shared with the listener, and drives the survey, planning and
// execution cycle.
package brain

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"rover/internal/hub"
	"rover/internal/ipc"
	"rover/internal/planner"
	"rover/internal/vision"
	"rover/pkg/protocol"
)

type Telemetry interface {
	ReadLine() protocol.Income
	Flush() error
	Recover(ctx context.Context) error
}

type Driver interface {
	Stop() error
	TurnLeft(d time.Duration) error
	TurnRight(d time.Duration) error
	Backup(d time.Duration) error
	SetAutonomousMode(enabled bool) error
}

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type Camera interface {
	Capture(ctx context.Context) (vision.Image, error)
}

type Describer interface {
	Describe(ctx context.Context, img vision.Image, prompt string) (string, error)
}

type Planner interface {
	PlanSurvey(ctx context.Context, mem *planner.Memory, front, left, right string) *planner.Decision
	PlanUserCommand(ctx context.Context, mem *planner.Memory, utterance string) *planner.Decision
}

type Publisher interface {
	Publish(kind, content string)
}

// Deps are the collaborators the machine drives. Publisher may be nil.
type Deps struct {
	Telemetry Telemetry
	Driver    Driver
	Signals   ipc.Bus
	Speaker   Speaker
	Camera    Camera
	Describer Describer
	Planner   Planner
	Publisher Publisher
}

type Timing struct {
	Tick          time.Duration
	Poll          time.Duration
	StatusEvery   time.Duration
	SpeechTimeout time.Duration
	SpeakPause    time.Duration
	ViewPause     time.Duration
	FaultPause    time.Duration

	Backup     time.Duration
	SurveyTurn time.Duration
	Turn       time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Tick:          50 * time.Millisecond,
		Poll:          250 * time.Millisecond,
		StatusEvery:   2 * time.Second,
		SpeechTimeout: 20 * time.Second,
		SpeakPause:    200 * time.Millisecond,
		ViewPause:     500 * time.Millisecond,
		FaultPause:    time.Second,
		Backup:        1500 * time.Millisecond,
		SurveyTurn:    2 * time.Second,
		Turn:          time.Second,
	}
}

const faultLine = "Oh dear, something went wrong with my main functions."

type views struct {
	front, left, right string
}

// Machine is a single actor. None of its methods may be called concurrently;
// the directive, history and pending decision are only touched from Run.
type Machine struct {
	deps   Deps
	timing Timing
	mem    *planner.Memory

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	decoder *protocol.Decoder
	frame   *protocol.SensorFrame
	frames  uint64

	state    State
	navMark  uint64
	lastPoll time.Time
	lastStat time.Time

	views       *views
	decision    *planner.Decision
	cycle       string
	listenSince time.Time
}

type Option func(*Machine)

// WithClock replaces wall time and pauses, for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration)) Option {
	return func(m *Machine) {
		m.now = now
		m.sleep = sleep
	}
}

// WithInitialState starts the machine somewhere other than Idle.
func WithInitialState(s State) Option {
	return func(m *Machine) { m.state = s }
}

func New(deps Deps, timing Timing, mem *planner.Memory, opts ...Option) *Machine {
	if mem == nil {
		mem = planner.NewMemory("", 20)
	}
	m := &Machine{
		deps:    deps,
		timing:  timing,
		mem:     mem,
		now:     time.Now,
		sleep:   sleep,
		decoder: protocol.NewDecoder(),
		state:   Idle,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Machine) State() State { return m.state }
func (m *Machine) Directive() string { return m.mem.Directive }
func (m *Machine) Frame() (protocol.SensorFrame, bool) {
	if m.frame == nil {
		return protocol.SensorFrame{}, false
	}
	return *m.frame, true
}

// Run ticks until ctx is cancelled. It returns an error only when a lost
// serial link could not be re-established.
func (m *Machine) Run(ctx context.Context) error {
	log.Info("Control loop started", "state", m.state.String(), "directive", m.mem.Directive)

	for {
		if ctx.Err() != nil {
			return nil
		}

		worked, err := m.Tick(ctx)
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case errors.Is(err, protocol.ErrLinkFault):
			log.Error("Serial link fault", "err", err, "state", m.state.String())
			if rerr := m.deps.Telemetry.Recover(ctx); rerr != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("reconnect failed: %w", rerr)
			}
			log.Info("Serial link recovered")
			continue
		case err != nil:
			log.Error("Control loop error", "err", err, "state", m.state.String())
			m.say(ctx, faultLine)
			m.sleep(ctx, m.timing.FaultPause)
			continue
		}

		if !worked {
			m.sleep(ctx, m.timing.Tick)
		}
	}
}

// Tick runs one pass: take in at most one telemetry line, poll the signals
// when due, then run the current state. worked reports whether the state did
// blocking work, in which case the caller skips the idle pause.
func (m *Machine) Tick(ctx context.Context) (worked bool, err error) {
	if err := m.ingest(); err != nil {
		return false, err
	}
	if err := m.poll(); err != nil {
		return false, err
	}
	return m.step(ctx)
}

func (m *Machine) ingest() error {
	in := m.deps.Telemetry.ReadLine()
	switch in.Kind {
	case protocol.LINK_FAULT:
		return in.Err
	case protocol.NO_LINE:
		return nil
	}

	r := m.decoder.Decode(in.Line)
	switch r.Kind {
	case protocol.FRAME_OK:
		f := r.Frame
		m.frame = &f
		m.frames++
		m.status()
	case protocol.FRAME_DIAGNOSTIC:
		log.Info("Firmware", "msg", r.Text)
	case protocol.FRAME_MALFORMED:
		log.Debug("Dropped telemetry line", "err", r.Err, "line", r.Text)
	}
	return nil
}

func (m *Machine) status() {
	now := m.now()
	if now.Sub(m.lastStat) < m.timing.StatusEvery {
		return
	}
	m.lastStat = now

	f := m.frame
	log.Info("Status", "state", m.state.String(),
		"F", f.F, "L45", f.L45, "R45", f.R45,
		"left", f.LeftSpeed, "right", f.RightSpeed, "cur", f.CurSpeed)
	m.publish(hub.KindTelemetry, f.String())
}

// poll checks the listener's signals. A finished utterance outranks a wake
// word because it ends an interaction that is already under way.
func (m *Machine) poll() error {
	now := m.now()
	if !m.lastPoll.IsZero() && now.Sub(m.lastPoll) < m.timing.Poll {
		return nil
	}
	m.lastPoll = now

	bus := m.deps.Signals
	if bus.Present(ipc.ListeningComplete) {
		if m.state.planning() {
			log.Debug("Deferring user command", "state", m.state.String())
			return nil
		}
		log.Info("Utterance ready")
		if err := m.deps.Driver.Stop(); err != nil {
			return err
		}
		m.setState(ProcessingCommand)
		return nil
	}

	if bus.Present(ipc.WakeWord) {
		if m.state.busy() {
			log.Info("Wake word ignored while busy", "state", m.state.String())
		} else {
			log.Info("Wake word, stopping to listen")
			if err := m.deps.Driver.Stop(); err != nil {
				return err
			}
			m.setState(Idle)
		}
		return bus.Clear(ipc.WakeWord)
	}
	return nil
}

func (m *Machine) step(ctx context.Context) (bool, error) {
	switch m.state {
	case Idle:
		return false, nil
	case AutonomousNav:
		m.navigate()
		return false, nil
	case CriticalObstacle:
		return true, m.obstacle()
	case Survey:
		return true, m.survey(ctx)
	case AwaitingDecision:
		m.planSurvey(ctx)
		return true, nil
	case ProcessingCommand:
		return true, m.processCommand(ctx)
	case ExecutingDecision:
		return true, m.execute(ctx)
	case AwaitingSpeech:
		return m.awaitSpeech(ctx)
	}
	return false, fmt.Errorf("unknown state %d", m.state)
}

// navigate treats a standstill reported while the firmware loop is engaged
// as an obstacle stop. It cannot tell that apart from an operator stop or a
// mode toggle. Only frames received after entering the state count, so a
// standstill from before the mode switch is not mistaken for one.
func (m *Machine) navigate() {
	if m.frame == nil || m.frames <= m.navMark {
		return
	}
	if m.frame.CurSpeed == 0 && m.frame.ControlActive {
		log.Warn("Firmware stopped for an obstacle")
		m.setState(CriticalObstacle)
	}
}

func (m *Machine) obstacle() error {
	m.decision = nil
	if err := m.deps.Driver.Backup(m.timing.Backup); err != nil {
		return err
	}
	m.setState(Survey)
	return nil
}

func (m *Machine) processCommand(ctx context.Context) error {
	bus := m.deps.Signals
	text, err := bus.ConsumePayload(ipc.UserSpeech)
	if cerr := bus.Clear(ipc.ListeningComplete); cerr != nil {
		log.Warn("Failed to clear signal", "signal", string(ipc.ListeningComplete), "err", cerr)
	}

	if err != nil {
		log.Error("Failed to read utterance", "err", err)
		m.say(ctx, "I had trouble understanding what you said.")
		m.setState(Idle)
		return nil
	}
	if text == "" {
		m.say(ctx, "I didn't catch that, please try again after the wake word.")
		m.setState(Idle)
		return nil
	}

	m.beginCycle()
	log.Info("Heard", "text", text, "cycle", m.cycle)
	m.decision = m.deps.Planner.PlanUserCommand(ctx, m.mem, text)
	m.setState(ExecutingDecision)
	return nil
}

func (m *Machine) awaitSpeech(ctx context.Context) (bool, error) {
	if m.deps.Signals.Present(ipc.ListeningComplete) {
		m.setState(ProcessingCommand)
		return false, nil
	}
	if m.now().Sub(m.listenSince) < m.timing.SpeechTimeout {
		return false, nil
	}

	log.Info("No reply heard", "waited", m.timing.SpeechTimeout)
	m.say(ctx, "I didn't hear a response. Going back to what I was doing.")
	m.setState(Idle)
	return true, m.deps.Signals.Clear(ipc.RequestAudioCapture)
}

func (m *Machine) setState(s State) {
	if s == m.state {
		return
	}
	log.Info("State change", "from", m.state.String(), "to", s.String())
	m.state = s
	if s == AutonomousNav {
		m.navMark = m.frames
	}
	m.publish(hub.KindState, s.String())
}

// say is fire-and-forget: a speech failure is logged and the loop goes on.
func (m *Machine) say(ctx context.Context, text string) {
	if text == "" {
		return
	}
	m.publish(hub.KindSpeech, text)
	if err := m.deps.Speaker.Speak(ctx, text); err != nil {
		log.Warn("Failed to speak", "err", err, "text", text)
	}
}

func (m *Machine) publish(kind, content string) {
	if m.deps.Publisher != nil {
		m.deps.Publisher.Publish(kind, content)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
