package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rover/internal/ipc"
	"rover/internal/planner"
	"rover/internal/robot"
	"rover/internal/vision"
	"rover/pkg/protocol"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Sleep(_ context.Context, d time.Duration) { c.now = c.now.Add(d) }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeLink is both the telemetry source and the command sink.
type fakeLink struct {
	lines []protocol.Income
	sent  []protocol.Command

	sendErr    error
	recoverErr error
	recovered  int

	reads   int
	onRead  func(n int)
	flushed int
}

func (l *fakeLink) ReadLine() protocol.Income {
	l.reads++
	if l.onRead != nil {
		l.onRead(l.reads)
	}
	if len(l.lines) == 0 {
		return protocol.Income{Kind: protocol.NO_LINE}
	}
	in := l.lines[0]
	l.lines = l.lines[1:]
	return in
}

func (l *fakeLink) Flush() error {
	l.flushed++
	l.lines = nil
	return nil
}

func (l *fakeLink) feed(lines ...string) {
	for _, s := range lines {
		l.lines = append(l.lines, protocol.Income{Kind: protocol.LINE_OK, Line: []byte(s)})
	}
}

func (l *fakeLink) fault() {
	l.lines = append(l.lines, protocol.Income{
		Kind: protocol.LINK_FAULT,
		Err:  fmt.Errorf("%w: read: device unplugged", protocol.ErrLinkFault),
	})
}

func (l *fakeLink) Send(cmd protocol.Command) error {
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, cmd)
	return nil
}

func (l *fakeLink) Recover(context.Context) error {
	l.recovered++
	return l.recoverErr
}

func (l *fakeLink) tokens() string {
	out := make([]string, len(l.sent))
	for i, c := range l.sent {
		out[i] = string(c)
	}
	return strings.Join(out, " ")
}

type recSpeaker struct {
	said []string
	err  error
}

func (s *recSpeaker) Speak(_ context.Context, text string) error {
	s.said = append(s.said, text)
	return s.err
}

type fakeCamera struct {
	calls  int
	failOn map[int]bool
}

func (c *fakeCamera) Capture(context.Context) (vision.Image, error) {
	c.calls++
	if c.failOn[c.calls] {
		return vision.Image{}, errors.New("no camera")
	}
	return vision.Image{Data: []byte{0xff, 0xd8}, MIME: "image/jpeg"}, nil
}

type fakeDescriber struct {
	calls   int
	replies []string
	failOn  map[int]bool
	prompts []string
}

func (d *fakeDescriber) Describe(_ context.Context, _ vision.Image, prompt string) (string, error) {
	d.calls++
	d.prompts = append(d.prompts, prompt)
	if d.failOn[d.calls] {
		return "", errors.New("model offline")
	}
	if len(d.replies) == 0 {
		return "Nothing much.", nil
	}
	r := d.replies[0]
	d.replies = d.replies[1:]
	return r, nil
}

type fakePlanner struct {
	decisions []*planner.Decision
	surveys   [][3]string
	heard     []string
}

func (p *fakePlanner) next() *planner.Decision {
	if len(p.decisions) == 0 {
		return nil
	}
	d := p.decisions[0]
	p.decisions = p.decisions[1:]
	return d
}

func (p *fakePlanner) PlanSurvey(_ context.Context, _ *planner.Memory, front, left, right string) *planner.Decision {
	p.surveys = append(p.surveys, [3]string{front, left, right})
	return p.next()
}

func (p *fakePlanner) PlanUserCommand(_ context.Context, _ *planner.Memory, utterance string) *planner.Decision {
	p.heard = append(p.heard, utterance)
	return p.next()
}

type recPublisher struct {
	kinds    []string
	contents []string
}

func (p *recPublisher) Publish(kind, content string) {
	p.kinds = append(p.kinds, kind)
	p.contents = append(p.contents, content)
}

type rig struct {
	m       *Machine
	link    *fakeLink
	bus     *ipc.FileBus
	speaker *recSpeaker
	camera  *fakeCamera
	desc    *fakeDescriber
	plan    *fakePlanner
	pub     *recPublisher
	clock   *fakeClock
	mem     *planner.Memory
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()

	bus, err := ipc.NewFileBus(t.TempDir())
	require.NoError(t, err)

	r := &rig{
		link:    &fakeLink{},
		bus:     bus,
		speaker: &recSpeaker{},
		camera:  &fakeCamera{},
		desc:    &fakeDescriber{},
		plan:    &fakePlanner{},
		pub:     &recPublisher{},
		clock:   &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
		mem:     planner.NewMemory("", 20),
	}

	deps := Deps{
		Telemetry: r.link,
		Driver:    robot.NewDispatcher(r.link, robot.WithSleep(r.clock.advance)),
		Signals:   bus,
		Speaker:   r.speaker,
		Camera:    r.camera,
		Describer: r.desc,
		Planner:   r.plan,
		Publisher: r.pub,
	}
	opts = append([]Option{WithClock(r.clock.Now, r.clock.Sleep)}, opts...)
	r.m = New(deps, DefaultTiming(), r.mem, opts...)
	return r
}

// tick advances past the poll interval and runs one pass.
func (r *rig) tick(t *testing.T) bool {
	t.Helper()
	r.clock.advance(r.m.timing.Poll)
	worked, err := r.m.Tick(context.Background())
	require.NoError(t, err)
	return worked
}

func frameLine(curSpeed int) string {
	return fmt.Sprintf("100,200,800,200,100,100,200,800,200,100,0,0,150,150,150,%d", curSpeed)
}

func flag(b bool) planner.Flag { return planner.Flag(b) }
