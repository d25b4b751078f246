package protocol

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// testPort is a scripted serial port. Each Read returns the next chunk, or
// (0, nil) like a real port hitting its read timeout.
type testPort struct {
	mu sync.Mutex

	chunks  [][]byte
	written bytes.Buffer

	readErr  error
	writeErr error

	flushed     int
	readTimeout time.Duration
	closed      bool
}

func (p *testPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.chunks) == 0 {
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	p.chunks[0] = p.chunks[0][n:]
	if len(p.chunks[0]) == 0 {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *testPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

func (p *testPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *testPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushed++
	p.chunks = nil
	return nil
}

func (p *testPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

func (p *testPort) feed(chunks ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range chunks {
		p.chunks = append(p.chunks, []byte(c))
	}
}

type opener struct {
	ports []*testPort
	err   error
	calls []*serial.Mode
}

func (o *opener) open(path string, mode *serial.Mode) (Port, error) {
	o.calls = append(o.calls, mode)
	if o.err != nil {
		return nil, o.err
	}
	p := o.ports[0]
	o.ports = o.ports[1:]
	return p, nil
}

func connected(t *testing.T, port *testPort) *Link {
	t.Helper()
	o := &opener{ports: []*testPort{port}}
	l := NewLink(LinkConfig{Path: "/dev/test", BaudRate: 115200, ReadTimeout: 50 * time.Millisecond, Open: o.open})
	require.NoError(t, l.Connect(context.Background()))
	return l
}

func TestConnectFlushesAndConfigures(t *testing.T) {
	port := &testPort{}
	port.feed("stale,boot,noise\n")

	o := &opener{ports: []*testPort{port}}
	l := NewLink(LinkConfig{Path: "/dev/test", ReadTimeout: time.Second, Open: o.open})
	require.NoError(t, l.Connect(context.Background()))

	require.Len(t, o.calls, 1)
	assert.Equal(t, 115200, o.calls[0].BaudRate)
	assert.Equal(t, time.Second, port.readTimeout)
	assert.Equal(t, 1, port.flushed)
	assert.Equal(t, NO_LINE, l.ReadLine().Kind, "stale data must be discarded")
}

func TestConnectFailure(t *testing.T) {
	o := &opener{err: errors.New("no such device")}
	l := NewLink(LinkConfig{Path: "/dev/missing", Open: o.open})

	err := l.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
}

func TestReadLineFraming(t *testing.T) {
	port := &testPort{}
	l := connected(t, port)

	port.feed("12,3", "4\r\nsecond\nthi")

	in := l.ReadLine()
	assert.Equal(t, NO_LINE, in.Kind, "partial line is held back")

	in = l.ReadLine()
	require.Equal(t, LINE_OK, in.Kind)
	assert.Equal(t, "12,34", string(in.Line))

	in = l.ReadLine()
	require.Equal(t, LINE_OK, in.Kind, "buffered line is returned without a read")
	assert.Equal(t, "second", string(in.Line))

	assert.Equal(t, NO_LINE, l.ReadLine().Kind)
	port.feed("rd\n")
	in = l.ReadLine()
	require.Equal(t, LINE_OK, in.Kind)
	assert.Equal(t, "third", string(in.Line))
}

func TestReadLineDropsOverlongGarbage(t *testing.T) {
	port := &testPort{}
	l := connected(t, port)

	port.feed(string(bytes.Repeat([]byte{'z'}, maxPending+10)))
	for i := 0; i < 30; i++ {
		l.ReadLine()
	}
	port.feed("ok\n")

	var in Income
	for i := 0; i < 5 && in.Kind != LINE_OK; i++ {
		in = l.ReadLine()
	}
	require.Equal(t, LINE_OK, in.Kind)
	assert.Equal(t, "ok", string(in.Line))
}

func TestReadLineFault(t *testing.T) {
	port := &testPort{readErr: errors.New("device unplugged")}
	l := connected(t, port)

	in := l.ReadLine()
	assert.Equal(t, LINK_FAULT, in.Kind)
	assert.ErrorIs(t, in.Err, ErrLinkFault)
}

func TestSend(t *testing.T) {
	port := &testPort{}
	l := connected(t, port)

	require.NoError(t, l.Send(CmdStop))
	require.NoError(t, l.Send(CmdAutonomousOn))
	assert.Equal(t, "x\nA\n", port.written.String())

	port.writeErr = errors.New("io error")
	assert.ErrorIs(t, l.Send(CmdStop), ErrLinkFault)
}

func TestSendRejectsUnknownToken(t *testing.T) {
	port := &testPort{}
	l := connected(t, port)

	err := l.Send(Command("z"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLinkFault)
	assert.Empty(t, port.written.String())
}

func TestFlushDropsBacklog(t *testing.T) {
	port := &testPort{}
	l := connected(t, port)

	port.feed("1,2\nhalf")
	in := l.ReadLine()
	require.Equal(t, LINE_OK, in.Kind)

	port.feed("old\n")
	require.NoError(t, l.Flush())
	assert.Equal(t, 2, port.flushed, "once on connect, once here")
	assert.Equal(t, NO_LINE, l.ReadLine().Kind, "buffered partial line is gone too")

	port.feed("new\n")
	in = l.ReadLine()
	require.Equal(t, LINE_OK, in.Kind)
	assert.Equal(t, "new", string(in.Line))

	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Flush(), ErrLinkFault)
}

func TestSendAfterClose(t *testing.T) {
	port := &testPort{}
	l := connected(t, port)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Send(CmdStop), ErrLinkFault)
	assert.Equal(t, LINK_FAULT, l.ReadLine().Kind)
}

func TestRecover(t *testing.T) {
	first, second := &testPort{}, &testPort{}
	o := &opener{ports: []*testPort{first, second}}
	l := NewLink(LinkConfig{Path: "/dev/test", Open: o.open})
	require.NoError(t, l.Connect(context.Background()))

	require.NoError(t, l.Recover(context.Background()))
	assert.True(t, first.closed)

	require.NoError(t, l.Send(CmdStop))
	assert.Equal(t, "x\n", second.written.String())
}

func TestRecoverFailsOnce(t *testing.T) {
	o := &opener{ports: []*testPort{{}}}
	l := NewLink(LinkConfig{Path: "/dev/test", Open: o.open})
	require.NoError(t, l.Connect(context.Background()))

	o.err = errors.New("gone")
	err := l.Recover(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
	assert.Len(t, o.calls, 2, "exactly one reconnect attempt")
}

func TestHalt(t *testing.T) {
	port := &testPort{}
	l := connected(t, port)

	l.Halt()
	assert.Equal(t, "x\n", port.written.String())
	assert.True(t, port.closed)

	l.Halt()
}
