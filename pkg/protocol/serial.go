package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

var (
	// ErrConnection is returned when the serial device cannot be opened.
	ErrConnection = errors.New("serial connection failed")
	// ErrLinkFault marks an I/O failure on an open link.
	ErrLinkFault = errors.New("serial link fault")
)

// Port is the part of a serial port the link needs. go.bug.st/serial ports
// satisfy it; tests provide their own.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Opener opens a serial device.
type Opener func(path string, mode *serial.Mode) (Port, error)

// OpenSerial opens a real serial device.
func OpenSerial(path string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type LinkConfig struct {
	Path        string
	BaudRate    int
	ReadTimeout time.Duration
	Settle      time.Duration // device reset time after open
	Backoff     time.Duration // pause before the single reconnect attempt
	Open        Opener
}

// maxPending bounds an unterminated line; anything longer is noise.
const maxPending = 4096

type IncomeKind uint

const (
	NO_LINE IncomeKind = iota
	LINK_FAULT
	LINE_OK
)

type Income struct {
	Kind IncomeKind
	Line []byte
	Err  error
}

// Link owns the serial connection to the microcontroller. Reads happen on a
// single goroutine; writes and Close may come from any goroutine.
type Link struct {
	cfg LinkConfig

	mu   sync.Mutex
	port Port

	pending []byte
	chunk   []byte
}

func NewLink(cfg LinkConfig) *Link {
	if cfg.Open == nil {
		cfg.Open = OpenSerial
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	return &Link{
		cfg:   cfg,
		chunk: make([]byte, 256),
	}
}

// Connect opens the device, waits for the board to reset and drops whatever
// it printed meanwhile.
func (l *Link) Connect(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: l.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := l.cfg.Open(l.cfg.Path, mode)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrConnection, l.cfg.Path, err)
	}
	if l.cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(l.cfg.ReadTimeout); err != nil {
			port.Close()
			return fmt.Errorf("%w: set read timeout: %v", ErrConnection, err)
		}
	}

	log.Info("Connected to microcontroller", "port", l.cfg.Path, "baud", l.cfg.BaudRate)

	if err := sleep(ctx, l.cfg.Settle); err != nil {
		port.Close()
		return err
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return fmt.Errorf("%w: flush input: %v", ErrConnection, err)
	}

	l.pending = l.pending[:0]

	l.mu.Lock()
	l.port = port
	l.mu.Unlock()
	return nil
}

// ReadLine returns at most one complete line. It performs at most one read,
// so it never blocks longer than the port read timeout.
func (l *Link) ReadLine() Income {
	if line, ok := l.takeLine(); ok {
		return Income{Kind: LINE_OK, Line: line}
	}

	port := l.current()
	if port == nil {
		return Income{Kind: LINK_FAULT, Err: fmt.Errorf("%w: not connected", ErrLinkFault)}
	}

	n, err := port.Read(l.chunk)
	if err != nil {
		return Income{Kind: LINK_FAULT, Err: fmt.Errorf("%w: read: %v", ErrLinkFault, err)}
	}
	if n == 0 {
		return Income{Kind: NO_LINE}
	}

	l.pending = append(l.pending, l.chunk[:n]...)
	if line, ok := l.takeLine(); ok {
		return Income{Kind: LINE_OK, Line: line}
	}
	if len(l.pending) > maxPending {
		log.Debug("Dropping unterminated serial data", "bytes", len(l.pending))
		l.pending = l.pending[:0]
	}
	return Income{Kind: NO_LINE}
}

func (l *Link) takeLine() ([]byte, bool) {
	i := bytes.IndexByte(l.pending, '\n')
	if i < 0 {
		return nil, false
	}
	line := bytes.TrimRight(l.pending[:i], "\r")
	out := append([]byte(nil), line...)
	l.pending = append(l.pending[:0], l.pending[i+1:]...)
	return out, true
}

// Flush drops everything received but not yet returned by ReadLine.
func (l *Link) Flush() error {
	l.pending = l.pending[:0]

	port := l.current()
	if port == nil {
		return fmt.Errorf("%w: not connected", ErrLinkFault)
	}
	if err := port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: flush input: %v", ErrLinkFault, err)
	}
	return nil
}

// Send writes one command token.
func (l *Link) Send(cmd Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !cmd.Valid() {
		return fmt.Errorf("unknown command token %q", string(cmd))
	}
	if l.port == nil {
		return fmt.Errorf("%w: not connected", ErrLinkFault)
	}

	b := cmd.Bytes()
	n, err := l.port.Write(b)
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrLinkFault, cmd, err)
	}
	if n != len(b) {
		return fmt.Errorf("%w: short write %s (%d/%d)", ErrLinkFault, cmd, n, len(b))
	}

	log.Debug("Sent command", "cmd", cmd.String())
	return nil
}

// Close releases the port. Safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

// Recover closes a faulted link, waits the backoff and tries exactly once to
// reconnect.
func (l *Link) Recover(ctx context.Context) error {
	if err := l.Close(); err != nil {
		log.Warn("Failed to close faulted port", "err", err)
	}

	log.Warn("Reconnecting to microcontroller", "port", l.cfg.Path, "in", l.cfg.Backoff)
	if err := sleep(ctx, l.cfg.Backoff); err != nil {
		return err
	}
	return l.Connect(ctx)
}

// Halt makes a best effort to stop the robot and then releases the port.
func (l *Link) Halt() {
	if err := l.Send(CmdStop); err != nil {
		log.Warn("Final stop not delivered", "err", err)
	}
	if err := l.Close(); err != nil {
		log.Warn("Failed to close serial port", "err", err)
		return
	}
	log.Info("Serial port closed")
}

func (l *Link) current() Port {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
