package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// FieldCount is the number of comma separated values in one telemetry sample.
const FieldCount = 16

const fieldSep = ","

var ErrMalformed = errors.New("malformed telemetry")

// SensorFrame is one snapshot sent by the microcontroller. Field order on the
// wire matches the struct order; ControlActive is not transmitted.
type SensorFrame struct {
	L90 int
	L45 int
	F   int
	R45 int
	R90 int

	SmoothL90 float64
	SmoothL45 float64
	SmoothF   float64
	SmoothR45 float64
	SmoothR90 float64

	SteeringIn float64
	PIDOut     float64

	LeftSpeed  int
	RightSpeed int
	BaseSpeed  int
	CurSpeed   int

	// ControlActive reports whether the firmware closed loop is considered
	// engaged. Derived from "PID Active:" diagnostics, true until reported.
	ControlActive bool
}

// String renders the frame back to its wire form.
func (f SensorFrame) String() string {
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	parts := []string{
		strconv.Itoa(f.L90), strconv.Itoa(f.L45), strconv.Itoa(f.F), strconv.Itoa(f.R45), strconv.Itoa(f.R90),
		ff(f.SmoothL90), ff(f.SmoothL45), ff(f.SmoothF), ff(f.SmoothR45), ff(f.SmoothR90),
		ff(f.SteeringIn), ff(f.PIDOut),
		strconv.Itoa(f.LeftSpeed), strconv.Itoa(f.RightSpeed), strconv.Itoa(f.BaseSpeed), strconv.Itoa(f.CurSpeed),
	}
	return strings.Join(parts, fieldSep)
}

// ParseFrame converts one CSV telemetry line. It never panics; any wrong
// field count or conversion failure is reported as ErrMalformed.
func ParseFrame(line string) (SensorFrame, error) {
	parts := strings.Split(strings.TrimSpace(line), fieldSep)
	if len(parts) != FieldCount {
		return SensorFrame{}, fmt.Errorf("%w: got %d fields, want %d", ErrMalformed, len(parts), FieldCount)
	}

	p := fieldParser{parts: parts}
	f := SensorFrame{
		L90: p.int(0), L45: p.int(1), F: p.int(2), R45: p.int(3), R90: p.int(4),

		SmoothL90: p.float(5), SmoothL45: p.float(6), SmoothF: p.float(7),
		SmoothR45: p.float(8), SmoothR90: p.float(9),

		SteeringIn: p.float(10),
		PIDOut:     p.float(11),

		LeftSpeed: p.int(12), RightSpeed: p.int(13), BaseSpeed: p.int(14), CurSpeed: p.int(15),

		ControlActive: true,
	}
	if p.err != nil {
		return SensorFrame{}, p.err
	}
	return f, nil
}

type fieldParser struct {
	parts []string
	err   error
}

func (p *fieldParser) int(i int) int {
	if p.err != nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(p.parts[i]))
	if err != nil {
		p.err = fmt.Errorf("%w: field %d: %v", ErrMalformed, i, err)
	}
	return v
}

func (p *fieldParser) float(i int) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(p.parts[i]), 64)
	if err != nil {
		p.err = fmt.Errorf("%w: field %d: %v", ErrMalformed, i, err)
	}
	return v
}

type ReadingKind uint

const (
	FRAME_EMPTY ReadingKind = iota
	FRAME_MALFORMED
	FRAME_DIAGNOSTIC
	FRAME_OK
)

func (k ReadingKind) String() string {
	switch k {
	case FRAME_EMPTY:
		return "empty"
	case FRAME_MALFORMED:
		return "malformed"
	case FRAME_DIAGNOSTIC:
		return "diagnostic"
	case FRAME_OK:
		return "ok"
	}
	return "unknown"
}

// Reading is the outcome of decoding one line. Frame is only meaningful when
// Kind is FRAME_OK.
type Reading struct {
	Kind  ReadingKind
	Frame SensorFrame
	Text  string
	Err   error
}

const pidMarker = "PID Active:"

var diagnosticMarkers = []string{
	"BaseSpeed:",
	pidMarker,
	"initialized.",
	"Failed to detect",
	"TIMEOUT",
}

// IsDiagnostic reports whether a non-data line is a known firmware message.
func IsDiagnostic(line string) bool {
	for _, m := range diagnosticMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// Decoder turns raw lines into readings and remembers the last PID status
// the firmware reported.
type Decoder struct {
	pidActive bool
}

func NewDecoder() *Decoder {
	return &Decoder{pidActive: true}
}

// ControlActive returns the last reported firmware PID status.
func (d *Decoder) ControlActive() bool {
	return d.pidActive
}

func (d *Decoder) Decode(raw []byte) Reading {
	if !utf8.Valid(raw) {
		return Reading{Kind: FRAME_MALFORMED, Err: fmt.Errorf("%w: invalid utf-8", ErrMalformed)}
	}

	line := strings.TrimSpace(string(raw))
	if line == "" {
		return Reading{Kind: FRAME_EMPTY}
	}

	frame, err := ParseFrame(line)
	if err == nil {
		frame.ControlActive = d.pidActive
		return Reading{Kind: FRAME_OK, Frame: frame, Text: line}
	}

	if IsDiagnostic(line) {
		d.observe(line)
		return Reading{Kind: FRAME_DIAGNOSTIC, Text: line}
	}

	return Reading{Kind: FRAME_MALFORMED, Text: line, Err: err}
}

func (d *Decoder) observe(line string) {
	i := strings.Index(line, pidMarker)
	if i < 0 {
		return
	}
	val := strings.ToLower(strings.TrimSpace(line[i+len(pidMarker):]))
	switch val {
	case "on", "yes":
		d.pidActive = true
		return
	case "off", "no":
		d.pidActive = false
		return
	}
	if b, err := strconv.ParseBool(val); err == nil {
		d.pidActive = b
	}
}
