package protocol

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLine = "120,340,800,310,95,118.5,338.25,799.75,309,96.125,-0.42,12.5,150,162,160,155"

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame(sampleLine)
	require.NoError(t, err)

	want := SensorFrame{
		L90: 120, L45: 340, F: 800, R45: 310, R90: 95,
		SmoothL90: 118.5, SmoothL45: 338.25, SmoothF: 799.75, SmoothR45: 309, SmoothR90: 96.125,
		SteeringIn: -0.42, PIDOut: 12.5,
		LeftSpeed: 150, RightSpeed: 162, BaseSpeed: 160, CurSpeed: 155,
		ControlActive: true,
	}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFrameRoundTrip(t *testing.T) {
	lines := []string{
		sampleLine,
		"0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0",
		"-1,2,3,4,5,1e-3,2.5e2,3.14159,0.1,0.2,-123.456,7,-255,255,200,0",
		" 10, 20 ,30,40,50,1.1,2.2,3.3,4.4,5.5,6.6,7.7,8,9,10,11\r",
	}

	for _, line := range lines {
		first, err := ParseFrame(line)
		require.NoError(t, err, line)

		second, err := ParseFrame(first.String())
		require.NoError(t, err, first.String())

		if diff := cmp.Diff(first, second, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("round trip of %q changed frame (-first +second):\n%s", line, diff)
		}
	}
}

func TestParseFrameRejects(t *testing.T) {
	cases := map[string]string{
		"too few":        "1,2,3",
		"too many":       sampleLine + ",1",
		"fifteen":        strings.Join(strings.Split(sampleLine, ",")[:15], ","),
		"float in int":   "1.5,340,800,310,95,118.5,338.25,799.75,309,96.125,-0.42,12.5,150,162,160,155",
		"text in float":  "120,340,800,310,95,abc,338.25,799.75,309,96.125,-0.42,12.5,150,162,160,155",
		"empty field":    "120,,800,310,95,118.5,338.25,799.75,309,96.125,-0.42,12.5,150,162,160,155",
		"semicolon sep":  strings.ReplaceAll(sampleLine, ",", ";"),
		"empty":          "",
		"firmware hello": "ESP32 initialized.",
	}

	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := ParseFrame(line)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Equal(t, SensorFrame{}, f)
		})
	}
}

func TestDecoderKinds(t *testing.T) {
	d := NewDecoder()

	cases := []struct {
		line string
		kind ReadingKind
	}{
		{sampleLine, FRAME_OK},
		{"", FRAME_EMPTY},
		{"   \r", FRAME_EMPTY},
		{"BaseSpeed: 160", FRAME_DIAGNOSTIC},
		{"VL53L0X initialized.", FRAME_DIAGNOSTIC},
		{"Failed to detect sensor 3", FRAME_DIAGNOSTIC},
		{"sensor 2 TIMEOUT", FRAME_DIAGNOSTIC},
		{"garbage,1,2", FRAME_MALFORMED},
		{string([]byte{0xff, 0xfe, ','}), FRAME_MALFORMED},
	}

	for _, c := range cases {
		r := d.Decode([]byte(c.line))
		assert.Equal(t, c.kind, r.Kind, "line %q", c.line)
	}
}

func TestDecoderTracksPIDStatus(t *testing.T) {
	d := NewDecoder()
	assert.True(t, d.ControlActive())

	r := d.Decode([]byte("PID Active: 0"))
	require.Equal(t, FRAME_DIAGNOSTIC, r.Kind)
	assert.False(t, d.ControlActive())

	r = d.Decode([]byte(sampleLine))
	require.Equal(t, FRAME_OK, r.Kind)
	assert.False(t, r.Frame.ControlActive)

	d.Decode([]byte("PID Active: ON"))
	assert.True(t, d.ControlActive())

	d.Decode([]byte("PID Active: maybe"))
	assert.True(t, d.ControlActive(), "unknown values leave the status unchanged")
}

func TestCommandBytes(t *testing.T) {
	assert.Equal(t, []byte("x\n"), CmdStop.Bytes())
	assert.Equal(t, "autonomous-on", CmdAutonomousOn.String())
	assert.True(t, CmdReverse.Valid())
	assert.False(t, Command("z").Valid())
	assert.Equal(t, `unknown("z")`, Command("z").String())
}
