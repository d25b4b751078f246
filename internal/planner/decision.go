// Package planner asks a language model what the robot should do next and
// keeps the conversation memory that goes with it.
package planner

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"rover/internal/llm"
)

// Flag is a JSON boolean that also accepts the loose forms models produce:
// "true", "yes", 1 and null. Anything unrecognised reads as false.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}

	switch strings.ToLower(string(b)) {
	case "true", "yes", "on":
		*f = true
		return nil
	case "false", "no", "off", "null", "":
		*f = false
		return nil
	}
	n, err := strconv.ParseFloat(string(b), 64)
	*f = Flag(err == nil && n != 0)
	return nil
}

// Decision is one structured planner reply. Fields are optional; the
// executor applies them in a fixed order.
type Decision struct {
	Think             string `json:"think,omitempty"`
	Speak             string `json:"speak,omitempty"`
	TurnLeft          Flag   `json:"turn_left,omitempty"`
	TurnRight         Flag   `json:"turn_right,omitempty"`
	Stop              Flag   `json:"stop,omitempty"`
	Survey            Flag   `json:"survey,omitempty"`
	MoveForward       Flag   `json:"move_forward_autonomously,omitempty"`
	ListenForResponse Flag   `json:"listen_for_response,omitempty"`
	ChangeDirective   string `json:"change_directive,omitempty"`

	// Error is set when the planner could not produce a usable decision.
	Error *string `json:"error,omitempty"`

	Raw string `json:"-"`
}

// Failed reports whether the decision carries an error marker.
func (d *Decision) Failed() bool {
	return d.Error != nil
}

// Failure builds an error-tagged decision whose Think is suitable for
// speaking aloud.
func Failure(reason, think string) *Decision {
	return &Decision{Error: &reason, Think: think}
}

const invalidJSONThink = "I seem to have generated invalid JSON. I should try to stick to the format."

// ParseDecision decodes a model reply. It never fails: replies that are not a
// JSON object come back as an error-tagged decision.
func ParseDecision(raw string) *Decision {
	body := strings.TrimSpace(llm.StripFences(raw))
	if !strings.HasPrefix(body, "{") {
		d := Failure("response was not a JSON object", invalidJSONThink)
		d.Raw = raw
		return d
	}

	var d Decision
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		d := Failure("response was not valid JSON: "+err.Error(), invalidJSONThink)
		d.Raw = raw
		return d
	}
	d.Raw = raw
	d.ChangeDirective = strings.TrimSpace(d.ChangeDirective)
	return &d
}
