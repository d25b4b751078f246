package protocol

import (
	"bytes"
	"fmt"
)

// Command is an outbound token understood by the motor controller firmware.
type Command string

const (
	CmdStop          Command = "x"
	CmdTurnLeft      Command = "l"
	CmdTurnRight     Command = "r"
	CmdReverse       Command = "b"
	CmdAutonomousOn  Command = "A"
	CmdAutonomousOff Command = "M"
)

var commands = map[Command]string{
	CmdStop:          "stop",
	CmdTurnLeft:      "turn-left",
	CmdTurnRight:     "turn-right",
	CmdReverse:       "reverse",
	CmdAutonomousOn:  "autonomous-on",
	CmdAutonomousOff: "autonomous-off",
}

func (c Command) String() string {
	if name, ok := commands[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%q)", string(c))
}

// Valid reports whether c is one of the known firmware tokens.
func (c Command) Valid() bool {
	_, ok := commands[c]
	return ok
}

// Bytes returns the newline terminated wire form.
func (c Command) Bytes() []byte {
	b := []byte(c)
	if !bytes.HasSuffix(b, []byte("\n")) {
		b = append(b, '\n')
	}
	return b
}
