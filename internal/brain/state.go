package brain

type State uint

const (
	Idle State = iota
	AutonomousNav
	CriticalObstacle
	Survey
	AwaitingDecision
	ProcessingCommand
	ExecutingDecision
	AwaitingSpeech
)

var stateNames = [...]string{
	Idle:              "IDLE",
	AutonomousNav:     "AUTONOMOUS_NAV",
	CriticalObstacle:  "CRITICAL_OBSTACLE",
	Survey:            "SURVEY",
	AwaitingDecision:  "AWAITING_DECISION",
	ProcessingCommand: "PROCESSING_COMMAND",
	ExecutingDecision: "EXECUTING_DECISION",
	AwaitingSpeech:    "AWAITING_SPEECH",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// busy states ignore the wake word; the flag is still consumed.
func (s State) busy() bool {
	switch s {
	case AwaitingDecision, ExecutingDecision, ProcessingCommand, Survey, CriticalObstacle:
		return true
	}
	return false
}

// planning states leave a completed utterance pending until they finish.
func (s State) planning() bool {
	return s == AwaitingDecision || s == ExecutingDecision
}
