package session

// State is the protocol state of a session.
type State int

// Session states. A session only moves forward.
const (
	StateAwaitConfig State = iota
	StateConfigAcked
	StateAwaitTestSet
	StateExecuting
	StateUnits
	StateDone
	StateInvalid
)

var stateNames = [...]string{
	StateAwaitConfig:  "AWAIT_CONFIG",
	StateConfigAcked:  "CONFIG_ACKED",
	StateAwaitTestSet: "AWAIT_TESTSET",
	StateExecuting:    "EXECUTING",
	StateUnits:        "SELENIUM",
	StateDone:         "DONE",
	StateInvalid:      "INVALID",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}

	return stateNames[s]
}
