package pipeline

type State int32

const (
	Idle State = iota
	Acquiring
	Normalizing
	Scanning
	Classifying
	Aggregating
	Emitted
	Stopped
)

var stateNames = [...]string{
	Idle:        "IDLE",
	Acquiring:   "ACQUIRING",
	Normalizing: "NORMALIZING",
	Scanning:    "SCANNING",
	Classifying: "CLASSIFYING",
	Aggregating: "AGGREGATING",
	Emitted:     "EMITTED",
	Stopped:     "STOPPED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// next lists the legal successors of each state. Any state may go to Stopped;
// Acquiring may loop on itself after a gap.
var next = map[State][]State{
	Idle:        {Acquiring},
	Acquiring:   {Normalizing, Acquiring},
	Normalizing: {Scanning, Acquiring},
	Scanning:    {Classifying},
	Classifying: {Aggregating},
	Aggregating: {Emitted},
	Emitted:     {Acquiring},
}

func (s State) CanMove(to State) bool {
	if to == Stopped {
		return s != Stopped
	}
	for _, n := range next[s] {
		if n == to {
			return true
		}
	}
	return false
}
