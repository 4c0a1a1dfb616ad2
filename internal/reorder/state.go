package reorder

// State is a step of a worker's greedy walk.
type State uint8

const (
	// StateSeedPick starts a contig from a freshly claimed seed.
	StateSeedPick State = iota
	// StateForwardSearch extends the contig to the right.
	StateForwardSearch
	// StateLeftSearch extends the contig to the left, working on the reverse
	// complement of the seed.
	StateLeftSearch
	// StateNewSeed closes the contig and claims the next unclaimed read.
	StateNewSeed
	// StateDone means no unclaimed read is left.
	StateDone
)

var stateNames = [...]string{"seed-pick", "forward-search", "left-search", "new-seed", "done"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// transitions[s][ok] is the state after s succeeds (ok=1) or fails (ok=0).
// A search succeeds when it places a read; NewSeed succeeds when it claims one.
var transitions = [...][2]State{
	StateSeedPick:      {StateNewSeed, StateForwardSearch},
	StateForwardSearch: {StateLeftSearch, StateForwardSearch},
	StateLeftSearch:    {StateNewSeed, StateLeftSearch},
	StateNewSeed:       {StateDone, StateSeedPick},
	StateDone:          {StateDone, StateDone},
}

// Next returns the state that follows s.
func (s State) Next(ok bool) State {
	if ok {
		return transitions[s][1]
	}
	return transitions[s][0]
}
