package catalog

// validTransitions defines allowed state transitions.
// Key is the "from" state, value is list of valid "to" states.
var validTransitions = map[State][]State{
	StateSnatched:  {StateSeeding, StateProcessed, StateFailed, StateAborted},
	StateSeeding:   {StateProcessed},
	StateAborted:   {StateFailed},
	StateProcessed: {}, // terminal for the pipeline
	StateFailed:    {}, // terminal for the pipeline
}

// CanTransitionTo returns true if transitioning from s to target is valid.
func (s State) CanTransitionTo(target State) bool {
	valid, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, v := range valid {
		if v == target {
			return true
		}
	}
	return false
}

// Terminal returns true if the pipeline never revisits this state.
func (s State) Terminal() bool {
	return s == StateProcessed || s == StateFailed
}

// Outstanding returns true if a controller pass should revisit this state.
func (s State) Outstanding() bool {
	return s == StateSnatched || s == StateSeeding || s == StateAborted
}
