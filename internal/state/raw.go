package state

// Raw holds the last observed value of every physical channel.
//
// A missing key means the controller has never reported that channel.
// Inputs are true when pressed ("dn"), outputs are true when the relay is on.
type Raw struct {
	Inputs  map[string]bool `json:"inputs"`
	Outputs map[string]bool `json:"outputs"`
}

// NewRaw returns an empty Raw with both maps allocated.
func NewRaw() Raw {
	return Raw{
		Inputs:  make(map[string]bool),
		Outputs: make(map[string]bool),
	}
}

// Clone returns a deep copy of r.
func (r Raw) Clone() Raw {
	out := Raw{
		Inputs:  make(map[string]bool, len(r.Inputs)),
		Outputs: make(map[string]bool, len(r.Outputs)),
	}
	for k, v := range r.Inputs {
		out.Inputs[k] = v
	}
	for k, v := range r.Outputs {
		out.Outputs[k] = v
	}
	return out
}

// Merge returns a copy of r with every channel present in update applied.
// Channels absent from update keep their value from r.
func (r Raw) Merge(update Raw) Raw {
	out := r.Clone()
	for k, v := range update.Inputs {
		out.Inputs[k] = v
	}
	for k, v := range update.Outputs {
		out.Outputs[k] = v
	}
	return out
}

// Empty reports whether r carries no channel at all.
func (r Raw) Empty() bool {
	return len(r.Inputs) == 0 && len(r.Outputs) == 0
}

// Transition is one input channel whose value changed between two polls.
type Transition struct {
	Channel string
	From    bool
	To      bool
}

// Pressed reports whether the transition is released -> pressed (up -> dn).
func (t Transition) Pressed() bool {
	return !t.From && t.To
}

// InputTransitions returns the inputs whose value differs between previous
// and current, ordered by channel.
//
// An input missing from previous is treated as a baseline reading rather
// than a change, so the first successful poll never toggles anything.
func InputTransitions(previous, current Raw) []Transition {
	var changed []string
	for ch, now := range current.Inputs {
		before, known := previous.Inputs[ch]
		if known && before != now {
			changed = append(changed, ch)
		}
	}
	SortChannels(changed)

	out := make([]Transition, 0, len(changed))
	for _, ch := range changed {
		out = append(out, Transition{
			Channel: ch,
			From:    previous.Inputs[ch],
			To:      current.Inputs[ch],
		})
	}
	return out
}
