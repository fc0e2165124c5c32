package classifier

import (
	"fmt"
	"math"
)

// State of a single model slot.
//
//	Idle -> Requested -> {Succeeded, Unavailable, Empty, Failed}
//
// A new request moves a terminal slot back to Requested.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateSucceeded
	StateUnavailable
	StateEmpty
	StateFailed
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateRequested:   "requested",
	StateSucceeded:   "succeeded",
	StateUnavailable: "unavailable",
	StateEmpty:       "empty",
	StateFailed:      "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) Terminal() bool {
	return s >= StateSucceeded
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	TextUnavailable = "Model unavailable"
	TextNoResult    = "No result"
)

// Result is one model's outcome for one request.
type Result struct {
	Model      string  `json:"model"`
	State      State   `json:"state"`
	Label      string  `json:"label,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
	Err        string  `json:"error,omitempty"`
	Request    string  `json:"request,omitempty"`
}

// String renders the result the way it is shown to the user.
func (r Result) String() string {
	switch r.State {
	case StateSucceeded:
		return fmt.Sprintf("%s: %s (%.2f%%)", r.Model, r.Label, float64(r.Confidence)*100)
	case StateUnavailable:
		return TextUnavailable
	case StateEmpty:
		return TextNoResult
	case StateFailed:
		return fmt.Sprintf("%s: Error: %s", r.Model, r.Err)
	default:
		return ""
	}
}

// top returns the first prediction if it is well formed.
func top(preds []Prediction) (Prediction, bool) {
	if len(preds) == 0 {
		return Prediction{}, false
	}
	p := preds[0]
	c := float64(p.Confidence)
	if p.Label == "" || math.IsNaN(c) || c < 0 || c > 1 {
		return Prediction{}, false
	}
	return p, true
}
