package launch

import (
	"time"

	"github.com/distantorigin/craftlauncher/internal/download"
)

// State is the position of an instance in the launch lifecycle
type State string

const (
	Idle       State = "idle"
	Validating State = "validating"
	UpToDate   State = "up_to_date"
	Updating   State = "updating"
	Ready      State = "ready"
	Launching  State = "launching"
	Running    State = "running"
)

// allowed lists the legal successors of each state
var allowed = map[State][]State{
	Idle:       {Validating},
	Validating: {UpToDate, Updating, Ready, Idle},
	UpToDate:   {Ready, Idle},
	Updating:   {Validating, Idle},
	Ready:      {Launching, Idle},
	Launching:  {Running, Idle},
	Running:    {Idle},
}

// CanTransition reports whether moving from one state to another is legal
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is published for every state change
type Transition struct {
	InstanceID string    `json:"instance_id"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	Error      *Error    `json:"error,omitempty"`
	Cancelled  bool      `json:"cancelled,omitempty"`
	At         time.Time `json:"at"`
}

// Status is a snapshot of an instance's lifecycle
type Status struct {
	InstanceID string          `json:"instance_id"`
	State      State           `json:"state"`
	Error      *Error          `json:"error,omitempty"`
	Cancelled  bool            `json:"cancelled,omitempty"`
	Progress   *download.Event `json:"progress,omitempty"`
	Pid        int             `json:"pid,omitempty"`
}
