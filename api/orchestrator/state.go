package orchestrator

import "fmt"

type State string

const (
	Idle           State = "idle"
	Provisioning   State = "provisioning"
	HealthChecking State = "health_checking"
	Switching      State = "switching"
	Aborting       State = "aborting"
)

// Idle -> Aborting covers a registry that cannot be read before a target
// is chosen.
var transitions = map[State][]State{
	Idle:           {Provisioning, Aborting},
	Provisioning:   {HealthChecking, Aborting},
	HealthChecking: {Switching, Aborting},
	Switching:      {Idle, Aborting},
	Aborting:       {Idle},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// mustTransition panics on an edge outside the table. Reaching it is a bug
// in this package, not a runtime condition.
func mustTransition(from, to State) {
	if !canTransition(from, to) {
		panic(fmt.Sprintf("orchestrator: illegal transition %s -> %s", from, to))
	}
}
