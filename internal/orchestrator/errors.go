package orchestrator

import "fmt"

// InvalidStateError rejects a lifecycle transition that is illegal in the
// project's current state. The project is left untouched.
type InvalidStateError struct {
	ProjectID string
	Action    Action
	Reason    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s project %s: %s", e.Action, e.ProjectID, e.Reason)
}
