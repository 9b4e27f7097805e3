package services

// Status represents the lifecycle status of a service instance
type Status string

const (
	StatusStopped  Status = "Stopped"
	StatusStarting Status = "Starting"
	StatusRunning  Status = "Running"
	StatusStopping Status = "Stopping"
)

// transitions lists every legal status change.
var transitions = map[Status][]Status{
	StatusStopped:  {StatusStarting},
	StatusStarting: {StatusRunning, StatusStopped},
	StatusRunning:  {StatusStopping, StatusStopped},
	StatusStopping: {StatusStopped},
}

// CanTransition reports whether a change from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateChangeCallback is called when an instance's status changes
type StateChangeCallback func(name string, oldStatus, newStatus Status, err error)
