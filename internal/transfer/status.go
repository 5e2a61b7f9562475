package transfer

// Status is the lifecycle state of a transfer item. It only moves forward;
// Retry builds a new batch instead of rewinding items.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConverting Status = "converting"
	StatusCopying    Status = "copying"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConverting, StatusCopying, StatusFailed},
	StatusConverting: {StatusDone, StatusFailed},
	StatusCopying:    {StatusDone, StatusFailed},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanAdvance reports whether from → to is a legal forward transition.
func CanAdvance(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a status string read from the journal.
func ParseStatus(value string) (Status, bool) {
	s := Status(value)
	switch s {
	case StatusPending, StatusConverting, StatusCopying, StatusDone, StatusFailed:
		return s, true
	}
	return "", false
}
