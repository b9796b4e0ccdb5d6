package filing

import "fmt"

// Status is a document's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDownloaded Status = "downloaded"
	StatusParsed     Status = "parsed"
	StatusChunked    Status = "chunked"
	StatusIndexed    Status = "indexed"
	StatusFailed     Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending, StatusDownloaded, StatusParsed, StatusChunked, StatusIndexed, StatusFailed,
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

// Terminal reports whether no further stage runs from s.
func (s Status) Terminal() bool {
	return s == StatusIndexed || s == StatusFailed
}

// Event is a stage outcome fed to Next.
type Event string

const (
	EventDownloaded Event = "downloaded"
	EventParsed     Event = "parsed"
	EventChunked    Event = "chunked"
	EventIndexed    Event = "indexed"
	EventFailed     Event = "failed"
	EventReset      Event = "reset"
)

var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventDownloaded: StatusDownloaded,
		EventFailed:     StatusFailed,
		EventReset:      StatusPending,
	},
	StatusDownloaded: {
		EventParsed: StatusParsed,
		EventFailed: StatusFailed,
		EventReset:  StatusPending,
	},
	StatusParsed: {
		EventChunked: StatusChunked,
		EventFailed:  StatusFailed,
		EventReset:   StatusPending,
	},
	StatusChunked: {
		EventIndexed: StatusIndexed,
		EventFailed:  StatusFailed,
		EventReset:   StatusPending,
	},
	StatusIndexed: {
		EventReset: StatusPending,
	},
	StatusFailed: {
		EventReset: StatusPending,
	},
}

// Next returns the status reached from current on ev. It has no side
// effects; the registry applies the result inside a store transaction.
func Next(current Status, ev Event) (Status, error) {
	next, ok := transitions[current][ev]
	if !ok {
		return current, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, current)
	}
	return next, nil
}
