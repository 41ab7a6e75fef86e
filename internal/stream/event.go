package stream

import "fmt"

// Kind tags a lifecycle event.
type Kind int

const (
	KindStart Kind = iota
	KindToken
	KindComplete
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindToken:
		return "token"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is one lifecycle notification of a call.
// Text holds the fragment for KindToken, the full response for KindComplete
// and the failure reason for KindError.
type Event struct {
	Kind Kind
	Text string
}

// Terminal reports whether the event ends the call.
func (e Event) Terminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}

// Handler consumes lifecycle events. It always runs on the coordinator's executor.
type Handler func(Event)
