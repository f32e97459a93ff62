package policy

import "fmt"

// Action is what the voice does in response to an utterance
type Action int

const (
	ActionObserve Action = iota
	ActionSpeak
	ActionEncourage
)

func (a Action) String() string {
	switch a {
	case ActionObserve:
		return "observe"
	case ActionSpeak:
		return "speak"
	case ActionEncourage:
		return "encourage"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Speaks reports whether the action produces a message
func (a Action) Speaks() bool {
	return a == ActionSpeak || a == ActionEncourage
}
