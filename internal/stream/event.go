package stream

// Kind is the wire name of an event
type Kind string

const (
	KindSilent    Kind = "silent"
	KindStart     Kind = "start"
	KindWord      Kind = "word"
	KindEnd       Kind = "end"
	KindCancelled Kind = "cancelled"
	KindError     Kind = "error"
)

// ErrorCodeDeliveryFailed is the only code a consumer ever sees
const ErrorCodeDeliveryFailed = "delivery_failed"

// Event is one signal sent to a consumer. The set of implementations is
// closed; switch on the concrete type.
type Event interface {
	Kind() Kind
	event()
}

// Silent means nothing will be delivered for the turn
type Silent struct {
	TurnID string `json:"turn_id"`
}

// Start opens a delivery
type Start struct {
	TurnID   string `json:"turn_id"`
	DelayMs  int64  `json:"delay_ms"`
	AudioURL string `json:"audio_url,omitempty"`
}

// Word carries one unit of text. Concatenating every Text of a turn gives
// the message back exactly.
type Word struct {
	TurnID string `json:"turn_id"`
	Index  int    `json:"index"`
	Text   string `json:"text"`
}

// End closes a completed delivery
type End struct {
	TurnID string `json:"turn_id"`
	Words  int    `json:"words"`
}

// Cancelled closes a delivery that was stopped early
type Cancelled struct {
	TurnID string `json:"turn_id"`
	Reason string `json:"reason"`
}

// Error closes a delivery that failed. It never carries internal detail.
type Error struct {
	TurnID string `json:"turn_id"`
	Code   string `json:"code"`
}

func (Silent) Kind() Kind    { return KindSilent }
func (Start) Kind() Kind     { return KindStart }
func (Word) Kind() Kind      { return KindWord }
func (End) Kind() Kind       { return KindEnd }
func (Cancelled) Kind() Kind { return KindCancelled }
func (Error) Kind() Kind     { return KindError }

func (Silent) event()    {}
func (Start) event()     {}
func (Word) event()      {}
func (End) event()       {}
func (Cancelled) event() {}
func (Error) event()     {}

// Terminal reports whether no event can follow e in the same turn
func Terminal(e Event) bool {
	switch e.(type) {
	case Silent, End, Cancelled, Error:
		return true
	}
	return false
}
