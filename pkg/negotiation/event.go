package negotiation

import (
	"fmt"
	"strings"
)

// Action is a maturity transition requested within a turn.
type Action uint8

const (
	ActionAccept Action = iota
	ActionReview
	ActionPropose
	ActionDiscuss
)

// NumActions is the number of actions the mask can carry.
const NumActions = 4

// Actions lists every action, lowest bit offset first.
var Actions = [NumActions]Action{ActionAccept, ActionReview, ActionPropose, ActionDiscuss}

// Offset returns the bit offset of the action's nibble inside a mask.
func (a Action) Offset() uint {
	switch a {
	case ActionAccept:
		return 0
	case ActionReview:
		return 4
	case ActionPropose:
		return 8
	case ActionDiscuss:
		return 16
	}
	panic(fmt.Sprintf("negotiation: invalid action %d", uint8(a)))
}

// Target returns the maturity the action moves an element to.
func (a Action) Target() Maturity {
	switch a {
	case ActionDiscuss:
		return Discussion
	case ActionPropose:
		return Proposed
	case ActionReview:
		return Reviewed
	case ActionAccept:
		return Accepted
	}
	return None
}

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionReview:
		return "review"
	case ActionPropose:
		return "propose"
	case ActionDiscuss:
		return "discuss"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// ParseAction parses an action name as produced by String.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if strings.EqualFold(s, a.String()) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Mask is the integer wire form of an event set.
type Mask uint32

const nibble Mask = 0xF

// knownBits covers the four action nibbles.
var knownBits = func() Mask {
	var m Mask
	for _, a := range Actions {
		m |= nibble << a.Offset()
	}
	return m
}()

// Event is a single (action, element) request.
type Event struct {
	Action  Action
	Element Element
}

func (e Event) String() string { return e.Action.String() + ":" + e.Element.String() }

// Mask encodes the single event. An unknown action or element encodes to 0.
func (e Event) Mask() Mask {
	if int(e.Action) >= NumActions || !e.Element.Valid() {
		return 0
	}
	return Mask(e.Element) << e.Action.Offset()
}

// EventSet is the decoded, tagged form of a mask. The zero value is empty and
// sets are comparable with ==.
type EventSet struct {
	set [NumActions][NumElements]bool
}

// NewEventSet builds a set from individual events.
func NewEventSet(events ...Event) EventSet {
	var s EventSet
	for _, e := range events {
		s.Add(e)
	}
	return s
}

// Add inserts an event. Unknown actions or elements are ignored.
func (s *EventSet) Add(e Event) {
	if int(e.Action) >= NumActions || !e.Element.Valid() {
		return
	}
	s.set[e.Action][e.Element.Index()] = true
}

// Has reports whether the event is in the set.
func (s EventSet) Has(e Event) bool {
	if int(e.Action) >= NumActions || !e.Element.Valid() {
		return false
	}
	return s.set[e.Action][e.Element.Index()]
}

// Len returns the number of events in the set.
func (s EventSet) Len() int {
	n := 0
	for _, a := range Actions {
		for i := range Elements {
			if s.set[a][i] {
				n++
			}
		}
	}
	return n
}

// Events lists the set in element order, then action order.
func (s EventSet) Events() []Event {
	var out []Event
	for i, e := range Elements {
		for _, a := range Actions {
			if s.set[a][i] {
				out = append(out, Event{Action: a, Element: e})
			}
		}
	}
	return out
}

// ForElement returns the actions requested on a single element.
func (s EventSet) ForElement(e Element) []Action {
	if !e.Valid() {
		return nil
	}
	var out []Action
	for _, a := range Actions {
		if s.set[a][e.Index()] {
			out = append(out, a)
		}
	}
	return out
}

// Mask encodes the set.
func (s EventSet) Mask() Mask {
	var m Mask
	for _, e := range s.Events() {
		m |= e.Mask()
	}
	return m
}

func (s EventSet) String() string {
	events := s.Events()
	parts := make([]string, len(events))
	for i, e := range events {
		parts[i] = e.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Encode ORs the encodings of the given events.
func Encode(events ...Event) Mask {
	var m Mask
	for _, e := range events {
		m |= e.Mask()
	}
	return m
}

// Decode unpacks a mask. Bits outside the four action nibbles are returned
// unchanged in unknown; Decode itself never judges legality.
func Decode(m Mask) (set EventSet, unknown Mask) {
	for _, a := range Actions {
		bits := (m >> a.Offset()) & nibble
		for _, e := range Elements {
			if bits&Mask(e) != 0 {
				set.Add(Event{Action: a, Element: e})
			}
		}
	}
	return set, m &^ knownBits
}
