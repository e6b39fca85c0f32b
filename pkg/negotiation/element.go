// Package negotiation implements the bilateral negotiation state machine:
// the record, the event mask codec and the transition engine.
package negotiation

import (
	"fmt"
	"strings"
)

// Element is one of the four independently negotiated facets.
// The numeric value is the element's weight inside an event nibble.
type Element uint8

const (
	Stake      Element = 1
	Parameters Element = 2
	Protocol   Element = 4
	Term       Element = 8
)

// NumElements is the number of negotiable elements.
const NumElements = 4

// Elements lists every element in processing order (low to high weight).
var Elements = [NumElements]Element{Stake, Parameters, Protocol, Term}

// Index returns the element's slot in a record's element array.
func (e Element) Index() int {
	switch e {
	case Stake:
		return 0
	case Parameters:
		return 1
	case Protocol:
		return 2
	case Term:
		return 3
	}
	return -1
}

// Valid reports whether e is one of the four known elements.
func (e Element) Valid() bool { return e.Index() >= 0 }

func (e Element) String() string {
	switch e {
	case Stake:
		return "stake"
	case Parameters:
		return "parameters"
	case Protocol:
		return "protocol"
	case Term:
		return "term"
	}
	return fmt.Sprintf("element(%d)", uint8(e))
}

// ParseElement parses an element name as produced by String.
func ParseElement(s string) (Element, error) {
	for _, e := range Elements {
		if strings.EqualFold(s, e.String()) {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown element %q", s)
}

// MarshalText encodes the element by name.
func (e Element) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("invalid element %d", uint8(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText decodes an element name.
func (e *Element) UnmarshalText(b []byte) error {
	parsed, err := ParseElement(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
