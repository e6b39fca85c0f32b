package negotiation

import "fmt"

// Maturity is an element's position on the negotiation ladder.
// The ordering None < Discussion < Proposed < Reviewed < Accepted is total.
type Maturity uint8

const (
	None Maturity = iota
	Discussion
	Proposed
	Reviewed
	Accepted
)

var maturityNames = [...]string{"none", "discussion", "proposed", "reviewed", "accepted"}

func (m Maturity) String() string {
	if int(m) < len(maturityNames) {
		return maturityNames[m]
	}
	return fmt.Sprintf("maturity(%d)", uint8(m))
}

// Open reports whether the element can still change.
func (m Maturity) Open() bool { return m != Accepted }

// MarshalText encodes the maturity by name.
func (m Maturity) MarshalText() ([]byte, error) {
	if int(m) >= len(maturityNames) {
		return nil, fmt.Errorf("invalid maturity %d", uint8(m))
	}
	return []byte(maturityNames[m]), nil
}

// UnmarshalText decodes a maturity name.
func (m *Maturity) UnmarshalText(b []byte) error {
	for i, name := range maturityNames {
		if string(b) == name {
			*m = Maturity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown maturity %q", string(b))
}
