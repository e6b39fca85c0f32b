package negotiation

import "fmt"

// RecordVersion is the layout version stamped on new records.
const RecordVersion = 1

// Party identifies one side of the negotiation. The zero value means no party.
type Party uint8

const (
	Initiator    Party = 1
	Counterparty Party = 2
)

func (p Party) index() int { return int(p) - 1 }

// Other returns the opposite party.
func (p Party) Other() Party {
	switch p {
	case Initiator:
		return Counterparty
	case Counterparty:
		return Initiator
	}
	return 0
}

func (p Party) String() string {
	switch p {
	case Initiator:
		return "initiator"
	case Counterparty:
		return "counterparty"
	}
	return ""
}

// MarshalText encodes the party by role name.
func (p Party) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes a role name.
func (p *Party) UnmarshalText(b []byte) error {
	switch string(b) {
	case "initiator":
		*p = Initiator
	case "counterparty":
		*p = Counterparty
	case "":
		*p = 0
	default:
		return fmt.Errorf("unknown party %q", string(b))
	}
	return nil
}

// TurnOwner returns the party authorized to act at the given turn: the
// initiator on odd turns, the counterparty on even turns.
func TurnOwner(turn uint64) Party {
	if turn == 0 {
		return 0
	}
	if turn%2 == 1 {
		return Initiator
	}
	return Counterparty
}

// State is the coarse control state of a negotiation.
type State string

const (
	StateOpen   State = "OPEN"
	StateClosed State = "CLOSED"
)

// ElementState is the negotiated state of a single element.
type ElementState struct {
	Element  Element  `json:"element"`
	Value    Value    `json:"value,omitempty"`
	Maturity Maturity `json:"maturity"`
	// By is the party that performed the last maturity change.
	By Party `json:"by,omitempty"`
	// Author is the party that last changed the value.
	Author Party `json:"author,omitempty"`
	// Endorsed records which parties have submitted the current value,
	// indexed initiator first.
	Endorsed [2]bool `json:"endorsed"`
}

// EndorsedBy reports whether p has submitted the current value.
func (s ElementState) EndorsedBy(p Party) bool {
	i := p.index()
	if i < 0 || i > 1 {
		return false
	}
	return s.Endorsed[i]
}

func (s *ElementState) endorse(p Party) {
	if i := p.index(); i == 0 || i == 1 {
		s.Endorsed[i] = true
	}
}

// Alternate is an advisory counter-offer recorded with the turn that made it.
type Alternate struct {
	Value Identity `json:"value"`
	By    Party    `json:"by"`
}

// Record is the persisted state of one negotiation.
type Record struct {
	Version     uint8                     `json:"version"`
	Parties     [2]Identity               `json:"parties"`
	Turn        uint64                    `json:"turn"`
	Elements    [NumElements]ElementState `json:"elements"`
	AltProtocol *Alternate                `json:"alt_protocol,omitempty"`
	AltTerm     *Alternate                `json:"alt_term,omitempty"`
	Complete    bool                      `json:"is_complete"`
}

// Initiator returns the initiator's identity.
func (r Record) Initiator() Identity { return r.Parties[0] }

// Counterparty returns the counterparty's identity.
func (r Record) Counterparty() Identity { return r.Parties[1] }

// Identity returns the identity playing party p.
func (r Record) Identity(p Party) (Identity, bool) {
	i := p.index()
	if i < 0 || i > 1 {
		return Identity{}, false
	}
	return r.Parties[i], true
}

// PartyOf returns the role of id, or zero if id is not a party.
func (r Record) PartyOf(id Identity) Party {
	switch id {
	case r.Parties[0]:
		return Initiator
	case r.Parties[1]:
		return Counterparty
	}
	return 0
}

// Owner returns the identity authorized to submit the next proposal.
func (r Record) Owner() Identity {
	id, _ := r.Identity(TurnOwner(r.Turn))
	return id
}

// State returns the coarse control state.
func (r Record) State() State {
	if r.Complete {
		return StateClosed
	}
	return StateOpen
}

// Element returns the state of a single element.
func (r Record) Element(e Element) ElementState {
	return r.Elements[e.Index()]
}

func (r *Record) element(e Element) *ElementState {
	return &r.Elements[e.Index()]
}

func (r Record) allAccepted() bool {
	for _, s := range r.Elements {
		if s.Maturity != Accepted {
			return false
		}
	}
	return true
}

// Clone returns a deep copy that shares no mutable memory with r.
func (r Record) Clone() Record {
	out := r
	for i := range out.Elements {
		out.Elements[i].Value = r.Elements[i].Value.clone()
	}
	if r.AltProtocol != nil {
		alt := *r.AltProtocol
		out.AltProtocol = &alt
	}
	if r.AltTerm != nil {
		alt := *r.AltTerm
		out.AltTerm = &alt
	}
	return out
}
