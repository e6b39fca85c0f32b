package negotiation

import "fmt"

// Proposal is one party's submission for a turn. Nil fields leave the
// element untouched.
type Proposal struct {
	Protocol    *Identity `json:"protocol,omitempty"`
	Term        *Identity `json:"term,omitempty"`
	Parameters  Value     `json:"parameters,omitempty"`
	Stake       *int64    `json:"stake_amount,omitempty"`
	Events      Mask      `json:"event_mask"`
	AltProtocol *Identity `json:"alt_protocol,omitempty"`
	AltTerm     *Identity `json:"alt_term,omitempty"`
}

// values returns the canonical value supplied for each element, indexed like
// Record.Elements. Unsupplied elements are nil.
func (p Proposal) values() ([NumElements]Value, error) {
	var out [NumElements]Value

	if p.Stake != nil {
		if *p.Stake < 0 {
			return out, elementError(ErrInvalidValue, Stake, fmt.Sprintf("negative amount %d", *p.Stake))
		}
		out[Stake.Index()] = StakeValue(uint64(*p.Stake))
	}
	if p.Parameters.IsSet() {
		if len(p.Parameters) != ParametersSize {
			return out, elementError(ErrInvalidValue, Parameters,
				fmt.Sprintf("want %d bytes, got %d", ParametersSize, len(p.Parameters)))
		}
		out[Parameters.Index()] = p.Parameters.clone()
	}
	if p.Protocol != nil {
		if p.Protocol.IsZero() {
			return out, elementError(ErrInvalidValue, Protocol, "zero identifier")
		}
		out[Protocol.Index()] = IdentityValue(*p.Protocol)
	}
	if p.Term != nil {
		if p.Term.IsZero() {
			return out, elementError(ErrInvalidValue, Term, "zero identifier")
		}
		out[Term.Index()] = IdentityValue(*p.Term)
	}
	return out, nil
}

func (p Proposal) alternates() (protocol, term *Identity, err error) {
	if p.AltProtocol != nil && p.AltProtocol.IsZero() {
		return nil, nil, elementError(ErrInvalidValue, Protocol, "zero alternate")
	}
	if p.AltTerm != nil && p.AltTerm.IsZero() {
		return nil, nil, elementError(ErrInvalidValue, Term, "zero alternate")
	}
	return p.AltProtocol, p.AltTerm, nil
}

// WithStake returns a pointer suitable for Proposal.Stake.
func WithStake(amount int64) *int64 { return &amount }

// WithIdentity returns a pointer suitable for the identifier fields.
func WithIdentity(id Identity) *Identity { return &id }
