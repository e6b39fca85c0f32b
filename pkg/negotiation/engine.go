package negotiation

import "fmt"

// Propose applies proposal p submitted by caller to rec and returns the next
// record. It is pure: on error the returned record is rec itself and nothing
// derived from rec has been mutated.
//
// Checks run in a fixed order so that each rejection is attributable:
// closed record, turn ownership, value shapes, mask legality, counterpart
// confirmation. Value updates are staged before actions are judged, which is
// what allows a value and its first action to arrive in the same turn.
func Propose(rec Record, caller Identity, p Proposal) (Record, error) {
	if rec.Complete {
		return rec, ErrNegotiationClosed
	}
	party := rec.PartyOf(caller)
	if party == 0 || party != TurnOwner(rec.Turn) {
		return rec, ErrWrongTurn
	}

	values, err := p.values()
	if err != nil {
		return rec, err
	}
	altProtocol, altTerm, err := p.alternates()
	if err != nil {
		return rec, err
	}

	events, unknown := Decode(p.Events)
	if unknown != 0 {
		return rec, &TransitionError{
			Reason: fmt.Sprintf("unknown event bits %#x", uint32(unknown)),
			Err:    ErrIllegalTransition,
		}
	}

	next := rec.Clone()

	var changed [NumElements]bool
	for _, e := range Elements {
		v := values[e.Index()]
		if v == nil {
			continue
		}
		st := next.element(e)
		if v.Equal(st.Value) {
			st.endorse(party)
			continue
		}
		if st.Maturity == Accepted {
			return rec, elementError(ErrIllegalTransition, e, "accepted value is immutable")
		}
		st.Value = v
		st.Author = party
		st.Endorsed = [2]bool{}
		st.endorse(party)
		changed[e.Index()] = true
		if st.Maturity < Discussion {
			st.Maturity = Discussion
			st.By = party
		}
	}

	var requested [NumElements]*Action
	for _, e := range Elements {
		actions := events.ForElement(e)
		switch len(actions) {
		case 0:
			continue
		case 1:
		default:
			return rec, elementError(ErrIllegalTransition, e, "more than one action in a turn")
		}
		a := actions[0]
		if err := checkAdvance(rec.Element(e), next.Element(e), a, changed[e.Index()]); err != nil {
			return rec, err
		}
		requested[e.Index()] = &a
	}

	for _, e := range Elements {
		a := requested[e.Index()]
		if a == nil || *a != ActionAccept {
			continue
		}
		st := next.Element(e)
		if st.Maturity == Accepted {
			continue
		}
		if !st.Value.IsSet() {
			return rec, actionError(ErrUnconfirmedAccept, e, ActionAccept, "no value to accept")
		}
		if !st.EndorsedBy(party.Other()) {
			return rec, actionError(ErrUnconfirmedAccept, e, ActionAccept, "value not submitted by the other party")
		}
	}

	for _, e := range Elements {
		a := requested[e.Index()]
		if a == nil {
			continue
		}
		st := next.element(e)
		if st.Maturity != a.Target() {
			st.Maturity = a.Target()
			st.By = party
		}
	}

	next.AltProtocol = alternate(altProtocol, party)
	next.AltTerm = alternate(altTerm, party)
	next.Turn++
	next.Complete = next.allAccepted()
	return next, nil
}

// checkAdvance decides whether action a may move an element whose state was
// prior at the start of the turn and staged after this turn's value updates.
func checkAdvance(prior, staged ElementState, a Action, changed bool) error {
	e := staged.Element
	if staged.Maturity == Accepted {
		if a == ActionAccept {
			return nil
		}
		return actionError(ErrIllegalTransition, e, a, "element already accepted")
	}

	switch a {
	case ActionDiscuss:
		if !staged.Value.IsSet() {
			return actionError(ErrIllegalTransition, e, a, "nothing to discuss")
		}
		if prior.Maturity == None || (prior.Maturity == Discussion && changed) {
			return nil
		}
	case ActionPropose:
		if staged.Maturity == Discussion && staged.Value.IsSet() {
			return nil
		}
	case ActionReview:
		if staged.Maturity == Proposed {
			return nil
		}
	case ActionAccept:
		// Accept closes the ladder from any open rung; the value check
		// happens in the confirmation pass.
		return nil
	}
	return actionError(ErrIllegalTransition, e, a, fmt.Sprintf("cannot %s from %s", a, staged.Maturity))
}

func alternate(id *Identity, by Party) *Alternate {
	if id == nil {
		return nil
	}
	return &Alternate{Value: *id, By: by}
}
