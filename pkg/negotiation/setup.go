package negotiation

// Setup creates a fresh record between two distinct parties. The initiator
// acts on turn 1.
func Setup(initiator, counterparty Identity) (Record, error) {
	if initiator.IsZero() || counterparty.IsZero() || initiator == counterparty {
		return Record{}, ErrInvalidParties
	}
	rec := Record{
		Version: RecordVersion,
		Parties: [2]Identity{initiator, counterparty},
		Turn:    1,
	}
	for _, e := range Elements {
		rec.element(e).Element = e
	}
	return rec, nil
}
