package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

func freshRecord(t *testing.T) negotiation.Record {
	t.Helper()
	rec, err := negotiation.Setup(
		negotiation.MustIdentity("a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1"),
		negotiation.MustIdentity("b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2"),
	)
	require.NoError(t, err)
	return rec
}

func TestEvaluator_StakeCap(t *testing.T) {
	ev, err := NewEvaluator([]Rule{
		{Name: "stake-cap", Expr: `!has(proposal.stake) || proposal.stake <= 1000`},
	})
	require.NoError(t, err)
	ctx := context.Background()
	rec := freshRecord(t)

	assert.NoError(t, ev.Admit(ctx, rec, negotiation.Initiator, negotiation.Proposal{}))
	assert.NoError(t, ev.Admit(ctx, rec, negotiation.Initiator, negotiation.Proposal{Stake: negotiation.WithStake(1000)}))

	err = ev.Admit(ctx, rec, negotiation.Initiator, negotiation.Proposal{Stake: negotiation.WithStake(1001)})
	assert.ErrorIs(t, err, ErrDenied)
	assert.Contains(t, err.Error(), "stake-cap")
}

func TestEvaluator_RecordAndEvents(t *testing.T) {
	ev, err := NewEvaluator([]Rule{
		{Name: "no-early-accept", Expr: `record.turn > 2 || !proposal.events.exists(e, e.startsWith("accept:"))`},
		{Name: "initiator-opens", Expr: `record.turn != 1 || party == "initiator"`},
	})
	require.NoError(t, err)
	ctx := context.Background()
	rec := freshRecord(t)

	accept := negotiation.Proposal{Events: negotiation.Encode(negotiation.Event{Action: negotiation.ActionAccept, Element: negotiation.Term})}
	assert.ErrorIs(t, ev.Admit(ctx, rec, negotiation.Initiator, accept), ErrDenied)

	propose := negotiation.Proposal{Events: negotiation.Encode(negotiation.Event{Action: negotiation.ActionPropose, Element: negotiation.Term})}
	assert.NoError(t, ev.Admit(ctx, rec, negotiation.Initiator, propose))

	rec.Turn = 3
	assert.NoError(t, ev.Admit(ctx, rec, negotiation.Initiator, accept))
}

func TestEvaluator_FailClosed(t *testing.T) {
	ctx := context.Background()
	rec := freshRecord(t)

	ev, err := NewEvaluator([]Rule{{Name: "missing-key", Expr: `proposal.stake > 0`}})
	require.NoError(t, err)
	assert.ErrorIs(t, ev.Admit(ctx, rec, negotiation.Initiator, negotiation.Proposal{}), ErrDenied)

	ev, err = NewEvaluator([]Rule{{Name: "not-bool", Expr: `record.turn`}})
	require.NoError(t, err)
	assert.ErrorIs(t, ev.Admit(ctx, rec, negotiation.Initiator, negotiation.Proposal{}), ErrDenied)
}

func TestNewEvaluator_RejectsBadRules(t *testing.T) {
	_, err := NewEvaluator([]Rule{{Name: "syntax", Expr: `proposal.stake <=`}})
	assert.Error(t, err)

	_, err = NewEvaluator([]Rule{{Name: "empty"}})
	assert.Error(t, err)
}

func TestEvaluator_NoRulesAdmitsEverything(t *testing.T) {
	var nilEval *Evaluator
	assert.NoError(t, nilEval.Admit(context.Background(), freshRecord(t), negotiation.Initiator, negotiation.Proposal{}))

	ev, err := NewEvaluator(nil)
	require.NoError(t, err)
	assert.NoError(t, ev.Admit(context.Background(), freshRecord(t), negotiation.Counterparty, negotiation.Proposal{}))
	assert.Empty(t, ev.Rules())
}
