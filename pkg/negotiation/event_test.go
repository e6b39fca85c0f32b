package negotiation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_SinglePairs(t *testing.T) {
	tests := []struct {
		action  Action
		element Element
		want    Mask
	}{
		{ActionDiscuss, Term, 8 << 16},
		{ActionPropose, Protocol, 4 << 8},
		{ActionReview, Parameters, 2 << 4},
		{ActionAccept, Stake, 1},
		{ActionAccept, Term, 8},
		{ActionDiscuss, Stake, 1 << 16},
	}
	for _, tt := range tests {
		t.Run(tt.action.String()+"_"+tt.element.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(Event{tt.action, tt.element}))
		})
	}
}

func TestEncode_CombinesWithOr(t *testing.T) {
	m := Encode(Event{ActionAccept, Protocol}, Event{ActionPropose, Stake})
	assert.Equal(t, Mask(4|1<<8), m)

	set, unknown := Decode(m)
	assert.Zero(t, unknown)
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Has(Event{ActionAccept, Protocol}))
	assert.True(t, set.Has(Event{ActionPropose, Stake}))
	assert.False(t, set.Has(Event{ActionAccept, Stake}))
}

func TestDecode_MultipleElementsInOneNibble(t *testing.T) {
	set, unknown := Decode(Mask(8 | 4 | 2 | 1))
	require.Zero(t, unknown)
	assert.Equal(t, 4, set.Len())
	for _, e := range Elements {
		assert.Equal(t, []Action{ActionAccept}, set.ForElement(e))
	}
}

func TestDecode_ReportsUnknownBits(t *testing.T) {
	// Bits 12-15 sit between the propose and discuss nibbles.
	m := Encode(Event{ActionReview, Term}) | 1<<12 | 1<<24
	set, unknown := Decode(m)
	assert.Equal(t, Mask(1<<12|1<<24), unknown)
	assert.Equal(t, NewEventSet(Event{ActionReview, Term}), set)
}

func TestDecode_EmptyMask(t *testing.T) {
	set, unknown := Decode(0)
	assert.Zero(t, unknown)
	assert.Zero(t, set.Len())
	assert.Equal(t, EventSet{}, set)
}

func TestEventSet_EventsAreOrdered(t *testing.T) {
	set := NewEventSet(
		Event{ActionDiscuss, Term},
		Event{ActionAccept, Stake},
		Event{ActionPropose, Protocol},
		Event{ActionReview, Stake},
	)
	assert.Equal(t, []Event{
		{ActionAccept, Stake},
		{ActionReview, Stake},
		{ActionPropose, Protocol},
		{ActionDiscuss, Term},
	}, set.Events())
	assert.Equal(t, "{accept:stake,review:stake,propose:protocol,discuss:term}", set.String())
}

func TestEventSet_IgnoresUnknownPairs(t *testing.T) {
	var s EventSet
	s.Add(Event{Action(9), Term})
	s.Add(Event{ActionAccept, Element(3)})
	assert.Zero(t, s.Len())
	assert.False(t, s.Has(Event{Action(9), Term}))
}

func TestParseActionAndElement(t *testing.T) {
	a, err := ParseAction("Propose")
	require.NoError(t, err)
	assert.Equal(t, ActionPropose, a)

	e, err := ParseElement("PARAMETERS")
	require.NoError(t, err)
	assert.Equal(t, Parameters, e)

	_, err = ParseAction("decline")
	assert.Error(t, err)
	_, err = ParseElement("nft")
	assert.Error(t, err)
}

func TestEncode_UnknownPairsEncodeToZero(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.Zero(t, Event{Action(9), Term}.Mask())
		assert.Zero(t, Event{ActionAccept, Element(3)}.Mask())
	})
	m := Encode(Event{Action(7), Stake}, Event{ActionReview, Term})
	assert.Equal(t, Encode(Event{ActionReview, Term}), m)
	assert.Equal(t, NewEventSet(Event{Action(7), Stake}).Mask(), Mask(0))
}
