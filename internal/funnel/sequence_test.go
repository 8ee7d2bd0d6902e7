package funnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepNames(steps []Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Name())
	}
	return out
}

func TestSequenceSkipsDisabledUpsells(t *testing.T) {
	seq := NewSequence(fixtureProduct())
	assert.Equal(t, []string{"checkout", "upsell_1", "upsell_2", "downsell", "thank_you"}, stepNames(seq.Steps()))
	assert.Equal(t, 3, seq.TotalSteps())

	second, ok := seq.Lookup(StepUpsell, 2)
	require.True(t, ok)
	assert.Equal(t, "up-3", second.Offer.ID)
	assert.Equal(t, 2, seq.Position(second))
}

func TestSequenceWithoutOffers(t *testing.T) {
	p := fixtureProduct()
	p.Upsells = nil
	p.Downsell = nil
	seq := NewSequence(p)

	next, err := seq.Transition(Step{Kind: StepCheckout}, ActionComplete)
	require.NoError(t, err)
	assert.Equal(t, StepThankYou, next.Kind)
	assert.Zero(t, seq.TotalSteps())
}

func TestSequenceTransitions(t *testing.T) {
	seq := NewSequence(fixtureProduct())
	up1, _ := seq.Lookup(StepUpsell, 1)
	down, _ := seq.Lookup(StepDownsell, 0)

	cases := []struct {
		from   Step
		action Action
		want   string
	}{
		{Step{Kind: StepCheckout}, ActionComplete, "upsell_1"},
		{up1, ActionAccept, "upsell_2"},
		{up1, ActionDecline, "upsell_2"},
		{up1, ActionAbandon, "thank_you"},
		{down, ActionAccept, "thank_you"},
		{down, ActionDecline, "thank_you"},
	}
	for _, tc := range cases {
		got, err := seq.Transition(tc.from, tc.action)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Name(), "%s + %s", tc.from.Name(), tc.action)
	}
}

func TestSequenceRejectsIllegalTransitions(t *testing.T) {
	seq := NewSequence(fixtureProduct())
	_, err := seq.Transition(seq.ThankYou(), ActionAccept)
	assert.Error(t, err)
	_, err = seq.Transition(Step{Kind: StepCheckout}, ActionAccept)
	assert.Error(t, err)
}

func TestSequenceFollowing(t *testing.T) {
	seq := NewSequence(fixtureProduct())
	assert.Equal(t, "upsell_2", seq.Following(StepUpsell, 1).Name())
	assert.Equal(t, "downsell", seq.Following(StepUpsell, 7).Name())

	p := fixtureProduct()
	p.Downsell.Enabled = false
	seq = NewSequence(p)
	assert.Equal(t, "thank_you", seq.Following(StepUpsell, 7).Name())
	assert.Equal(t, "thank_you", seq.Following(StepDownsell, 0).Name())
}
