package funnel

import (
	"fmt"
	"strconv"

	"github.com/noah-isme/funnel-api/internal/catalog"
)

// StepKind names a funnel state.
type StepKind string

const (
	StepCheckout StepKind = "checkout"
	StepUpsell   StepKind = "upsell"
	StepDownsell StepKind = "downsell"
	StepThankYou StepKind = "thank_you"
)

// Action is a buyer-driven event at a step.
type Action string

const (
	// ActionComplete is the initial checkout payment succeeding.
	ActionComplete Action = "complete"
	// ActionAccept is a successful one-click charge for the step's offer.
	ActionAccept Action = "accept"
	// ActionDecline is the buyer skipping the offer.
	ActionDecline Action = "decline"
	// ActionAbandon exits an offer step without a one-click session.
	ActionAbandon Action = "abandon"
)

// Step is one position in a product's funnel.
type Step struct {
	Kind StepKind
	// Index is the 1-based upsell number among enabled upsells.
	Index int
	Offer *catalog.Offer
}

// Name is a stable label such as "upsell_2", used for metrics and metadata.
func (s Step) Name() string {
	if s.Kind == StepUpsell {
		return "upsell_" + strconv.Itoa(s.Index)
	}
	return string(s.Kind)
}

// IsOffer reports whether the step sells a one-click offer.
func (s Step) IsOffer() bool { return s.Kind == StepUpsell || s.Kind == StepDownsell }

type target int

const (
	targetNext target = iota + 1
	targetThankYou
)

// transitions is the complete table of legal moves. Anything missing is rejected.
var transitions = map[StepKind]map[Action]target{
	StepCheckout: {ActionComplete: targetNext},
	StepUpsell:   {ActionAccept: targetNext, ActionDecline: targetNext, ActionAbandon: targetThankYou},
	StepDownsell: {ActionAccept: targetNext, ActionDecline: targetNext, ActionAbandon: targetThankYou},
}

// Sequence is the ordered step list derived from a product: checkout, each
// enabled upsell, the downsell when enabled, then thank-you.
type Sequence struct {
	steps []Step
}

// NewSequence builds the sequence for p.
func NewSequence(p catalog.Product) Sequence {
	steps := []Step{{Kind: StepCheckout}}
	for i, u := range p.EnabledUpsells() {
		offer := u
		steps = append(steps, Step{Kind: StepUpsell, Index: i + 1, Offer: &offer})
	}
	if p.DownsellEnabled() {
		offer := *p.Downsell
		steps = append(steps, Step{Kind: StepDownsell, Offer: &offer})
	}
	steps = append(steps, Step{Kind: StepThankYou})
	return Sequence{steps: steps}
}

// Steps returns the steps in order.
func (s Sequence) Steps() []Step {
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// Lookup finds the step for kind and, for upsells, the 1-based index.
func (s Sequence) Lookup(kind StepKind, index int) (Step, bool) {
	for _, st := range s.steps {
		if st.Kind != kind {
			continue
		}
		if kind == StepUpsell && st.Index != index {
			continue
		}
		return st, true
	}
	return Step{}, false
}

// ThankYou returns the terminal step.
func (s Sequence) ThankYou() Step { return s.steps[len(s.steps)-1] }

// Next returns the step after from.
func (s Sequence) Next(from Step) Step {
	for i, st := range s.steps {
		if st.Kind == from.Kind && st.Index == from.Index && i+1 < len(s.steps) {
			return s.steps[i+1]
		}
	}
	return s.ThankYou()
}

// Following returns the first step that would come after a missing or disabled
// step of the given kind and index. Upsells past the last enabled one lead to
// the downsell, a missing downsell leads to thank-you.
func (s Sequence) Following(kind StepKind, index int) Step {
	if kind == StepUpsell {
		for _, st := range s.steps {
			if st.Kind == StepUpsell && st.Index > index {
				return st
			}
		}
		if st, ok := s.Lookup(StepDownsell, 0); ok {
			return st
		}
	}
	return s.ThankYou()
}

// Transition applies action at from using the transition table.
func (s Sequence) Transition(from Step, action Action) (Step, error) {
	moves, ok := transitions[from.Kind]
	if !ok {
		return Step{}, fmt.Errorf("funnel: %s is terminal", from.Name())
	}
	t, ok := moves[action]
	if !ok {
		return Step{}, fmt.Errorf("funnel: %s is not allowed at %s", action, from.Name())
	}
	if t == targetThankYou {
		return s.ThankYou(), nil
	}
	return s.Next(from), nil
}

// TotalSteps counts the offer steps for progress display.
func (s Sequence) TotalSteps() int {
	n := 0
	for _, st := range s.steps {
		if st.IsOffer() {
			n++
		}
	}
	return n
}

// Position is the 1-based position of an offer step among offer steps, or 0.
func (s Sequence) Position(step Step) int {
	n := 0
	for _, st := range s.steps {
		if !st.IsOffer() {
			continue
		}
		n++
		if st.Kind == step.Kind && st.Index == step.Index {
			return n
		}
	}
	return 0
}
