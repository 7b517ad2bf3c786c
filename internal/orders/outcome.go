package orders

import "github.com/ayonpaul8906/swapsmith-orders/internal/models"

type OutcomeKind int

const (
	// OutcomeSkipped: nothing was written, e.g. the order was no longer pending.
	OutcomeSkipped OutcomeKind = iota + 1
	// OutcomeTracked: price bookkeeping was updated and the trigger was not crossed.
	OutcomeTracked
	// OutcomeTriggered: the trigger was crossed and the swap completed.
	OutcomeTriggered
	// OutcomeFailed: the trigger was crossed and the swap could not be placed.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeTracked:
		return "tracked"
	case OutcomeTriggered:
		return "triggered"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the result of one evaluation tick. Order is the state after the
// tick when one was loaded.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Order  *models.TrailingStopOrder
}

func skipped(o *models.TrailingStopOrder, reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason, Order: o}
}
