package notifications

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
	"github.com/ayonpaul8906/swapsmith-orders/internal/strategy"
)

func decOrDash(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

// OrderMessage renders a one-line summary of an order lifecycle event.
func OrderMessage(o *models.TrailingStopOrder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "order %s %s: %s %s/%s -> %s/%s",
		o.ID, strings.ToUpper(string(o.Status)),
		o.FromAmount, o.FromAsset, o.FromNetwork, o.ToAsset, o.ToNetwork)

	switch o.Status {
	case models.StatusTriggered:
		fmt.Fprintf(&b, " | price %s <= trigger %s (peak %s, trail %s%%)",
			decOrDash(o.CurrentPrice), decOrDash(o.TriggerPrice), decOrDash(o.PeakPrice),
			o.TrailingPercentage)
		if o.PeakPrice != nil && o.CurrentPrice != nil {
			fmt.Fprintf(&b, " | retraced %s%% from peak",
				strategy.Retracement(*o.PeakPrice, *o.CurrentPrice).StringFixed(2))
		}
	case models.StatusCompleted:
		if o.ExternalOrderID != nil {
			fmt.Fprintf(&b, " | swap %s", *o.ExternalOrderID)
		}
		if o.SettleAmount != nil {
			fmt.Fprintf(&b, " | settles %s", o.SettleAmount)
			if o.SettleAsset != nil {
				fmt.Fprintf(&b, " %s", *o.SettleAsset)
			}
		}
	case models.StatusFailed:
		if o.FailureReason != nil {
			fmt.Fprintf(&b, " | %s", *o.FailureReason)
		}
	}
	return b.String()
}

// BatchMessage renders the per-batch outcome counts and the failing legs.
func BatchMessage(b *models.Batch) string {
	s := b.Summary()
	msg := fmt.Sprintf("batch %s: %d/%d legs succeeded, %d failed, %d pending",
		b.ID, s.Succeeded, s.Total, s.Failed, s.Pending)
	for _, l := range b.Legs {
		if l.Status == models.LegError {
			msg += fmt.Sprintf("\n  %s %s/%s: %s", l.ID, l.ToAsset, l.ToChain, l.ErrorMessage)
		}
	}
	return msg
}
