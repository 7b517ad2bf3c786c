// Package batch splits one portfolio swap intent into legs, runs the legs one
// after another, and retries only the legs that failed.
package batch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/ayonpaul8906/swapsmith-orders/internal/address"
	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
)

// AmountScale is the number of decimal places leg amounts are rounded down to.
const AmountScale = 8

var hundred = decimal.NewFromInt(100)

// SplitIntent turns a parent amount and per-target percentages into pending legs.
// Percentages must be positive and sum to at most 100. Each amount is rounded
// down to AmountScale places; when the split covers exactly 100% the rounding
// remainder goes to the last leg so the legs add up to parentAmount.
func SplitIntent(parentAmount decimal.Decimal, fromAsset, fromChain string, specs []models.LegSpec) ([]*models.PortfolioLeg, error) {
	fromAsset = strings.ToUpper(strings.TrimSpace(fromAsset))
	fromChain = strings.ToLower(strings.TrimSpace(fromChain))

	var errs error
	if !parentAmount.IsPositive() {
		errs = multierr.Append(errs, apperr.Field("amount", "must be greater than 0"))
	}
	if fromAsset == "" {
		errs = multierr.Append(errs, apperr.Field("fromAsset", "is required"))
	}
	if fromChain == "" {
		errs = multierr.Append(errs, apperr.Field("fromChain", "is required"))
	}
	if len(specs) == 0 {
		errs = multierr.Append(errs, apperr.Field("legs", "at least one leg is required"))
	}

	sum := decimal.Zero
	legs := make([]*models.PortfolioLeg, 0, len(specs))
	for i, s := range specs {
		field := fmt.Sprintf("legs[%d]", i)
		toAsset := strings.ToUpper(strings.TrimSpace(s.ToAsset))
		toChain := strings.ToLower(strings.TrimSpace(s.ToChain))
		settle := strings.TrimSpace(s.SettleAddress)

		if toAsset == "" {
			errs = multierr.Append(errs, apperr.Field(field+".toAsset", "is required"))
		}
		if toChain == "" {
			errs = multierr.Append(errs, apperr.Field(field+".toChain", "is required"))
		}
		if !s.Percentage.IsPositive() {
			errs = multierr.Append(errs, apperr.Field(field+".percentage", "must be greater than 0"))
		}
		if settle != "" && toChain != "" {
			if err := address.Validate(toChain, settle); err != nil {
				errs = multierr.Append(errs, apperr.Field(field+".settleAddress", "invalid for %s: %s", toChain, err.Error()))
			}
		}
		sum = sum.Add(s.Percentage)

		amount := parentAmount.Mul(s.Percentage).Div(hundred).RoundDown(AmountScale)
		if parentAmount.IsPositive() && s.Percentage.IsPositive() && !amount.IsPositive() {
			errs = multierr.Append(errs, apperr.Field(field+".percentage", "leg amount rounds to zero"))
		}
		legs = append(legs, &models.PortfolioLeg{
			ID:            uuid.NewString(),
			FromAsset:     fromAsset,
			FromChain:     fromChain,
			ToAsset:       toAsset,
			ToChain:       toChain,
			Percentage:    s.Percentage,
			Amount:        amount,
			SettleAddress: settle,
			Status:        models.LegPending,
		})
	}
	if sum.GreaterThan(hundred) {
		errs = multierr.Append(errs, apperr.Field("legs", "percentages sum to %s, must be at most 100", sum))
	}
	if err := apperr.Validation(errs); err != nil {
		return nil, err
	}

	if sum.Equal(hundred) {
		allocated := decimal.Zero
		for _, l := range legs {
			allocated = allocated.Add(l.Amount)
		}
		last := legs[len(legs)-1]
		last.Amount = last.Amount.Add(parentAmount.Sub(allocated))
	}
	return legs, nil
}
