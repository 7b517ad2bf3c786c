package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/ayonpaul8906/swapsmith-orders/internal/address"
	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
	"github.com/ayonpaul8906/swapsmith-orders/internal/strategy"
)

type CreateOrderInput struct {
	OwnerID            string          `json:"-"`
	FromAsset          string          `json:"fromAsset"`
	FromNetwork        string          `json:"fromNetwork"`
	ToAsset            string          `json:"toAsset"`
	ToNetwork          string          `json:"toNetwork"`
	FromAmount         decimal.Decimal `json:"fromAmount"`
	SettleAddress      string          `json:"settleAddress"`
	TrailingPercentage decimal.Decimal `json:"trailingPercentage"`
}

// normalized trims every field, upper-cases asset symbols and lower-cases networks.
func (in CreateOrderInput) normalized() CreateOrderInput {
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	in.FromAsset = strings.ToUpper(strings.TrimSpace(in.FromAsset))
	in.ToAsset = strings.ToUpper(strings.TrimSpace(in.ToAsset))
	in.FromNetwork = strings.ToLower(strings.TrimSpace(in.FromNetwork))
	in.ToNetwork = strings.ToLower(strings.TrimSpace(in.ToNetwork))
	in.SettleAddress = strings.TrimSpace(in.SettleAddress)
	return in
}

// validate reports every violation at once.
func (in CreateOrderInput) validate(v address.Validator) error {
	var errs error
	required := func(field, value string) {
		if value == "" {
			errs = multierr.Append(errs, apperr.Field(field, "is required"))
		}
	}
	required("ownerId", in.OwnerID)
	required("fromAsset", in.FromAsset)
	required("fromNetwork", in.FromNetwork)
	required("toAsset", in.ToAsset)
	required("toNetwork", in.ToNetwork)

	if !in.FromAmount.IsPositive() {
		errs = multierr.Append(errs, apperr.Field("fromAmount", "must be greater than 0"))
	}
	if err := strategy.ValidateTrailingPercent(in.TrailingPercentage); err != nil {
		errs = multierr.Append(errs, apperr.Field("trailingPercentage", "%s", err.Error()))
	}
	if in.FromAsset != "" && in.FromAsset == in.ToAsset && in.FromNetwork == in.ToNetwork {
		errs = multierr.Append(errs, apperr.Field("toAsset", "must differ from fromAsset on the same network"))
	}

	switch {
	case in.SettleAddress == "":
		errs = multierr.Append(errs, apperr.Field("settleAddress", "is required"))
	case in.ToNetwork != "":
		if err := v.Validate(in.ToNetwork, in.SettleAddress); err != nil {
			errs = multierr.Append(errs, apperr.Field("settleAddress", "invalid for %s: %s", in.ToNetwork, err.Error()))
		}
	}

	return apperr.Validation(errs)
}

func (in CreateOrderInput) order(now time.Time) *models.TrailingStopOrder {
	return &models.TrailingStopOrder{
		ID:                 uuid.NewString(),
		OwnerID:            in.OwnerID,
		FromAsset:          in.FromAsset,
		FromNetwork:        in.FromNetwork,
		ToAsset:            in.ToAsset,
		ToNetwork:          in.ToNetwork,
		FromAmount:         in.FromAmount,
		SettleAddress:      in.SettleAddress,
		TrailingPercentage: in.TrailingPercentage,
		Status:             models.StatusPending,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
