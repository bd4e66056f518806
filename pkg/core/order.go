package core

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// DefaultMinuteToExpire is the longest lifetime the venue accepts for a child order (30 days).
const DefaultMinuteToExpire = 43200

// ChildOrderRequest is the body of a sendchildorder call.
type ChildOrderRequest struct {
	ProductCode    ProductCode `json:"product_code" validate:"required"`
	ChildOrderType OrderType   `json:"child_order_type" validate:"required,oneof=LIMIT MARKET"`
	Side           Side        `json:"side" validate:"required,oneof=BUY SELL"`
	Size           apd.Decimal `json:"size"`
	// Price is required for LIMIT orders and left out of the body when zero.
	Price          apd.Decimal `json:"price"`
	MinuteToExpire int         `json:"minute_to_expire" validate:"min=1,max=43200"`
	TimeInForce    TimeInForce `json:"time_in_force" validate:"required,oneof=GTC IOC FOK"`
}

// Validate checks the request before it is signed and sent.
func (r *ChildOrderRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return NewExchangeError(ErrorTypeInvalidOrder, 0, "", err.Error()).WithCode(ErrCodeInvalidOrder)
	}
	if r.Size.IsZero() || r.Size.Negative {
		return NewExchangeError(ErrorTypeInvalidOrder, 0, "", "size must be positive").WithCode(ErrCodeInvalidOrder)
	}
	if r.Price.Negative {
		return NewExchangeError(ErrorTypeInvalidOrder, 0, "", "price must not be negative").WithCode(ErrCodeInvalidOrder)
	}
	if r.ChildOrderType == OrderTypeLimit && r.Price.IsZero() {
		return NewExchangeError(ErrorTypeInvalidOrder, 0, "", "price is required for limit orders").WithCode(ErrCodeInvalidOrder)
	}
	return nil
}

// HasPrice reports whether the price should be sent.
func (r *ChildOrderRequest) HasPrice() bool {
	return !r.Price.IsZero()
}

func (r *ChildOrderRequest) String() string {
	if r.HasPrice() {
		return fmt.Sprintf("%s %s %s %s@%s %s", r.ProductCode, r.ChildOrderType, r.Side, r.Size.String(), r.Price.String(), r.TimeInForce)
	}
	return fmt.Sprintf("%s %s %s %s %s", r.ProductCode, r.ChildOrderType, r.Side, r.Size.String(), r.TimeInForce)
}
