package order

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"bitflyer/pkg/core"
)

// Builder provides a fluent interface for constructing child orders.
// It accumulates the first parse error and reports it on Build.
//
// Example:
//
//	req, err := order.NewBuilder(core.ProductBTCJPY).
//	    Buy().
//	    Limit().
//	    Price("5000000").
//	    Size("0.001").
//	    Build()
type Builder struct {
	req *core.ChildOrderRequest
	err error
}

// NewBuilder creates a builder for product with GTC and the maximum expiry preset.
func NewBuilder(product core.ProductCode) *Builder {
	return &Builder{
		req: &core.ChildOrderRequest{
			ProductCode:    product,
			MinuteToExpire: core.DefaultMinuteToExpire,
			TimeInForce:    core.TimeInForceGTC,
		},
	}
}

func (b *Builder) Side(side core.Side) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Side = side
	return b
}

func (b *Builder) Buy() *Builder {
	return b.Side(core.SideBuy)
}

func (b *Builder) Sell() *Builder {
	return b.Side(core.SideSell)
}

func (b *Builder) Type(orderType core.OrderType) *Builder {
	if b.err != nil {
		return b
	}
	b.req.ChildOrderType = orderType
	return b
}

func (b *Builder) Market() *Builder {
	return b.Type(core.OrderTypeMarket)
}

func (b *Builder) Limit() *Builder {
	return b.Type(core.OrderTypeLimit)
}

// Price sets the limit price from a decimal string.
func (b *Builder) Price(price string) *Builder {
	if b.err != nil {
		return b
	}
	if _, _, err := b.req.Price.SetString(price); err != nil {
		b.err = fmt.Errorf("parse price: %w", err)
	}
	return b
}

func (b *Builder) PriceDecimal(price apd.Decimal) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Price.Set(&price)
	return b
}

// Size sets the order size from a decimal string.
func (b *Builder) Size(size string) *Builder {
	if b.err != nil {
		return b
	}
	if _, _, err := b.req.Size.SetString(size); err != nil {
		b.err = fmt.Errorf("parse size: %w", err)
	}
	return b
}

func (b *Builder) SizeDecimal(size apd.Decimal) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Size.Set(&size)
	return b
}

// MinuteToExpire sets the order lifetime in minutes.
func (b *Builder) MinuteToExpire(minutes int) *Builder {
	if b.err != nil {
		return b
	}
	b.req.MinuteToExpire = minutes
	return b
}

func (b *Builder) TimeInForce(tif core.TimeInForce) *Builder {
	if b.err != nil {
		return b
	}
	b.req.TimeInForce = tif
	return b
}

func (b *Builder) GTC() *Builder {
	return b.TimeInForce(core.TimeInForceGTC)
}

func (b *Builder) IOC() *Builder {
	return b.TimeInForce(core.TimeInForceIOC)
}

func (b *Builder) FOK() *Builder {
	return b.TimeInForce(core.TimeInForceFOK)
}

// Build validates and returns the request.
func (b *Builder) Build() (*core.ChildOrderRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.req.Validate(); err != nil {
		return nil, err
	}
	return b.req, nil
}
