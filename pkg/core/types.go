package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Ticker is the latest top-of-book and volume summary for a product.
type Ticker struct {
	ProductCode     ProductCode `json:"product_code"`
	State           State       `json:"state"`
	Timestamp       time.Time   `json:"timestamp"`
	TickID          int64       `json:"tick_id"`
	BestBid         apd.Decimal `json:"best_bid"`
	BestAsk         apd.Decimal `json:"best_ask"`
	BestBidSize     apd.Decimal `json:"best_bid_size"`
	BestAskSize     apd.Decimal `json:"best_ask_size"`
	TotalBidDepth   apd.Decimal `json:"total_bid_depth"`
	TotalAskDepth   apd.Decimal `json:"total_ask_depth"`
	MarketBidSize   apd.Decimal `json:"market_bid_size"`
	MarketAskSize   apd.Decimal `json:"market_ask_size"`
	LTP             apd.Decimal `json:"ltp"`
	Volume          apd.Decimal `json:"volume"`
	VolumeByProduct apd.Decimal `json:"volume_by_product"`
}

// Spread returns best ask minus best bid.
func (t *Ticker) Spread() (apd.Decimal, error) {
	var d apd.Decimal
	_, err := apd.BaseContext.Sub(&d, &t.BestAsk, &t.BestBid)
	if err != nil {
		return apd.Decimal{}, fmt.Errorf("calculate spread: %w", err)
	}
	return d, nil
}

// Health is the exchange status for a product.
type Health struct {
	Status HealthStatus `json:"status"`
}

// Balance is the amount held in one currency.
type Balance struct {
	CurrencyCode string      `json:"currency_code"`
	Amount       apd.Decimal `json:"amount"`
	Available    apd.Decimal `json:"available"`
}

// Collateral is the margin account summary.
type Collateral struct {
	Collateral        apd.Decimal `json:"collateral"`
	OpenPositionPnL   apd.Decimal `json:"open_position_pnl"`
	RequireCollateral apd.Decimal `json:"require_collateral"`
	KeepRate          apd.Decimal `json:"keep_rate"`
}

// CollateralHistory is one change to the margin account.
type CollateralHistory struct {
	ID           int64       `json:"id"`
	CurrencyCode string      `json:"currency_code"`
	Change       apd.Decimal `json:"change"`
	Amount       apd.Decimal `json:"amount"`
	ReasonCode   string      `json:"reason_code"`
	Date         time.Time   `json:"date"`
}

// Position is an open margin position.
type Position struct {
	ProductCode         ProductCode `json:"product_code"`
	Side                Side        `json:"side"`
	Price               apd.Decimal `json:"price"`
	Size                apd.Decimal `json:"size"`
	Commission          apd.Decimal `json:"commission"`
	SwapPointAccumulate apd.Decimal `json:"swap_point_accumulate"`
	RequireCollateral   apd.Decimal `json:"require_collateral"`
	OpenDate            time.Time   `json:"open_date"`
	Leverage            apd.Decimal `json:"leverage"`
	PnL                 apd.Decimal `json:"pnl"`
	SFD                 apd.Decimal `json:"sfd"`
}

// ChildOrderResponse is the acknowledgement of an accepted child order.
type ChildOrderResponse struct {
	ChildOrderAcceptanceID string `json:"child_order_acceptance_id"`
}

// Pagination bounds a history query. Zero fields are left out of the request.
type Pagination struct {
	Count  int64 `json:"count,omitempty" validate:"min=0"`
	Before int64 `json:"before,omitempty" validate:"min=0"`
	After  int64 `json:"after,omitempty" validate:"min=0"`
}

// Execution is one public trade from lightning_executions.
type Execution struct {
	ID                         int64       `json:"id"`
	Side                       Side        `json:"side"`
	Price                      apd.Decimal `json:"price"`
	Size                       apd.Decimal `json:"size"`
	ExecDate                   time.Time   `json:"exec_date"`
	BuyChildOrderAcceptanceID  string      `json:"buy_child_order_acceptance_id"`
	SellChildOrderAcceptanceID string      `json:"sell_child_order_acceptance_id"`
}

// BoardLevel is one price level of the order book.
type BoardLevel struct {
	Price apd.Decimal `json:"price"`
	Size  apd.Decimal `json:"size"`
}

// Board is an order book snapshot or diff.
type Board struct {
	MidPrice apd.Decimal  `json:"mid_price"`
	Bids     []BoardLevel `json:"bids"`
	Asks     []BoardLevel `json:"asks"`
}

const timestampLayout = "2006-01-02T15:04:05"

// ParseTimestamp parses the venue's ISO-8601 timestamps. A trailing Z is
// optional, the fractional part may have any number of digits and the
// result is always UTC.
func ParseTimestamp(s string) (time.Time, error) {
	raw := strings.TrimSuffix(s, "Z")
	base, frac, hasFrac := strings.Cut(raw, ".")

	t, err := time.ParseInLocation(timestampLayout, base, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	if !hasFrac {
		return t, nil
	}

	if len(frac) > 9 {
		frac = frac[:9]
	}
	var nanos int64
	for i := 0; i < 9; i++ {
		nanos *= 10
		if i < len(frac) {
			c := frac[i]
			if c < '0' || c > '9' {
				return time.Time{}, fmt.Errorf("parse timestamp %q: bad fraction", s)
			}
			nanos += int64(c - '0')
		}
	}
	return t.Add(time.Duration(nanos)), nil
}
