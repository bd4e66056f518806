package bitflyer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"

	"bitflyer/pkg/core"
)

// rawTicker is the ticker as sent by both the REST endpoint and lightning_ticker.
type rawTicker struct {
	ProductCode     string      `json:"product_code"`
	State           string      `json:"state"`
	Timestamp       string      `json:"timestamp"`
	TickID          int64       `json:"tick_id"`
	BestBid         json.Number `json:"best_bid"`
	BestAsk         json.Number `json:"best_ask"`
	BestBidSize     json.Number `json:"best_bid_size"`
	BestAskSize     json.Number `json:"best_ask_size"`
	TotalBidDepth   json.Number `json:"total_bid_depth"`
	TotalAskDepth   json.Number `json:"total_ask_depth"`
	MarketBidSize   json.Number `json:"market_bid_size"`
	MarketAskSize   json.Number `json:"market_ask_size"`
	LTP             json.Number `json:"ltp"`
	Volume          json.Number `json:"volume"`
	VolumeByProduct json.Number `json:"volume_by_product"`
}

type rawHealth struct {
	Status string `json:"status"`
}

type rawBalance struct {
	CurrencyCode string      `json:"currency_code"`
	Amount       json.Number `json:"amount"`
	Available    json.Number `json:"available"`
}

type rawCollateral struct {
	Collateral        json.Number `json:"collateral"`
	OpenPositionPnL   json.Number `json:"open_position_pnl"`
	RequireCollateral json.Number `json:"require_collateral"`
	KeepRate          json.Number `json:"keep_rate"`
}

type rawCollateralHistory struct {
	ID           int64       `json:"id"`
	CurrencyCode string      `json:"currency_code"`
	Change       json.Number `json:"change"`
	Amount       json.Number `json:"amount"`
	ReasonCode   string      `json:"reason_code"`
	Date         string      `json:"date"`
}

type rawPosition struct {
	ProductCode         string      `json:"product_code"`
	Side                string      `json:"side"`
	Price               json.Number `json:"price"`
	Size                json.Number `json:"size"`
	Commission          json.Number `json:"commission"`
	SwapPointAccumulate json.Number `json:"swap_point_accumulate"`
	RequireCollateral   json.Number `json:"require_collateral"`
	OpenDate            string      `json:"open_date"`
	Leverage            json.Number `json:"leverage"`
	PnL                 json.Number `json:"pnl"`
	SFD                 json.Number `json:"sfd"`
}

type rawExecution struct {
	ID                         int64       `json:"id"`
	Side                       string      `json:"side"`
	Price                      json.Number `json:"price"`
	Size                       json.Number `json:"size"`
	ExecDate                   string      `json:"exec_date"`
	BuyChildOrderAcceptanceID  string      `json:"buy_child_order_acceptance_id"`
	SellChildOrderAcceptanceID string      `json:"sell_child_order_acceptance_id"`
}

type rawBoardLevel struct {
	Price json.Number `json:"price"`
	Size  json.Number `json:"size"`
}

type rawBoard struct {
	MidPrice json.Number     `json:"mid_price"`
	Bids     []rawBoardLevel `json:"bids"`
	Asks     []rawBoardLevel `json:"asks"`
}

// rawChildOrder is the outbound sendchildorder body.
type rawChildOrder struct {
	ProductCode    string      `json:"product_code"`
	ChildOrderType string      `json:"child_order_type"`
	Side           string      `json:"side"`
	Price          json.Number `json:"price,omitempty"`
	Size           json.Number `json:"size"`
	MinuteToExpire int         `json:"minute_to_expire"`
	TimeInForce    string      `json:"time_in_force"`
}

type rawChildOrderResponse struct {
	ChildOrderAcceptanceID string `json:"child_order_acceptance_id"`
}

// Normalizer converts wire structures to core records. Unknown enumeration
// strings and malformed numbers are errors.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

func (n *Normalizer) NormalizeTicker(data *rawTicker) (*core.Ticker, error) {
	product, err := core.ParseProductCode(data.ProductCode)
	if err != nil {
		return nil, err
	}
	state, err := core.ParseState(data.State)
	if err != nil {
		return nil, err
	}
	ts, err := parseTime(data.Timestamp)
	if err != nil {
		return nil, err
	}

	ticker := &core.Ticker{
		ProductCode: product,
		State:       state,
		Timestamp:   ts,
		TickID:      data.TickID,
	}
	err = parseDecimals(
		decimalField{&ticker.BestBid, data.BestBid, "best_bid"},
		decimalField{&ticker.BestAsk, data.BestAsk, "best_ask"},
		decimalField{&ticker.BestBidSize, data.BestBidSize, "best_bid_size"},
		decimalField{&ticker.BestAskSize, data.BestAskSize, "best_ask_size"},
		decimalField{&ticker.TotalBidDepth, data.TotalBidDepth, "total_bid_depth"},
		decimalField{&ticker.TotalAskDepth, data.TotalAskDepth, "total_ask_depth"},
		decimalField{&ticker.MarketBidSize, data.MarketBidSize, "market_bid_size"},
		decimalField{&ticker.MarketAskSize, data.MarketAskSize, "market_ask_size"},
		decimalField{&ticker.LTP, data.LTP, "ltp"},
		decimalField{&ticker.Volume, data.Volume, "volume"},
		decimalField{&ticker.VolumeByProduct, data.VolumeByProduct, "volume_by_product"},
	)
	if err != nil {
		return nil, err
	}
	return ticker, nil
}

func (n *Normalizer) NormalizeHealth(data *rawHealth) (*core.Health, error) {
	status, err := core.ParseHealthStatus(data.Status)
	if err != nil {
		return nil, err
	}
	return &core.Health{Status: status}, nil
}

func (n *Normalizer) NormalizeBalances(data []rawBalance) ([]core.Balance, error) {
	balances := make([]core.Balance, 0, len(data))
	for _, b := range data {
		balance := core.Balance{CurrencyCode: b.CurrencyCode}
		err := parseDecimals(
			decimalField{&balance.Amount, b.Amount, "amount"},
			decimalField{&balance.Available, b.Available, "available"},
		)
		if err != nil {
			return nil, fmt.Errorf("balance %s: %w", b.CurrencyCode, err)
		}
		balances = append(balances, balance)
	}
	return balances, nil
}

func (n *Normalizer) NormalizeCollateral(data *rawCollateral) (*core.Collateral, error) {
	c := &core.Collateral{}
	err := parseDecimals(
		decimalField{&c.Collateral, data.Collateral, "collateral"},
		decimalField{&c.OpenPositionPnL, data.OpenPositionPnL, "open_position_pnl"},
		decimalField{&c.RequireCollateral, data.RequireCollateral, "require_collateral"},
		decimalField{&c.KeepRate, data.KeepRate, "keep_rate"},
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (n *Normalizer) NormalizeCollateralHistory(data []rawCollateralHistory) ([]core.CollateralHistory, error) {
	history := make([]core.CollateralHistory, 0, len(data))
	for _, h := range data {
		date, err := parseTime(h.Date)
		if err != nil {
			return nil, fmt.Errorf("collateral history %d: %w", h.ID, err)
		}
		entry := core.CollateralHistory{
			ID:           h.ID,
			CurrencyCode: h.CurrencyCode,
			ReasonCode:   h.ReasonCode,
			Date:         date,
		}
		err = parseDecimals(
			decimalField{&entry.Change, h.Change, "change"},
			decimalField{&entry.Amount, h.Amount, "amount"},
		)
		if err != nil {
			return nil, fmt.Errorf("collateral history %d: %w", h.ID, err)
		}
		history = append(history, entry)
	}
	return history, nil
}

func (n *Normalizer) NormalizePositions(data []rawPosition) ([]core.Position, error) {
	positions := make([]core.Position, 0, len(data))
	for i, p := range data {
		product, err := core.ParseProductCode(p.ProductCode)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		side, err := core.ParseSide(p.Side)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		openDate, err := parseTime(p.OpenDate)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		pos := core.Position{ProductCode: product, Side: side, OpenDate: openDate}
		err = parseDecimals(
			decimalField{&pos.Price, p.Price, "price"},
			decimalField{&pos.Size, p.Size, "size"},
			decimalField{&pos.Commission, p.Commission, "commission"},
			decimalField{&pos.SwapPointAccumulate, p.SwapPointAccumulate, "swap_point_accumulate"},
			decimalField{&pos.RequireCollateral, p.RequireCollateral, "require_collateral"},
			decimalField{&pos.Leverage, p.Leverage, "leverage"},
			decimalField{&pos.PnL, p.PnL, "pnl"},
			decimalField{&pos.SFD, p.SFD, "sfd"},
		)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func (n *Normalizer) NormalizeExecutions(data []rawExecution) ([]core.Execution, error) {
	executions := make([]core.Execution, 0, len(data))
	for _, e := range data {
		side, err := core.ParseSide(e.Side)
		if err != nil {
			return nil, fmt.Errorf("execution %d: %w", e.ID, err)
		}
		execDate, err := parseTime(e.ExecDate)
		if err != nil {
			return nil, fmt.Errorf("execution %d: %w", e.ID, err)
		}
		exec := core.Execution{
			ID:                         e.ID,
			Side:                       side,
			ExecDate:                   execDate,
			BuyChildOrderAcceptanceID:  e.BuyChildOrderAcceptanceID,
			SellChildOrderAcceptanceID: e.SellChildOrderAcceptanceID,
		}
		err = parseDecimals(
			decimalField{&exec.Price, e.Price, "price"},
			decimalField{&exec.Size, e.Size, "size"},
		)
		if err != nil {
			return nil, fmt.Errorf("execution %d: %w", e.ID, err)
		}
		executions = append(executions, exec)
	}
	return executions, nil
}

func (n *Normalizer) NormalizeBoard(data *rawBoard) (*core.Board, error) {
	board := &core.Board{}
	if err := parseDecimal(&board.MidPrice, data.MidPrice); err != nil {
		return nil, fmt.Errorf("mid_price: %w", err)
	}
	var err error
	if board.Bids, err = normalizeLevels(data.Bids); err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	if board.Asks, err = normalizeLevels(data.Asks); err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	return board, nil
}

// DenormalizeChildOrder builds the outbound body. Price is left out when zero.
func (n *Normalizer) DenormalizeChildOrder(req *core.ChildOrderRequest) *rawChildOrder {
	out := &rawChildOrder{
		ProductCode:    string(req.ProductCode),
		ChildOrderType: string(req.ChildOrderType),
		Side:           string(req.Side),
		Size:           json.Number(req.Size.Text('f')),
		MinuteToExpire: req.MinuteToExpire,
		TimeInForce:    string(req.TimeInForce),
	}
	if req.HasPrice() {
		out.Price = json.Number(req.Price.Text('f'))
	}
	return out
}

func normalizeLevels(data []rawBoardLevel) ([]core.BoardLevel, error) {
	levels := make([]core.BoardLevel, 0, len(data))
	for _, l := range data {
		var level core.BoardLevel
		err := parseDecimals(
			decimalField{&level.Price, l.Price, "price"},
			decimalField{&level.Size, l.Size, "size"},
		)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, nil
}

type decimalField struct {
	dest *apd.Decimal
	src  json.Number
	name string
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		if err := parseDecimal(f.dest, f.src); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return nil
}

func parseDecimal(dest *apd.Decimal, n json.Number) error {
	if n == "" {
		*dest = apd.Decimal{}
		return nil
	}

	_, _, err := apd.BaseContext.SetString(dest, string(n))
	if err != nil {
		return fmt.Errorf("set decimal from string: %w", err)
	}

	return nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return core.ParseTimestamp(s)
}
