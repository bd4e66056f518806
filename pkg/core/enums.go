package core

import (
	"fmt"
	"strconv"
	"time"
)

// ProductCode identifies a tradable market, e.g. BTC_JPY.
type ProductCode string

// Products listed on bitFlyer Lightning.
const (
	ProductBTCJPY   ProductCode = "BTC_JPY"
	ProductXRPJPY   ProductCode = "XRP_JPY"
	ProductETHJPY   ProductCode = "ETH_JPY"
	ProductXLMJPY   ProductCode = "XLM_JPY"
	ProductMONAJPY  ProductCode = "MONA_JPY"
	ProductETHBTC   ProductCode = "ETH_BTC"
	ProductBCHBTC   ProductCode = "BCH_BTC"
	ProductFXBTCJPY ProductCode = "FX_BTC_JPY"
)

// Products returns every known product code.
func Products() []ProductCode {
	return []ProductCode{
		ProductBTCJPY, ProductXRPJPY, ProductETHJPY, ProductXLMJPY,
		ProductMONAJPY, ProductETHBTC, ProductBCHBTC, ProductFXBTCJPY,
	}
}

var productTable = newLookup("product code", map[string]ProductCode{
	"BTC_JPY":    ProductBTCJPY,
	"XRP_JPY":    ProductXRPJPY,
	"ETH_JPY":    ProductETHJPY,
	"XLM_JPY":    ProductXLMJPY,
	"MONA_JPY":   ProductMONAJPY,
	"ETH_BTC":    ProductETHBTC,
	"BCH_BTC":    ProductBCHBTC,
	"FX_BTC_JPY": ProductFXBTCJPY,
})

// ParseProductCode resolves a wire string to a ProductCode.
func ParseProductCode(s string) (ProductCode, error) {
	return productTable.parse(s)
}

// Channel is a public realtime channel kind.
type Channel string

// Public realtime channels.
const (
	ChannelBoardSnapshot Channel = "lightning_board_snapshot"
	ChannelBoard         Channel = "lightning_board"
	ChannelTicker        Channel = "lightning_ticker"
	ChannelExecutions    Channel = "lightning_executions"
)

// Key returns the subscription key for this channel on product,
// e.g. lightning_ticker_BTC_JPY.
func (c Channel) Key(product ProductCode) string {
	return string(c) + "_" + string(product)
}

// State is the trading state of a product as reported by the ticker.
type State int

const (
	StateRunning State = iota
	StateClosed
	StateStarting
	StatePreOpen
	StateCircuitBreak
	StateAwaitingSQ
	StateMatured
)

var stateNames = [...]string{
	"RUNNING",
	"CLOSED",
	"STARTING",
	"PREOPEN",
	"CIRCUIT BREAK",
	"AWAITING SQ",
	"MATURED",
}

var stateTable = newLookup("state", map[string]State{
	"RUNNING":       StateRunning,
	"CLOSED":        StateClosed,
	"STARTING":      StateStarting,
	"PREOPEN":       StatePreOpen,
	"CIRCUIT BREAK": StateCircuitBreak,
	"AWAITING SQ":   StateAwaitingSQ,
	"MATURED":       StateMatured,
})

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// ParseState resolves a wire string such as "CIRCUIT BREAK" to a State.
func ParseState(s string) (State, error) {
	return stateTable.parse(s)
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

func (s *State) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, stateTable)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// HealthStatus is the exchange load level reported by gethealth.
type HealthStatus int

const (
	HealthNormal HealthStatus = iota
	HealthBusy
	HealthVeryBusy
	HealthSuperBusy
	HealthNoOrder
	HealthStop
)

var healthNames = [...]string{
	"NORMAL",
	"BUSY",
	"VERY BUSY",
	"SUPER BUSY",
	"NO ORDER",
	"STOP",
}

var healthTable = newLookup("health status", map[string]HealthStatus{
	"NORMAL":     HealthNormal,
	"BUSY":       HealthBusy,
	"VERY BUSY":  HealthVeryBusy,
	"SUPER BUSY": HealthSuperBusy,
	"NO ORDER":   HealthNoOrder,
	"STOP":       HealthStop,
})

func (h HealthStatus) String() string {
	if h < 0 || int(h) >= len(healthNames) {
		return "UNKNOWN"
	}
	return healthNames[h]
}

// ParseHealthStatus resolves a wire string such as "VERY BUSY" to a HealthStatus.
func ParseHealthStatus(s string) (HealthStatus, error) {
	return healthTable.parse(s)
}

func (h HealthStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(h.String())), nil
}

func (h *HealthStatus) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, healthTable)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// Side is the direction of an order, position or execution.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	// SideNone is carried by executions matched during an itayose auction.
	SideNone Side = ""
)

var sideTable = newLookup("side", map[string]Side{
	"BUY":  SideBuy,
	"SELL": SideSell,
	"":     SideNone,
})

// ParseSide resolves a wire string to a Side.
func ParseSide(s string) (Side, error) {
	return sideTable.parse(s)
}

// OrderType is the child order type.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// TimeInForce is the execution condition of a child order.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// Candlestick is a chart interval.
type Candlestick string

const (
	CandleOneMinute      Candlestick = "ONE_MINUTE"
	CandleFiveMinutes    Candlestick = "FIVE_MINUTES"
	CandleTenMinutes     Candlestick = "TEN_MINUTES"
	CandleFifteenMinutes Candlestick = "FIFTEEN_MINUTES"
	CandleThirtyMinutes  Candlestick = "THIRTY_MINUTES"
	CandleOneHour        Candlestick = "ONE_HOUR"
	CandleFourHours      Candlestick = "FOUR_HOURS"
	CandleEightHours     Candlestick = "EIGHT_HOURS"
	CandleOneDay         Candlestick = "ONE_DAY"
	CandleOneWeek        Candlestick = "ONE_WEEK"
)

// Candlesticks returns every known interval, shortest first.
func Candlesticks() []Candlestick {
	return []Candlestick{
		CandleOneMinute, CandleFiveMinutes, CandleTenMinutes, CandleFifteenMinutes,
		CandleThirtyMinutes, CandleOneHour, CandleFourHours, CandleEightHours,
		CandleOneDay, CandleOneWeek,
	}
}

var candleDurations = map[Candlestick]time.Duration{
	CandleOneMinute:      time.Minute,
	CandleFiveMinutes:    5 * time.Minute,
	CandleTenMinutes:     10 * time.Minute,
	CandleFifteenMinutes: 15 * time.Minute,
	CandleThirtyMinutes:  30 * time.Minute,
	CandleOneHour:        time.Hour,
	CandleFourHours:      4 * time.Hour,
	CandleEightHours:     8 * time.Hour,
	CandleOneDay:         24 * time.Hour,
	CandleOneWeek:        7 * 24 * time.Hour,
}

// ParseCandlestick resolves a name such as ONE_HOUR to a Candlestick.
func ParseCandlestick(s string) (Candlestick, error) {
	c := Candlestick(s)
	if _, ok := candleDurations[c]; !ok {
		return "", fmt.Errorf("%w: candlestick %q", ErrUnknownValue, s)
	}
	return c, nil
}

// Duration returns the length of one candle, or zero for an unknown interval.
func (c Candlestick) Duration() time.Duration {
	return candleDurations[c]
}

// lookup is an explicit string to variant table that rejects unknown strings.
type lookup[T any] struct {
	kind   string
	byName map[string]T
}

func newLookup[T any](kind string, byName map[string]T) lookup[T] {
	return lookup[T]{kind: kind, byName: byName}
}

func (l lookup[T]) parse(s string) (T, error) {
	v, ok := l.byName[s]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %q", ErrUnknownValue, l.kind, s)
	}
	return v, nil
}

func unmarshalEnum[T any](data []byte, l lookup[T]) (T, error) {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s must be a JSON string: %w", l.kind, err)
	}
	return l.parse(s)
}
