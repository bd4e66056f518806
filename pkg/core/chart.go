package core

import "fmt"

// ChartType is one product at one candlestick interval.
type ChartType struct {
	Product  ProductCode
	Interval Candlestick
}

// Name returns the table key, e.g. BTC_JPY_ONE_MINUTE.
func (c ChartType) Name() string {
	return string(c.Product) + "_" + string(c.Interval)
}

// ChartTable holds every product × interval combination of a config.
type ChartTable struct {
	entries []ChartType
	byName  map[string]ChartType
}

// NewChartTable builds the combinatorial table. Every product must be a
// known product code and every interval a known candlestick.
func NewChartTable(products []ProductCode, intervals []Candlestick) (*ChartTable, error) {
	t := &ChartTable{
		entries: make([]ChartType, 0, len(products)*len(intervals)),
		byName:  make(map[string]ChartType, len(products)*len(intervals)),
	}
	for _, p := range products {
		if _, err := ParseProductCode(string(p)); err != nil {
			return nil, fmt.Errorf("chart table: %w", err)
		}
		for _, iv := range intervals {
			if _, err := ParseCandlestick(string(iv)); err != nil {
				return nil, fmt.Errorf("chart table: %w", err)
			}
			ct := ChartType{Product: p, Interval: iv}
			if _, dup := t.byName[ct.Name()]; dup {
				continue
			}
			t.entries = append(t.entries, ct)
			t.byName[ct.Name()] = ct
		}
	}
	return t, nil
}

// Lookup resolves a chart name. Unknown names fail with ErrUnknownValue.
func (t *ChartTable) Lookup(name string) (ChartType, error) {
	ct, ok := t.byName[name]
	if !ok {
		return ChartType{}, fmt.Errorf("%w: chart type %q", ErrUnknownValue, name)
	}
	return ct, nil
}

// All returns the entries in product-major order.
func (t *ChartTable) All() []ChartType {
	out := make([]ChartType, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *ChartTable) Len() int {
	return len(t.entries)
}
