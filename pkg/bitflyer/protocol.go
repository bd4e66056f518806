package bitflyer

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"

	"bitflyer/pkg/core"
)

// Parameter keys understood by BuildRequest.
const (
	ParamProductCode = "product_code"
	ParamPagination  = "pagination"
	ParamOrder       = "order"
)

// Protocol implements core.Protocol for the Lightning REST API.
type Protocol struct {
	version    string
	normalizer *Normalizer
}

func NewProtocol(version string) *Protocol {
	if version == "" {
		version = core.DefaultAPIVersion
	}
	return &Protocol{version: version, normalizer: NewNormalizer()}
}

func (p *Protocol) Version() string {
	return p.version
}

func (p *Protocol) SupportedOperations() []core.Operation {
	return []core.Operation{
		core.OpGetTicker,
		core.OpGetHealth,
		core.OpGetBalance,
		core.OpGetCollateral,
		core.OpGetCollateralHistory,
		core.OpGetPositions,
		core.OpSendChildOrder,
	}
}

func (p *Protocol) path(resource string) string {
	return "/" + p.version + "/" + resource
}

// BuildRequest constructs the request for op. Private operations are marked
// RequireAuth.
func (p *Protocol) BuildRequest(op core.Operation, params core.Params) (*core.Request, error) {
	switch op {
	case core.OpGetTicker:
		return p.buildProductRequest("ticker", params, false, false)
	case core.OpGetHealth:
		return p.buildProductRequest("gethealth", params, false, false)
	case core.OpGetBalance:
		return core.NewRequest(http.MethodGet, p.path("me/getbalance")).SetRequireAuth(true), nil
	case core.OpGetCollateral:
		return core.NewRequest(http.MethodGet, p.path("me/getcollateral")).SetRequireAuth(true), nil
	case core.OpGetCollateralHistory:
		return p.buildCollateralHistoryRequest(params)
	case core.OpGetPositions:
		return p.buildProductRequest("me/getpositions", params, true, true)
	case core.OpSendChildOrder:
		return p.buildSendChildOrderRequest(params)
	default:
		return nil, fmt.Errorf("unsupported operation: %s", op)
	}
}

func (p *Protocol) buildProductRequest(resource string, params core.Params, required, auth bool) (*core.Request, error) {
	req := core.NewRequest(http.MethodGet, p.path(resource)).SetRequireAuth(auth)

	product, err := productParam(params)
	if err != nil {
		return nil, err
	}
	if product == "" {
		if required {
			return nil, fmt.Errorf("missing required parameter: %s", ParamProductCode)
		}
		return req, nil
	}
	req.SetQuery(ParamProductCode, string(product))
	return req, nil
}

func (p *Protocol) buildCollateralHistoryRequest(params core.Params) (*core.Request, error) {
	req := core.NewRequest(http.MethodGet, p.path("me/getcollateralhistory")).SetRequireAuth(true)

	raw, ok := params[ParamPagination]
	if !ok || raw == nil {
		return req, nil
	}
	var page core.Pagination
	switch v := raw.(type) {
	case core.Pagination:
		page = v
	case *core.Pagination:
		if v == nil {
			return req, nil
		}
		page = *v
	default:
		return nil, fmt.Errorf("parameter %s must be a core.Pagination", ParamPagination)
	}
	if page.Count < 0 || page.Before < 0 || page.After < 0 {
		return nil, fmt.Errorf("pagination values must not be negative")
	}
	if page.Count > 0 {
		req.SetQuery("count", strconv.FormatInt(page.Count, 10))
	}
	if page.Before > 0 {
		req.SetQuery("before", strconv.FormatInt(page.Before, 10))
	}
	if page.After > 0 {
		req.SetQuery("after", strconv.FormatInt(page.After, 10))
	}
	return req, nil
}

func (p *Protocol) buildSendChildOrderRequest(params core.Params) (*core.Request, error) {
	order, ok := params[ParamOrder].(*core.ChildOrderRequest)
	if !ok || order == nil {
		return nil, fmt.Errorf("missing required parameter: %s", ParamOrder)
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodPost, p.path("me/sendchildorder"))
	req.SetBody(p.normalizer.DenormalizeChildOrder(order))
	req.SetRequireAuth(true)
	return req, nil
}

// ParseResponse decodes a 2xx body into the record type of op.
func (p *Protocol) ParseResponse(op core.Operation, body []byte) (any, error) {
	n := p.normalizer

	switch op {
	case core.OpGetTicker:
		var data rawTicker
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal ticker: %w", err)
		}
		return n.NormalizeTicker(&data)

	case core.OpGetHealth:
		var data rawHealth
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal health: %w", err)
		}
		return n.NormalizeHealth(&data)

	case core.OpGetBalance:
		var data []rawBalance
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal balance: %w", err)
		}
		return n.NormalizeBalances(data)

	case core.OpGetCollateral:
		var data rawCollateral
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal collateral: %w", err)
		}
		return n.NormalizeCollateral(&data)

	case core.OpGetCollateralHistory:
		var data []rawCollateralHistory
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal collateral history: %w", err)
		}
		return n.NormalizeCollateralHistory(data)

	case core.OpGetPositions:
		var data []rawPosition
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal positions: %w", err)
		}
		return n.NormalizePositions(data)

	case core.OpSendChildOrder:
		var data rawChildOrderResponse
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal child order response: %w", err)
		}
		return &core.ChildOrderResponse{ChildOrderAcceptanceID: data.ChildOrderAcceptanceID}, nil

	default:
		return nil, fmt.Errorf("unsupported operation: %s", op)
	}
}

type apiError struct {
	Status       int    `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// parseError builds the ExchangeError of a non-2xx response. The message is
// the raw body and the code follows the HTTP status.
func parseError(statusCode int, path string, body []byte) *core.ExchangeError {
	err := core.NewStatusError(statusCode, path, string(body))
	var apiErr apiError
	if sonic.Unmarshal(body, &apiErr) == nil {
		err.VenueStatus = apiErr.Status
	}
	return err
}

func productParam(params core.Params) (core.ProductCode, error) {
	raw, ok := params[ParamProductCode]
	if !ok || raw == nil {
		return "", nil
	}
	switch v := raw.(type) {
	case core.ProductCode:
		return v, nil
	case string:
		return core.ProductCode(v), nil
	default:
		return "", fmt.Errorf("parameter %s must be a string", ParamProductCode)
	}
}
