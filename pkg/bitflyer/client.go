package bitflyer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	internalhttp "bitflyer/internal/http"
	"bitflyer/pkg/core"
)

var _ core.Protocol = (*Protocol)(nil)

// Client is the synchronous REST client. Private calls are signed with the
// configured credentials; public calls work without them.
type Client struct {
	config   *core.Config
	protocol *Protocol
	signer   *Signer
	http     *internalhttp.Client
	logger   zerolog.Logger
	clock    func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client and its HTTP transport.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRequestClock replaces the clock used to timestamp signed requests.
func WithRequestClock(now func() time.Time) Option {
	return func(c *Client) {
		c.clock = now
	}
}

// New creates a REST client from config.
func New(config *core.Config, opts ...Option) (*Client, error) {
	if config == nil {
		config = core.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{
		config:   config,
		protocol: NewProtocol(config.APIVersion),
		logger:   zerolog.Nop(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.signer = NewSigner(config.Credentials, WithClock(c.clock))

	httpClient, err := internalhttp.NewClient(&internalhttp.Config{
		BaseURL: config.BaseURL,
		Timeout: config.Timeout,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}
	c.http = httpClient

	return c, nil
}

// Close releases the HTTP transport.
func (c *Client) Close() error {
	return c.http.Close()
}

// GetTicker returns the ticker of product.
func (c *Client) GetTicker(ctx context.Context, product core.ProductCode) (*core.Ticker, error) {
	res, err := c.execute(ctx, core.OpGetTicker, core.Params{ParamProductCode: product})
	if err != nil {
		return nil, err
	}
	return res.(*core.Ticker), nil
}

// GetHealth returns the exchange status of product.
func (c *Client) GetHealth(ctx context.Context, product core.ProductCode) (*core.Health, error) {
	res, err := c.execute(ctx, core.OpGetHealth, core.Params{ParamProductCode: product})
	if err != nil {
		return nil, err
	}
	return res.(*core.Health), nil
}

// GetBalance returns the asset balances of the account.
func (c *Client) GetBalance(ctx context.Context) ([]core.Balance, error) {
	res, err := c.execute(ctx, core.OpGetBalance, nil)
	if err != nil {
		return nil, err
	}
	return res.([]core.Balance), nil
}

// GetCollateral returns the margin account summary.
func (c *Client) GetCollateral(ctx context.Context) (*core.Collateral, error) {
	res, err := c.execute(ctx, core.OpGetCollateral, nil)
	if err != nil {
		return nil, err
	}
	return res.(*core.Collateral), nil
}

// GetCollateralHistory returns margin account changes within page.
func (c *Client) GetCollateralHistory(ctx context.Context, page core.Pagination) ([]core.CollateralHistory, error) {
	res, err := c.execute(ctx, core.OpGetCollateralHistory, core.Params{ParamPagination: page})
	if err != nil {
		return nil, err
	}
	return res.([]core.CollateralHistory), nil
}

// GetPositions returns the open positions of a margin product.
func (c *Client) GetPositions(ctx context.Context, product core.ProductCode) ([]core.Position, error) {
	res, err := c.execute(ctx, core.OpGetPositions, core.Params{ParamProductCode: product})
	if err != nil {
		return nil, err
	}
	return res.([]core.Position), nil
}

// SendChildOrder submits order. It is never retried.
func (c *Client) SendChildOrder(ctx context.Context, order *core.ChildOrderRequest) (*core.ChildOrderResponse, error) {
	res, err := c.execute(ctx, core.OpSendChildOrder, core.Params{ParamOrder: order})
	if err != nil {
		return nil, err
	}
	return res.(*core.ChildOrderResponse), nil
}

func (c *Client) execute(ctx context.Context, op core.Operation, params core.Params) (any, error) {
	req, err := c.protocol.BuildRequest(op, params)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}

	var body string
	if req.Body != nil {
		data, err := sonic.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", op, err)
		}
		body = string(data)
	}

	query := req.Values()
	target := req.Path
	if req.Method != http.MethodPost && len(query) > 0 {
		target += "?" + query.Encode()
	}

	opts := []internalhttp.RequestOption{}
	if req.RequireAuth {
		headers, err := c.signer.Sign(req.Method, req.Path, body, query)
		if err != nil {
			return nil, err
		}
		opts = append(opts, internalhttp.WithHeaders(headers))
	} else if body != "" {
		opts = append(opts, internalhttp.WithHeader(HeaderContentType, "application/json"))
	}

	resp, err := c.http.Do(ctx, req.Method, target, body, opts...)
	if err != nil {
		if errors.Is(err, core.ErrClientClosed) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		errType, code := core.ErrorTypeNetwork, core.ErrCodeNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			errType, code = core.ErrorTypeTimeout, core.ErrCodeTimeout
		}
		return nil, core.NewExchangeError(errType, 0, req.Path, err.Error()).WithCode(code)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		c.logger.Error().
			Str("op", op.String()).
			Str("path", req.Path).
			Int("status", status).
			Str("body", string(resp.Bytes())).
			Msg("request failed")
		return nil, parseError(status, req.Path, resp.Bytes())
	}

	return c.protocol.ParseResponse(op, resp.Bytes())
}
