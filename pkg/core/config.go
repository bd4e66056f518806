package core

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultBaseURL is the REST endpoint.
	DefaultBaseURL = "https://api.bitflyer.com"
	// DefaultStreamURL is the realtime JSON-RPC endpoint.
	DefaultStreamURL = "wss://ws.lightstream.bitflyer.com/json-rpc"
	// DefaultAPIVersion is the REST API version prefix.
	DefaultAPIVersion = "v1"
)

// Credentials holds the API key pair. A nil *Credentials means
// unauthenticated mode.
type Credentials struct {
	AccessKey    string `json:"access_key" mapstructure:"access_key"`
	AccessSecret string `json:"-" mapstructure:"access_secret"`
}

// Empty reports whether either half of the key pair is missing.
func (c *Credentials) Empty() bool {
	return c == nil || c.AccessKey == "" || c.AccessSecret == ""
}

// String masks the key and never prints the secret.
func (c *Credentials) String() string {
	if c == nil {
		return "<none>"
	}
	return maskKey(c.AccessKey)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// Config contains the options for the REST client and the realtime stream.
type Config struct {
	BaseURL     string       `json:"base_url" mapstructure:"base_url" validate:"required,url"`
	APIVersion  string       `json:"api_version" mapstructure:"api_version" validate:"required"`
	StreamURL   string       `json:"stream_url" mapstructure:"stream_url" validate:"required,url"`
	Credentials *Credentials `json:"credentials,omitempty" mapstructure:"credentials"`

	// Timeout is the maximum duration for HTTP requests.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout" validate:"min=1ms"`

	// PingInterval is how often the stream sends a ping.
	PingInterval time.Duration `json:"ping_interval" mapstructure:"ping_interval" validate:"min=1ms"`
	// PongTimeout is how long the stream waits past PingInterval before the connection is considered dead.
	PongTimeout time.Duration `json:"pong_timeout" mapstructure:"pong_timeout" validate:"min=1ms"`
	// ReconnectDelay is the fixed wait between a lost connection and the next dial.
	ReconnectDelay time.Duration `json:"reconnect_delay" mapstructure:"reconnect_delay" validate:"min=0"`

	// Products and Candlesticks span the chart table.
	Products     []ProductCode `json:"products" mapstructure:"products" validate:"required,min=1"`
	Candlesticks []Candlestick `json:"candlesticks" mapstructure:"candlesticks" validate:"required,min=1"`

	LogLevel string `json:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config for the production endpoints with a 10s
// request timeout, a 30s ping with 10s pong timeout and a 1s reconnect delay.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        DefaultBaseURL,
		APIVersion:     DefaultAPIVersion,
		StreamURL:      DefaultStreamURL,
		Timeout:        10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
		ReconnectDelay: 1 * time.Second,
		Products:       Products(),
		Candlesticks:   Candlesticks(),
		LogLevel:       "info",
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Credentials != nil && (c.Credentials.AccessKey == "") != (c.Credentials.AccessSecret == "") {
		return fmt.Errorf("credentials need both access key and access secret")
	}
	if _, err := c.ChartTable(); err != nil {
		return err
	}
	return nil
}

// ChartTable builds the product × candlestick table from this config.
func (c *Config) ChartTable() (*ChartTable, error) {
	return NewChartTable(c.Products, c.Candlesticks)
}

// WithCredentials sets the API credentials and returns the config for chaining.
func (c *Config) WithCredentials(creds *Credentials) *Config {
	c.Credentials = creds
	return c
}

// WithTimeout sets the request timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithHeartbeat sets the ping interval and pong timeout and returns the config for chaining.
func (c *Config) WithHeartbeat(ping, pong time.Duration) *Config {
	c.PingInterval = ping
	c.PongTimeout = pong
	return c
}

// WithReconnectDelay sets the fixed reconnect delay and returns the config for chaining.
func (c *Config) WithReconnectDelay(d time.Duration) *Config {
	c.ReconnectDelay = d
	return c
}

// WithEndpoints overrides the REST and stream URLs and returns the config for chaining.
func (c *Config) WithEndpoints(baseURL, streamURL string) *Config {
	c.BaseURL = baseURL
	c.StreamURL = streamURL
	return c
}
