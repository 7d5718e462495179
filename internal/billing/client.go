// Package billing reports usage events to the Paygentic API. Reporting
// is fail-open: billing outages never break the request path.
package billing

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cascadeflow/gateway/internal/usage"
)

const (
	defaultBaseURL    = "https://api.paygentic.com"
	sandboxBaseURL    = "https://sandbox.paygentic.com"
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond
)

// QuantityMode selects what a usage event counts.
type QuantityMode string

const (
	QuantityTokens   QuantityMode = "tokens"
	QuantityCostUSD  QuantityMode = "cost_usd"
	QuantityRequests QuantityMode = "requests"
)

// costScale converts USD to the integer unit reported in cost_usd mode.
const costScale = 10000

// APIError is a non-retryable upstream rejection.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("billing api returned %d: %s", e.StatusCode, e.Body)
}

// Config holds the Paygentic connection settings, loadable from the
// PAYGENTIC_* environment.
type Config struct {
	APIKey           string        `mapstructure:"api_key"`
	MerchantID       string        `mapstructure:"merchant_id"`
	BillableMetricID string        `mapstructure:"billable_metric_id"`
	BaseURL          string        `mapstructure:"base_url"`
	Sandbox          bool          `mapstructure:"sandbox"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	QuantityMode     QuantityMode  `mapstructure:"quantity_mode"`
}

// Enabled reports whether the config is complete enough to bill.
func (c Config) Enabled() bool {
	return c.APIKey != "" && c.MerchantID != "" && c.BillableMetricID != ""
}

// ConfigFromEnv reads the PAYGENTIC_* variables.
func ConfigFromEnv() Config {
	cfg := Config{
		APIKey:           os.Getenv("PAYGENTIC_API_KEY"),
		MerchantID:       os.Getenv("PAYGENTIC_MERCHANT_ID"),
		BillableMetricID: os.Getenv("PAYGENTIC_BILLABLE_METRIC_ID"),
		BaseURL:          os.Getenv("PAYGENTIC_BASE_URL"),
		Timeout:          defaultTimeout,
		MaxRetries:       defaultMaxRetries,
		RetryBackoff:     defaultBackoff,
		QuantityMode:     QuantityTokens,
	}
	cfg.Sandbox = envTruthy("PAYGENTIC_SANDBOX")
	if v := os.Getenv("PAYGENTIC_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Timeout = time.Duration(secs * float64(time.Second))
		}
	}
	if v := os.Getenv("PAYGENTIC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("PAYGENTIC_RETRY_BACKOFF_SECONDS"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RetryBackoff = time.Duration(secs * float64(time.Second))
		}
	}
	return cfg
}

func envTruthy(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Client is a thin POST client over the Paygentic API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
		if cfg.Sandbox {
			cfg.BaseURL = sandboxBaseURL
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultBackoff
	}
	if cfg.QuantityMode == "" {
		cfg.QuantityMode = QuantityTokens
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// CreateCustomer registers a customer under the configured merchant.
func (c *Client) CreateCustomer(ctx context.Context, customerID, email string) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"merchant_id": c.cfg.MerchantID,
		"external_id": customerID,
		"email":       email,
	}
	key := IdempotencyKey("customer", c.cfg.MerchantID, customerID, "", "", "")
	return c.post(ctx, "/v1/customers", payload, key)
}

// CreateSubscription subscribes a customer to the billable metric.
func (c *Client) CreateSubscription(ctx context.Context, customerID, planID string) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"merchant_id": c.cfg.MerchantID,
		"customer_id": customerID,
		"plan_id":     planID,
	}
	key := IdempotencyKey("subscription", c.cfg.MerchantID, customerID, planID, "", "")
	return c.post(ctx, "/v1/subscriptions", payload, key)
}

// CreateUsageEvent reports one quantity for a customer at a timestamp.
// Zero quantities are skipped and return nil, nil.
func (c *Client) CreateUsageEvent(ctx context.Context, customerID string, u usage.Usage, cost float64, at time.Time) (map[string]interface{}, error) {
	quantity := Quantity(c.cfg.QuantityMode, u, cost)
	if quantity == 0 {
		return nil, nil
	}
	ts := at.UTC().Format(time.RFC3339)
	payload := map[string]interface{}{
		"merchant_id": c.cfg.MerchantID,
		"customer_id": customerID,
		"metric_id":   c.cfg.BillableMetricID,
		"timestamp":   ts,
		"quantity":    quantity,
	}
	key := IdempotencyKey("usage", c.cfg.MerchantID, customerID, c.cfg.BillableMetricID, ts, strconv.FormatInt(quantity, 10))
	return c.post(ctx, "/v1/usage-events", payload, key)
}

// Quantity converts a usage record into the configured billing unit.
func Quantity(mode QuantityMode, u usage.Usage, cost float64) int64 {
	switch mode {
	case QuantityCostUSD:
		return int64(math.Round(cost * costScale))
	case QuantityRequests:
		return 1
	default:
		return int64(u.TotalTokens())
	}
}

// IdempotencyKey derives the deterministic retry key for an operation:
// the first 24 hex chars of SHA-256 over the pipe-joined canonical tuple.
func IdempotencyKey(scope, merchantID, customerID, metricID, isoTimestamp, quantity string) string {
	canonical := strings.Join([]string{scope, merchantID, customerID, metricID, isoTimestamp, quantity}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:24]
}

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

func (c *Client) post(ctx context.Context, path string, payload map[string]interface{}, idempotencyKey string) (map[string]interface{}, error) {
	body, err := canonicalJSON(payload)
	if err != nil {
		return nil, err
	}

	var lastErr error
	backoff := c.cfg.RetryBackoff
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Idempotency-Key", idempotencyKey)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode < 300 {
			var out map[string]interface{}
			if len(respBody) > 0 {
				if err := json.Unmarshal(respBody, &out); err != nil {
					return nil, fmt.Errorf("billing: decode response: %w", err)
				}
			}
			return out, nil
		}
		if retryableStatus[resp.StatusCode] {
			lastErr = &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
			continue
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil, fmt.Errorf("billing: retries exhausted: %w", lastErr)
}

// canonicalJSON serializes with sorted keys and no whitespace so the
// same payload always produces the same bytes.
func canonicalJSON(payload map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kj, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vj, err := json.Marshal(payload[k])
		if err != nil {
			return nil, err
		}
		b.Write(kj)
		b.WriteByte(':')
		b.Write(vj)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}
