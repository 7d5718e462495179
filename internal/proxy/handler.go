package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cascadeflow/gateway/internal/pricing"
	"github.com/cascadeflow/gateway/internal/tracking"
	"github.com/cascadeflow/gateway/internal/usage"
)

// PostResponseHook runs after a successful upstream exchange. Used for
// billing; must not block the caller for long.
type PostResponseHook func(plan *Plan, result *Result)

// Handler executes planned requests against their upstream route.
type Handler struct {
	client  *http.Client
	pricer  *pricing.Resolver
	tracker *tracking.Tracker
	hook    PostResponseHook
	logger  *zap.Logger
}

type HandlerOption func(*Handler)

func WithTracker(t *tracking.Tracker) HandlerOption {
	return func(h *Handler) { h.tracker = t }
}

func WithPostResponseHook(hook PostResponseHook) HandlerOption {
	return func(h *Handler) { h.hook = hook }
}

func WithHTTPClient(c *http.Client) HandlerOption {
	return func(h *Handler) { h.client = c }
}

func NewHandler(pricer *pricing.Resolver, logger *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		client: &http.Client{},
		pricer: pricer,
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Execute performs the single upstream HTTP exchange for plan. Network
// failures return a TransportError, non-2xx responses an UpstreamError.
func (h *Handler) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	route := plan.Route

	payload, err := json.Marshal(plan.Request.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if route.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, route.Timeout)
		defer cancel()
	}

	url := route.BaseURL + plan.Request.Path
	req, err := http.NewRequestWithContext(ctx, plan.Request.Method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	h.applyHeaders(req, plan)

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	latency := time.Since(start).Milliseconds()

	data := parseBody(resp.Header.Get("Content-Type"), body)

	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: data, RawBody: body}
	}

	result := &Result{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Data:       data,
		RawBody:    body,
		Provider:   plan.Provider,
		Model:      plan.Model,
		LatencyMS:  latency,
	}
	h.attachCost(plan, result)

	if h.hook != nil {
		h.hook(plan, result)
	}
	return result, nil
}

func (h *Handler) applyHeaders(req *http.Request, plan *Plan) {
	req.Header.Set("Content-Type", "application/json")
	for k, v := range plan.Route.DefaultHeaders {
		req.Header.Set(k, v)
	}
	hasAuth := false
	for k, v := range plan.Request.Headers {
		req.Header.Set(k, v)
		if strings.EqualFold(k, "Authorization") {
			hasAuth = true
		}
	}
	if plan.Route.APIKey != "" && !hasAuth {
		req.Header.Set("Authorization", "Bearer "+plan.Route.APIKey)
	}
}

func (h *Handler) attachCost(plan *Plan, result *Result) {
	data, ok := result.Data.(map[string]interface{})
	if !ok {
		return
	}
	rawUsage, ok := data["usage"].(map[string]interface{})
	if !ok {
		return
	}
	u := usage.FromPayload(rawUsage)
	result.Usage = &u

	cost := h.pricer.ResolveCost(plan.Model, u, nil, plan.Route.CostPer1KTokens)
	result.Cost = &cost

	if h.tracker == nil {
		return
	}
	_, err := h.tracker.Charge(tracking.CostEntry{
		Model:    plan.Model,
		Provider: plan.Provider,
		Tokens:   u.TotalTokens(),
		Cost:     cost,
		UserID:   plan.Request.UserID,
		UserTier: plan.Request.UserTier,
		QueryID:  plan.Request.QueryID,
		Metadata: map[string]interface{}{"proxy": true, "route": plan.Route.Name},
	})
	if err != nil {
		h.logger.Warn("proxy charge refused",
			zap.String("user_id", plan.Request.UserID),
			zap.Error(err))
	}
}

func parseBody(contentType string, body []byte) interface{} {
	var data interface{}
	if strings.Contains(contentType, "application/json") {
		if err := json.Unmarshal(body, &data); err == nil {
			return data
		}
		return string(body)
	}
	if err := json.Unmarshal(body, &data); err == nil {
		return data
	}
	return string(body)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
