// Package proxy routes requests to upstream providers and executes them.
package proxy

import (
	"strings"
	"time"

	"github.com/cascadeflow/gateway/internal/models"
	"github.com/cascadeflow/gateway/internal/usage"
)

// Route binds a provider to an upstream endpoint.
type Route struct {
	Name            string            `json:"name" mapstructure:"name"`
	Provider        string            `json:"provider" mapstructure:"provider"`
	BaseURL         string            `json:"base_url" mapstructure:"base_url"`
	Models          []string          `json:"models,omitempty" mapstructure:"models"`
	DefaultHeaders  map[string]string `json:"default_headers,omitempty" mapstructure:"default_headers"`
	Timeout         time.Duration     `json:"timeout" mapstructure:"timeout"`
	APIKey          string            `json:"-" mapstructure:"api_key"`
	CostPer1KTokens *float64          `json:"cost_per_1k_tokens,omitempty" mapstructure:"cost_per_1k_tokens"`
}

func (r *Route) allowsModel(model string) bool {
	if len(r.Models) == 0 {
		return true
	}
	for _, m := range r.Models {
		if m == model {
			return true
		}
	}
	return false
}

// Request is the client request in transit to an upstream.
type Request struct {
	Method   string
	Path     string
	Body     map[string]interface{}
	Headers  map[string]string
	UserID   string
	UserTier string
	QueryID  string
}

// Plan binds a Request to its selected Route. Model is the bare model
// name with any provider prefix stripped, and body.model matches it.
type Plan struct {
	Request  *Request
	Route    *Route
	Model    string
	Provider string
}

// Result is the upstream response after execution.
type Result struct {
	StatusCode int
	Headers    map[string]string
	Data       interface{}
	RawBody    []byte
	Provider   string
	Model      string
	LatencyMS  int64
	Usage      *usage.Usage
	Cost       *float64
}

// Router selects a route for a model identifier.
type Router struct {
	routes          []Route
	byProvider      map[string]*Route
	registry        *models.Registry
	defaultProvider string
}

func NewRouter(routes []Route, registry *models.Registry, defaultProvider string) *Router {
	r := &Router{
		routes:          routes,
		byProvider:      make(map[string]*Route, len(routes)),
		registry:        registry,
		defaultProvider: defaultProvider,
	}
	for i := range routes {
		route := &r.routes[i]
		if _, seen := r.byProvider[route.Provider]; !seen {
			r.byProvider[route.Provider] = route
		}
	}
	return r
}

// ParseModel splits "provider:model" or "provider/model" identifiers.
// An unprefixed identifier falls back to the registry binding, then the
// default provider.
func (r *Router) ParseModel(identifier string) (provider, model string) {
	for _, sep := range []string{":", "/"} {
		if idx := strings.Index(identifier, sep); idx > 0 {
			left, right := identifier[:idx], identifier[idx+1:]
			if _, known := r.byProvider[left]; known {
				return left, right
			}
		}
	}
	if r.registry != nil {
		if p, ok := r.registry.ProviderOf(identifier); ok {
			return p, identifier
		}
	}
	return r.defaultProvider, identifier
}

// PlanRequest resolves the route for req and rewrites body.model to the
// bare name. Fails with a RoutingError when nothing matches.
func (r *Router) PlanRequest(req *Request) (*Plan, error) {
	identifier, _ := req.Body["model"].(string)
	provider, model := r.ParseModel(identifier)

	route := r.selectRoute(provider, model)
	if route == nil {
		return nil, &RoutingError{Model: identifier}
	}

	req.Body["model"] = model
	return &Plan{Request: req, Route: route, Model: model, Provider: route.Provider}, nil
}

func (r *Router) selectRoute(provider, model string) *Route {
	if route, ok := r.byProvider[provider]; ok && route.allowsModel(model) {
		return route
	}
	// Any route whose whitelist names the model can serve it.
	for i := range r.routes {
		route := &r.routes[i]
		if len(route.Models) > 0 && route.allowsModel(model) {
			return route
		}
	}
	return nil
}
