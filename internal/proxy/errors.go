package proxy

import "fmt"

// RoutingError means no configured route can serve the requested model.
type RoutingError struct {
	Model string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no route for model %q", e.Model)
}

// TransportError wraps a network-level failure (dial, TLS, timeout).
// These never carry an upstream status code.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError is a non-2xx upstream response with its body preserved
// for diagnostics.
type UpstreamError struct {
	StatusCode int
	Body       interface{}
	RawBody    []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.StatusCode)
}
