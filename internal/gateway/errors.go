package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cascadeflow/gateway/internal/proxy"
)

// apiFamily selects the wire error shape.
type apiFamily string

const (
	familyOpenAI    apiFamily = "openai"
	familyAnthropic apiFamily = "anthropic"
)

// wireError is the client-facing translation of an internal failure.
type wireError struct {
	Status        int
	OpenAIType    string
	AnthropicType string
	Message       string
}

func invalidRequest(message string) wireError {
	return wireError{
		Status:        http.StatusBadRequest,
		OpenAIType:    "invalid_request_error",
		AnthropicType: "invalid_request_error",
		Message:       message,
	}
}

// translateError maps proxy and internal errors onto the wire table.
func translateError(err error) wireError {
	var routing *proxy.RoutingError
	if errors.As(err, &routing) {
		return invalidRequest(routing.Error())
	}

	var upstream *proxy.UpstreamError
	if errors.As(err, &upstream) {
		switch {
		case upstream.StatusCode == http.StatusTooManyRequests:
			return wireError{
				Status:        http.StatusTooManyRequests,
				OpenAIType:    "rate_limit_exceeded",
				AnthropicType: "rate_limit_error",
				Message:       "upstream rate limit exceeded",
			}
		case upstream.StatusCode == 529:
			return wireError{
				Status:        http.StatusServiceUnavailable,
				OpenAIType:    "upstream_error",
				AnthropicType: "overloaded_error",
				Message:       "upstream provider is overloaded",
			}
		default:
			return wireError{
				Status:        http.StatusBadGateway,
				OpenAIType:    "upstream_error",
				AnthropicType: "api_error",
				Message:       upstream.Error(),
			}
		}
	}

	var transport *proxy.TransportError
	if errors.As(err, &transport) {
		return wireError{
			Status:        http.StatusBadGateway,
			OpenAIType:    "upstream_error",
			AnthropicType: "api_error",
			Message:       transport.Error(),
		}
	}

	return wireError{
		Status:        http.StatusInternalServerError,
		OpenAIType:    "server_error",
		AnthropicType: "api_error",
		Message:       err.Error(),
	}
}

func (e wireError) typeFor(family apiFamily) string {
	if family == familyAnthropic {
		return e.AnthropicType
	}
	return e.OpenAIType
}

// writeError sends the canonical error body for the API family.
func writeError(w http.ResponseWriter, family apiFamily, e wireError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)

	var body interface{}
	if family == familyAnthropic {
		body = map[string]interface{}{
			"type": "error",
			"error": map[string]interface{}{
				"type":    e.AnthropicType,
				"message": e.Message,
			},
		}
	} else {
		body = map[string]interface{}{
			"error": map[string]interface{}{
				"message": e.Message,
				"type":    e.OpenAIType,
				"code":    nil,
			},
		}
	}
	json.NewEncoder(w).Encode(body)
}
