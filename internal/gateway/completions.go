package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cascadeflow/gateway/internal/cascade"
	"github.com/cascadeflow/gateway/internal/metrics"
	"github.com/cascadeflow/gateway/internal/models"
	"github.com/cascadeflow/gateway/internal/tracking"
)

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.serveChat(w, r, familyOpenAI, false)
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	s.serveChat(w, r, familyOpenAI, true)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.serveChat(w, r, familyAnthropic, false)
}

// serveChat is the shared pipeline behind chat, legacy-completion and
// messages endpoints.
func (s *Server) serveChat(w http.ResponseWriter, r *http.Request, family apiFamily, legacy bool) {
	start := time.Now()
	endpoint := r.URL.Path
	demo := demoFrom(r.Context())

	req, err := decodeChatRequest(r.Body)
	if err != nil {
		s.collector.RecordError("invalid_request_error", endpoint)
		writeError(w, family, invalidRequest(err.Error()))
		return
	}
	if req.Model == "" {
		s.collector.RecordError("invalid_request_error", endpoint)
		writeError(w, family, invalidRequest("missing required field: model"))
		return
	}

	comp := s.toCompletion(req)
	if len(comp.Messages) == 0 {
		writeError(w, family, invalidRequest("missing required field: messages"))
		return
	}

	engine, err := s.engineFor(req.Model)
	if err != nil {
		writeError(w, family, translateError(err))
		return
	}

	tier := "default"
	if demo.Active {
		tier = "free"
	}
	events := engine.Run(r.Context(), comp, tier)

	var result *cascade.Result
	if req.Stream && !s.cfg.Gateway.NoStream {
		if family == familyAnthropic {
			result = s.streamAnthropic(w, req, events, demo, start)
		} else {
			result = s.streamOpenAI(w, req, events, demo, start, legacy)
		}
		if result == nil {
			s.collector.RecordError("upstream_error", endpoint)
			return
		}
	} else {
		result, err = collectResult(events)
		if err != nil {
			we := translateError(err)
			s.collector.RecordError(we.typeFor(family), endpoint)
			writeError(w, family, we)
			return
		}
		s.writeCompletion(w, family, legacy, req, result, demo, start)
	}

	s.finish(r, endpoint, result, time.Since(start), demo)
}

// engineFor returns the shared cascade engine for virtual model names
// and a direct single-model engine for explicit concrete requests.
func (s *Server) engineFor(requested string) (*cascade.Engine, error) {
	if models.IsVirtual(requested) || requested == s.cfg.Gateway.AdvertiseModel {
		return s.engine, nil
	}
	var completer cascade.Completer
	if s.mode == ModeMock {
		completer = newMockCompleter(requested)
	} else {
		completer = newUpstreamCompleter(requested, s.router, s.handler)
	}
	calc := cascade.NewCalculator(s.pricer)
	return cascade.NewEngine(completer, s.modelConfig(requested), calc, s.logger), nil
}

func collectResult(events <-chan cascade.StreamEvent) (*cascade.Result, error) {
	for ev := range events {
		switch ev.Type {
		case cascade.EventComplete:
			if result, ok := ev.Data["result"].(*cascade.Result); ok {
				return result, nil
			}
		case cascade.EventError:
			return nil, ev.Cause()
		}
	}
	return nil, errors.New("cascade ended without a result")
}

// finish charges the tenant, records metrics and reports billing.
// Runs strictly after the response is produced.
func (s *Server) finish(r *http.Request, endpoint string, result *cascade.Result, elapsed time.Duration, demo demoInfo) {
	cost := metaFloat(result.Metadata, "total_cost")
	userID := "api"
	tier := "default"
	if demo.Active {
		userID = "demo:" + clientIP(r)
		tier = "free"
	}

	provider := ""
	if cfg, ok := s.registry.Get(result.ModelUsed); ok {
		provider = cfg.Provider
	} else {
		provider, _ = s.router.ParseModel(result.ModelUsed)
	}

	if cost > 0 || result.Usage.TotalTokens() > 0 {
		if _, err := s.tracker.Charge(tracking.CostEntry{
			Model:    result.ModelUsed,
			Provider: provider,
			Tokens:   result.Usage.TotalTokens(),
			Cost:     cost,
			UserID:   userID,
			UserTier: tier,
			QueryID:  uuid.NewString(),
			Metadata: map[string]interface{}{"endpoint": endpoint},
		}); err != nil {
			s.logger.Warn("charge refused", zap.String("user_id", userID), zap.Error(err))
		}
	}

	s.collector.Record(metrics.RequestRecord{
		Endpoint:      endpoint,
		Model:         result.ModelUsed,
		Provider:      provider,
		DraftAccepted: result.DraftAccepted,
		Cascaded:      s.engineHasVerifier(),
		InputTokens:   result.Usage.InputTokens,
		OutputTokens:  result.Usage.OutputTokens,
		Cost:          cost,
		CostSaved:     result.CostSaved,
		Latency:       elapsed,
	})

	if s.reporter != nil {
		s.reporter.ReportUsage(userID, result.Usage, cost, time.Now())
	}
}

func (s *Server) engineHasVerifier() bool {
	return s.cfg.Cascade.Enabled && s.mode == ModeAgent
}

// envelope builds the out-of-spec cascadeflow response extension.
func (s *Server) envelope(result *cascade.Result, elapsed time.Duration, demo demoInfo) map[string]interface{} {
	meta := map[string]interface{}{
		"draft_accepted":   result.DraftAccepted,
		"quality_score":    result.QualityScore,
		"complexity":       result.Complexity,
		"cascade_overhead": elapsed.Seconds(),
	}
	if demo.Active {
		meta["demo_queries_remaining"] = demo.Remaining
		meta["demo_queries_limit"] = demo.Limit
	}
	env := map[string]interface{}{
		"model_used": result.ModelUsed,
		"metadata":   meta,
	}
	if cost := metaFloat(result.Metadata, "total_cost"); cost > 0 {
		env["cost"] = cost
	}
	return env
}

// writeCompletion renders the non-streaming response for any family.
func (s *Server) writeCompletion(w http.ResponseWriter, family apiFamily, legacy bool, req *chatRequest, result *cascade.Result, demo demoInfo, start time.Time) {
	elapsed := time.Since(start)
	if family == familyAnthropic {
		writeJSON(w, http.StatusOK, s.anthropicMessage(req, result, demo, elapsed))
		return
	}
	if legacy {
		writeJSON(w, http.StatusOK, s.legacyCompletion(req, result, demo, elapsed))
		return
	}
	writeJSON(w, http.StatusOK, s.chatCompletion(req, result, demo, elapsed))
}

func (s *Server) chatCompletion(req *chatRequest, result *cascade.Result, demo demoInfo, elapsed time.Duration) map[string]interface{} {
	finish := "stop"
	message := map[string]interface{}{
		"role":    "assistant",
		"content": result.Content,
	}
	if len(result.ToolCalls) > 0 {
		finish = "tool_calls"
		message["tool_calls"] = wireToolCalls(result.ToolCalls)
	}
	body := map[string]interface{}{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []interface{}{map[string]interface{}{
			"index":         0,
			"message":       message,
			"finish_reason": finish,
		}},
		"usage": result.Usage.ToMap(),
	}
	if s.cfg.Gateway.IncludeGatewayMetadata {
		body["cascadeflow"] = s.envelope(result, elapsed, demo)
	}
	return body
}

func (s *Server) legacyCompletion(req *chatRequest, result *cascade.Result, demo demoInfo, elapsed time.Duration) map[string]interface{} {
	body := map[string]interface{}{
		"id":      "cmpl-" + uuid.NewString(),
		"object":  "text_completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []interface{}{map[string]interface{}{
			"index":         0,
			"text":          result.Content,
			"finish_reason": "stop",
		}},
		"usage": result.Usage.ToMap(),
	}
	if s.cfg.Gateway.IncludeGatewayMetadata {
		body["cascadeflow"] = s.envelope(result, elapsed, demo)
	}
	return body
}

func (s *Server) anthropicMessage(req *chatRequest, result *cascade.Result, demo demoInfo, elapsed time.Duration) map[string]interface{} {
	var content []interface{}
	if result.Content != "" {
		content = append(content, map[string]interface{}{
			"type": "text",
			"text": result.Content,
		})
	}
	stopReason := "end_turn"
	for _, call := range result.ToolCalls {
		stopReason = "tool_use"
		var input interface{} = map[string]interface{}{}
		if call.Arguments != "" {
			var parsed interface{}
			if err := json.Unmarshal([]byte(call.Arguments), &parsed); err == nil {
				input = parsed
			}
		}
		content = append(content, map[string]interface{}{
			"type":  "tool_use",
			"id":    call.ID,
			"name":  call.Name,
			"input": input,
		})
	}

	body := map[string]interface{}{
		"id":          "msg_" + uuid.NewString(),
		"type":        "message",
		"role":        "assistant",
		"model":       req.Model,
		"content":     content,
		"stop_reason": stopReason,
		"usage": map[string]interface{}{
			"input_tokens":  result.Usage.InputTokens,
			"output_tokens": result.Usage.OutputTokens,
		},
	}
	if s.cfg.Gateway.IncludeGatewayMetadata {
		body["cascadeflow"] = s.envelope(result, elapsed, demo)
	}
	return body
}

func wireToolCalls(calls []cascade.ToolCall) []interface{} {
	out := make([]interface{}, len(calls))
	for i, call := range calls {
		out[i] = map[string]interface{}{
			"id":   call.ID,
			"type": "function",
			"function": map[string]interface{}{
				"name":      call.Name,
				"arguments": call.Arguments,
			},
		}
	}
	return out
}

func metaFloat(metadata map[string]interface{}, key string) float64 {
	switch v := metadata[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
