package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cascadeflow/gateway/internal/proxy"
)

type embeddingsRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

func (req *embeddingsRequest) inputs() []string {
	var s string
	if err := json.Unmarshal(req.Input, &s); err == nil {
		return []string{s}
	}
	var list []string
	if err := json.Unmarshal(req.Input, &list); err == nil {
		return list
	}
	return nil
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Path

	var req embeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, familyOpenAI, invalidRequest("malformed request body: "+err.Error()))
		return
	}
	if req.Model == "" {
		writeError(w, familyOpenAI, invalidRequest("missing required field: model"))
		return
	}
	inputs := req.inputs()
	if len(inputs) == 0 {
		writeError(w, familyOpenAI, invalidRequest("missing required field: input"))
		return
	}

	if s.mode == ModeAgent {
		s.proxyEmbeddings(w, r, &req, endpoint)
		return
	}

	data := make([]interface{}, len(inputs))
	tokens := 0
	for i, input := range inputs {
		tokens += len(strings.Fields(input))
		data[i] = map[string]interface{}{
			"object":    "embedding",
			"index":     i,
			"embedding": mockEmbedding(input),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"model":  req.Model,
		"data":   data,
		"usage": map[string]interface{}{
			"prompt_tokens": tokens,
			"total_tokens":  tokens,
		},
	})
}

func (s *Server) proxyEmbeddings(w http.ResponseWriter, r *http.Request, req *embeddingsRequest, endpoint string) {
	var body map[string]interface{}
	raw, _ := json.Marshal(req)
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, familyOpenAI, invalidRequest(err.Error()))
		return
	}
	body["model"] = req.Model
	body["input"] = json.RawMessage(req.Input)

	plan, err := s.router.PlanRequest(&proxy.Request{
		Method: "POST",
		Path:   "/v1/embeddings",
		Body:   body,
	})
	if err != nil {
		we := translateError(err)
		s.collector.RecordError(we.OpenAIType, endpoint)
		writeError(w, familyOpenAI, we)
		return
	}
	result, err := s.handler.Execute(r.Context(), plan)
	if err != nil {
		we := translateError(err)
		s.collector.RecordError(we.OpenAIType, endpoint)
		writeError(w, familyOpenAI, we)
		return
	}
	writeJSON(w, result.StatusCode, result.Data)
}
