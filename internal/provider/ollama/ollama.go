package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"agentpress/internal/provider"
	"agentpress/pkg/logger"
)

const providerName = "ollama"

// OllamaProvider implements the Provider interface for Ollama.
type OllamaProvider struct {
	endpoint   string
	model      string
	httpClient *http.Client
	keepAlive  string

	modelsCache []string
	modelsMu    sync.RWMutex
	modelsTime  time.Time
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(cfg Config) *OllamaProvider {
	cfg = cfg.withDefaults()
	return &OllamaProvider{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		keepAlive:  cfg.KeepAlive,
	}
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string {
	return providerName
}

// Models returns the locally available models, cached for five minutes.
func (p *OllamaProvider) Models() []string {
	p.modelsMu.RLock()
	if time.Since(p.modelsTime) < 5*time.Minute && len(p.modelsCache) > 0 {
		models := p.modelsCache
		p.modelsMu.RUnlock()
		return models
	}
	p.modelsMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	models, err := p.fetchModels(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to fetch ollama models, returning cached")
		p.modelsMu.RLock()
		defer p.modelsMu.RUnlock()
		return p.modelsCache
	}

	p.modelsMu.Lock()
	p.modelsCache = models
	p.modelsTime = time.Now()
	p.modelsMu.Unlock()
	return models
}

// Chat sends a single-shot chat request.
func (p *OllamaProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	ollamaReq := p.buildRequest(req, false)
	logger.Debug().Str("model", ollamaReq.Model).Int("messages", len(ollamaReq.Messages)).Msg("ollama chat request")

	resp, err := p.doRequest(ctx, "/api/chat", ollamaReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		logger.Error().Err(err).Str("body", string(body)).Msg("failed to parse ollama response")
		return nil, provider.NewProviderError(provider.ErrCodeInvalidRequest, "invalid response from ollama", providerName, false)
	}
	if ollamaResp.Error != "" {
		return nil, provider.NewProviderError(provider.ErrCodeUnknown, ollamaResp.Error, providerName, false)
	}
	return convertResponse(&ollamaResp), nil
}

// Stream sends a streaming chat request. The returned channel is closed when
// the stream ends or ctx is cancelled; the response body is released either way.
func (p *OllamaProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	resp, err := p.doRequest(ctx, "/api/chat", p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return ProcessStream(ctx, resp.Body), nil
}

func (p *OllamaProvider) buildRequest(req provider.ChatRequest, stream bool) *ollamaRequest {
	model := strings.TrimPrefix(req.Model, "ollama:")
	if model == "" {
		model = p.model
	}

	hasTools := len(req.Tools) > 0 && req.ToolChoice != provider.ToolChoiceNone
	ollamaReq := &ollamaRequest{
		Model:     model,
		Messages:  make([]ollamaMessage, 0, len(req.Messages)),
		Stream:    stream,
		KeepAlive: p.keepAlive,
	}

	for _, msg := range req.Messages {
		// models without tool support reject tool history
		if !hasTools {
			if msg.Role == provider.RoleTool {
				continue
			}
			if msg.Role == provider.RoleAssistant && len(msg.ToolCalls) > 0 && msg.Content == "" {
				continue
			}
		}

		om := ollamaMessage{Role: msg.Role, Content: msg.Content}
		if hasTools {
			for _, tc := range msg.ToolCalls {
				otc := ollamaToolCall{ID: tc.ID, Type: "function"}
				otc.Function.Name = tc.Name
				otc.Function.Arguments = argumentsObject(tc.Arguments)
				om.ToolCalls = append(om.ToolCalls, otc)
			}
		}
		ollamaReq.Messages = append(ollamaReq.Messages, om)
	}

	if hasTools {
		for _, tool := range req.Tools {
			ollamaReq.Tools = append(ollamaReq.Tools, ollamaTool{
				Type: tool.Type,
				Function: ollamaToolFunction{
					Name:        tool.Function.Name,
					Description: tool.Function.Description,
					Parameters:  tool.Function.Parameters,
				},
			})
		}
	}

	if req.Temperature > 0 || req.MaxTokens > 0 {
		ollamaReq.Options = &ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		}
	}
	return ollamaReq
}

// argumentsObject converts string arguments into the JSON object Ollama
// expects. Unparsable arguments become an empty object.
func argumentsObject(args string) json.RawMessage {
	trimmed := strings.TrimSpace(args)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return json.RawMessage("{}")
}

// argumentsString is the inverse of argumentsObject for responses.
func argumentsString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (p *OllamaProvider) doRequest(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var errResp ollamaErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}
	logger.Error().Int("status", statusCode).Str("error", msg).Msg("ollama error response")
	return provider.FromHTTPStatus(providerName, statusCode, msg)
}

func classifyError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return provider.NewProviderError(provider.ErrCodeTimeout, "request timeout", providerName, true)
	default:
		return provider.NewProviderError(provider.ErrCodeServiceUnavailable,
			fmt.Sprintf("cannot reach ollama: %v", err), providerName, true)
	}
}

func finishReason(doneReason string, hasToolCalls bool) string {
	if hasToolCalls {
		return provider.FinishReasonToolCalls
	}
	if doneReason == provider.FinishReasonLength {
		return provider.FinishReasonLength
	}
	return provider.FinishReasonStop
}

func convertToolCall(i int, tc ollamaToolCall) provider.ToolCall {
	return provider.ToolCall{
		Index:     i,
		ID:        tc.ID,
		Name:      tc.Function.Name,
		Arguments: argumentsString(tc.Function.Arguments),
	}
}

func convertUsage(resp *ollamaResponse) *provider.Usage {
	if resp.PromptEvalCount == 0 && resp.EvalCount == 0 {
		return nil
	}
	return &provider.Usage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
}

func convertResponse(resp *ollamaResponse) *provider.ChatResponse {
	result := &provider.ChatResponse{
		Content: resp.Message.Content,
		Usage:   convertUsage(resp),
	}
	for i, tc := range resp.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, convertToolCall(i, tc))
	}
	result.FinishReason = finishReason(resp.DoneReason, len(result.ToolCalls) > 0)
	return result
}

func (p *OllamaProvider) fetchModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch models: status %d", resp.StatusCode)
	}

	var modelsResp ollamaModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}
	models := make([]string, 0, len(modelsResp.Models))
	for _, m := range modelsResp.Models {
		models = append(models, m.Name)
	}
	return models, nil
}
