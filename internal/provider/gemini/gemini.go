// Package gemini implements the Provider interface using the Google Gen AI SDK.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"agentpress/internal/provider"
	"agentpress/pkg/logger"
)

const (
	providerName = "gemini"

	// DefaultModel is used when a request names no model.
	DefaultModel = "gemini-2.5-flash"
)

var defaultModels = []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.0-flash"}

// Provider implements provider.Provider on top of genai.Client.
type Provider struct {
	client *genai.Client
	model  string
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Gemini provider. An empty apiKey lets the SDK read
// GEMINI_API_KEY or GOOGLE_API_KEY from the environment.
func New(ctx context.Context, apiKey, model string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: client, model: model}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return providerName }

// Models returns the models this provider is normally used with.
func (p *Provider) Models() []string { return defaultModels }

// Chat sends a single-shot request.
func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	contents, config := buildRequest(req)
	resp, err := p.client.Models.GenerateContent(ctx, p.modelFor(req), contents, config)
	if err != nil {
		return nil, classifyError(err)
	}
	return convertResponse(resp), nil
}

// Stream sends a streaming request. The SDK iterator is drained in a
// goroutine that stops as soon as ctx is cancelled.
func (p *Provider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	contents, config := buildRequest(req)
	model := p.modelFor(req)
	logger.Debug().Str("model", model).Int("contents", len(contents)).Msg("gemini stream request")

	events := make(chan provider.ChatEvent)
	go func() {
		defer close(events)
		send := func(ev provider.ChatEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		finish := ""
		toolCalls := 0
		var usage *provider.Usage
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				send(provider.ChatEvent{Type: provider.EventTypeError, Error: classifyError(err)})
				return
			}
			chunk := convertResponse(resp)
			if chunk.Content != "" && !send(provider.ChatEvent{Type: provider.EventTypeContent, Delta: chunk.Content}) {
				return
			}
			for _, tc := range chunk.ToolCalls {
				tc.Index = toolCalls
				toolCalls++
				if !send(provider.ChatEvent{Type: provider.EventTypeToolCall, ToolCall: &tc}) {
					return
				}
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if reason := candidateFinishReason(resp); reason != "" {
				finish = reason
			}
		}

		if toolCalls > 0 {
			finish = provider.FinishReasonToolCalls
		} else if finish == "" {
			finish = provider.FinishReasonStop
		}
		send(provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: finish, Usage: usage})
	}()
	return events, nil
}

func (p *Provider) modelFor(req provider.ChatRequest) string {
	model := strings.TrimPrefix(req.Model, "gemini:")
	if model == "" {
		return p.model
	}
	return model
}

// buildRequest converts a chat request into genai contents and config.
// System messages become the system instruction.
func buildRequest(req provider.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))

	for _, msg := range req.Messages {
		if msg.Role == provider.RoleSystem {
			if msg.Content != "" {
				system = append(system, msg.Content)
			}
			continue
		}

		role := genai.RoleUser
		if msg.Role == provider.RoleAssistant {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			args := map[string]any{}
			if tc.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					logger.Warn().Err(err).Str("tool", tc.Name).Msg("dropping unparsable tool call arguments")
				}
			}
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
		}
		if len(parts) == 0 {
			continue
		}
		// consecutive turns of the same role are merged
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if len(req.Tools) > 0 && req.ToolChoice != provider.ToolChoiceNone {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decl := &genai.FunctionDeclaration{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
			}
			if len(tool.Function.Parameters) > 0 {
				var schema map[string]any
				if err := json.Unmarshal(tool.Function.Parameters, &schema); err == nil {
					decl.ParametersJsonSchema = schema
				}
			}
			decls = append(decls, decl)
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}

		mode := genai.FunctionCallingConfigModeAuto
		if req.ToolChoice == provider.ToolChoiceRequired {
			mode = genai.FunctionCallingConfigModeAny
		}
		config.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
	}
	return contents, config
}

// convertResponse flattens the first candidate of resp.
func convertResponse(resp *genai.GenerateContentResponse) *provider.ChatResponse {
	out := &provider.ChatResponse{}
	if resp == nil {
		out.FinishReason = provider.FinishReasonStop
		return out
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		var text strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
			if fc := part.FunctionCall; fc != nil {
				id := fc.ID
				if id == "" {
					id = "call-" + uuid.NewString()
				}
				args, _ := json.Marshal(fc.Args)
				out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
					ID:        id,
					Index:     len(out.ToolCalls),
					Name:      fc.Name,
					Arguments: string(args),
				})
			}
		}
		out.Content = text.String()
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = &provider.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	switch {
	case len(out.ToolCalls) > 0:
		out.FinishReason = provider.FinishReasonToolCalls
	case candidateFinishReason(resp) != "":
		out.FinishReason = candidateFinishReason(resp)
	default:
		out.FinishReason = provider.FinishReasonStop
	}
	return out
}

func candidateFinishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	switch resp.Candidates[0].FinishReason {
	case "":
		return ""
	case genai.FinishReasonMaxTokens:
		return provider.FinishReasonLength
	default:
		return provider.FinishReasonStop
	}
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.NewProviderError(provider.ErrCodeTimeout, "request timeout", providerName, true)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.FromHTTPStatus(providerName, apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return provider.FromHTTPStatus(providerName, apiErrPtr.Code, apiErrPtr.Message)
	}
	return provider.FromHTTPStatus(providerName, http.StatusBadGateway, err.Error())
}
