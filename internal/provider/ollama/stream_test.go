package ollama

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentpress/internal/provider"
)

func collect(events <-chan provider.ChatEvent) []provider.ChatEvent {
	var out []provider.ChatEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestProcessStream(t *testing.T) {
	streamData := `{"model":"llama3.2","message":{"role":"assistant","content":"Hello"},"done":false}
{"model":"llama3.2","message":{"role":"assistant","content":" there"},"done":false}

{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":10,"eval_count":5}
`
	collected := collect(ProcessStream(context.Background(), io.NopCloser(strings.NewReader(streamData))))

	require.Len(t, collected, 3)
	assert.Equal(t, provider.EventTypeContent, collected[0].Type)
	assert.Equal(t, "Hello", collected[0].Delta)
	assert.Equal(t, " there", collected[1].Delta)

	assert.Equal(t, provider.EventTypeDone, collected[2].Type)
	assert.Equal(t, provider.FinishReasonStop, collected[2].FinishReason)
	require.NotNil(t, collected[2].Usage)
	assert.Equal(t, 15, collected[2].Usage.TotalTokens)
}

func TestProcessStream_WithToolCalls(t *testing.T) {
	streamData := `{"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","function":{"name":"get_weather","arguments":"{\"city\":\"NYC\"}"}}]},"done":false}
{"message":{"role":"assistant","content":""},"done":true}
`
	collected := collect(ProcessStream(context.Background(), io.NopCloser(strings.NewReader(streamData))))

	require.Len(t, collected, 2)
	require.NotNil(t, collected[0].ToolCall)
	assert.Equal(t, "call_1", collected[0].ToolCall.ID)
	assert.Equal(t, `{"city":"NYC"}`, collected[0].ToolCall.Arguments)

	assert.Equal(t, provider.EventTypeDone, collected[1].Type)
	assert.Equal(t, provider.FinishReasonToolCalls, collected[1].FinishReason)
}

func TestProcessStream_InlineError(t *testing.T) {
	streamData := `{"message":{"role":"assistant","content":"partial"},"done":false}
{"error":"model crashed"}
{"message":{"role":"assistant","content":"never"},"done":false}
`
	collected := collect(ProcessStream(context.Background(), io.NopCloser(strings.NewReader(streamData))))

	require.Len(t, collected, 2)
	assert.Equal(t, provider.EventTypeError, collected[1].Type)
	assert.ErrorContains(t, collected[1].Error, "model crashed")
}

func TestProcessStream_MalformedLine(t *testing.T) {
	collected := collect(ProcessStream(context.Background(), io.NopCloser(strings.NewReader("{not json\n"))))
	require.Len(t, collected, 1)
	assert.Equal(t, provider.EventTypeError, collected[0].Type)
}

type closeRecorder struct {
	io.Reader
	closed chan struct{}
}

func (c *closeRecorder) Close() error {
	close(c.closed)
	return nil
}

func TestProcessStream_CancelReleasesBody(t *testing.T) {
	body := &closeRecorder{
		Reader: strings.NewReader(strings.Repeat(`{"message":{"content":"x"},"done":false}`+"\n", 100)),
		closed: make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	events := ProcessStream(ctx, body)

	<-events
	cancel()

	select {
	case <-body.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream body was not closed after cancel")
	}
}

func TestOllamaProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Hi"},"done":false}` + "\n"))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"length"}` + "\n"))
	}))
	defer server.Close()

	p := NewOllamaProvider(Config{Endpoint: server.URL})
	events, err := p.Stream(context.Background(), provider.ChatRequest{Messages: []provider.Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)

	collected := collect(events)
	require.Len(t, collected, 2)
	assert.Equal(t, "Hi", collected[0].Delta)
	assert.Equal(t, provider.FinishReasonLength, collected[1].FinishReason)
}

func TestClassifyError(t *testing.T) {
	err := classifyError(context.DeadlineExceeded)
	var pe *provider.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, provider.ErrCodeTimeout, pe.Code)

	assert.ErrorIs(t, classifyError(context.Canceled), context.Canceled)
}
