package runner

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"agentpress/internal/provider"
)

func eventsOf(evs ...provider.ChatEvent) <-chan provider.ChatEvent {
	ch := make(chan provider.ChatEvent, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return ch
}

func content(s string) provider.ChatEvent {
	return provider.ChatEvent{Type: provider.EventTypeContent, Delta: s}
}

func done(reason string) provider.ChatEvent {
	return provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: reason}
}

func toolCall(name string) provider.ChatEvent {
	return provider.ChatEvent{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{ID: "c-" + name, Name: name}}
}

func TestRelay(t *testing.T) {
	tests := []struct {
		name   string
		events <-chan provider.ChatEvent
		err    error
		opts   []RelayOption
		want   []Chunk
	}{
		{
			name:   "content then finish",
			events: eventsOf(content("he"), content(""), content("llo"), done(provider.FinishReasonLength)),
			want:   []Chunk{NewContentChunk("he"), NewContentChunk("llo"), NewFinishChunk(provider.FinishReasonLength)},
		},
		{
			name:   "no done event finishes with stop",
			events: eventsOf(content("x")),
			want:   []Chunk{NewContentChunk("x"), NewFinishChunk(provider.FinishReasonStop)},
		},
		{
			name:   "tool calls with stop reason",
			events: eventsOf(toolCall("search"), done(provider.FinishReasonStop)),
			want:   []Chunk{NewFinishChunk(provider.FinishReasonToolCalls)},
		},
		{
			name:   "tool limit passes through",
			events: eventsOf(toolCall("search"), done(provider.FinishReasonToolLimit)),
			want:   []Chunk{NewFinishChunk(provider.FinishReasonToolLimit)},
		},
		{
			name:   "stream error ends the sequence",
			events: eventsOf(content("a"), provider.ChatEvent{Type: provider.EventTypeError, Error: errors.New("reset")}, content("b")),
			want:   []Chunk{NewContentChunk("a"), NewErrorChunk(errors.New("reset"))},
		},
		{
			name:   "stream error without detail",
			events: eventsOf(provider.ChatEvent{Type: provider.EventTypeError}),
			want:   []Chunk{NewErrorChunk(ErrStreamFailed)},
		},
		{
			name: "call error",
			err:  errors.New("connection refused"),
			want: []Chunk{NewErrorChunk(errors.New("connection refused"))},
		},
		{
			name: "nil channel",
			want: []Chunk{NewErrorChunk(ErrEmptyResponse)},
		},
		{
			name:   "tool call limit stops reading",
			events: eventsOf(content("a"), toolCall("ls"), toolCall("cat"), content("b"), toolCall("rm"), done(provider.FinishReasonToolCalls)),
			opts:   []RelayOption{WithToolCallLimit(2)},
			want:   []Chunk{NewContentChunk("a"), NewFinishChunk(provider.FinishReasonToolLimit)},
		},
		{
			name:   "tool calls under the limit",
			events: eventsOf(toolCall("ls"), done(provider.FinishReasonToolCalls)),
			opts:   []RelayOption{WithToolCallLimit(2)},
			want:   []Chunk{NewFinishChunk(provider.FinishReasonToolCalls)},
		},
		{
			name:   "zero limit is unlimited",
			events: eventsOf(toolCall("a"), toolCall("b"), toolCall("c"), done(provider.FinishReasonToolCalls)),
			opts:   []RelayOption{WithToolCallLimit(0)},
			want:   []Chunk{NewFinishChunk(provider.FinishReasonToolCalls)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, slices.Collect(Relay(tt.events, tt.err, tt.opts...)))
		})
	}
}

func TestRelay_SingleUse(t *testing.T) {
	seq := Relay(eventsOf(content("a"), done(provider.FinishReasonStop)), nil)
	assert.Len(t, slices.Collect(seq), 2)
	assert.Empty(t, slices.Collect(seq))

	errSeq := Relay(nil, errors.New("boom"))
	assert.Len(t, slices.Collect(errSeq), 1)
	assert.Empty(t, slices.Collect(errSeq))
}

func TestRelay_EarlyStop(t *testing.T) {
	events := make(chan provider.ChatEvent, 3)
	events <- content("a")
	events <- content("b")
	events <- done(provider.FinishReasonStop)
	close(events)

	var got []Chunk
	for c := range Relay(events, nil) {
		got = append(got, c)
		break
	}
	assert.Equal(t, []Chunk{NewContentChunk("a")}, got)
	assert.Len(t, events, 2, "remaining events are left unread")
}

func TestRelay_NilChannelDoesNotBlock(t *testing.T) {
	finished := make(chan []Chunk, 1)
	go func() {
		finished <- slices.Collect(Relay(nil, nil))
	}()

	select {
	case got := <-finished:
		assert.Len(t, got, 1)
		assert.ErrorIs(t, got[0].Err(), ErrEmptyResponse)
	case <-time.After(2 * time.Second):
		t.Fatal("Relay(nil, nil) did not return")
	}
}

func TestRelayResponse(t *testing.T) {
	got := slices.Collect(RelayResponse(&provider.ChatResponse{Content: "hi", FinishReason: provider.FinishReasonStop}, nil))
	assert.Equal(t, []Chunk{NewContentChunk("hi"), NewFinishChunk(provider.FinishReasonStop)}, got)

	got = slices.Collect(RelayResponse(&provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: "1"}}}, nil))
	assert.Equal(t, []Chunk{NewFinishChunk(provider.FinishReasonToolCalls)}, got)

	got = slices.Collect(RelayResponse(nil, nil))
	assert.Equal(t, []Chunk{NewErrorChunk(ErrEmptyResponse)}, got)

	got = slices.Collect(RelayResponse(nil, errors.New("timeout")))
	assert.True(t, got[0].IsError())
	assert.Len(t, got, 1)

	got = slices.Collect(RelayResponse(&provider.ChatResponse{
		Content:   "checking",
		ToolCalls: []provider.ToolCall{{ID: "1"}, {ID: "2"}, {ID: "3"}},
	}, nil, WithToolCallLimit(3)))
	assert.Equal(t, []Chunk{NewContentChunk("checking"), NewFinishChunk(provider.FinishReasonToolLimit)}, got)

	seq := RelayResponse(&provider.ChatResponse{Content: "once"}, nil)
	assert.Len(t, slices.Collect(seq), 2)
	assert.Empty(t, slices.Collect(seq))
}

func TestChunkString(t *testing.T) {
	assert.Equal(t, `content("a")`, NewContentChunk("a").String())
	assert.Equal(t, "finish(stop)", NewFinishChunk("stop").String())
	assert.Equal(t, "error(x)", NewErrorChunk(errors.New("x")).String())
}

func TestChunkErr(t *testing.T) {
	cause := errors.New("x")
	assert.Same(t, cause, NewErrorChunk(cause).Err())
	assert.NoError(t, NewContentChunk("a").Err())
}
