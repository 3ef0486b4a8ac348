package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropic(t *testing.T, handler http.HandlerFunc) *AnthropicService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAnthropicService("sk-ant-REDACTED", "claude-test",
		option.WithBaseURL(server.URL+"/"),
		option.WithMaxRetries(0),
	)
}

func TestAnthropicComplete(t *testing.T) {
	var body map[string]any
	svc := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "Hello!"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 3}
		}`)
	})

	result, err := svc.Complete(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "Hello!", result.Content)
	assert.Equal(t, 12, result.InputTokens)
	assert.Equal(t, 3, result.OutputTokens)

	assert.Equal(t, "claude-test", body["model"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 3, "summary is folded into the system prompt")
	assert.Contains(t, fmt.Sprint(body["system"]), SummaryPrefix+"talked about Go")
}

func TestAnthropicComplete_APIError(t *testing.T) {
	svc := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	})

	_, err := svc.Complete(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func sseEvent(name string, data string) string {
	return "event: " + name + "\ndata: " + data + "\n\n"
}

func TestAnthropicStream(t *testing.T) {
	svc := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseEvent("message_start", `{"type":"message_start","message":{"id":"msg_01","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"usage":{"input_tokens":10,"output_tokens":1}}}`))
		fmt.Fprint(w, sseEvent("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`))
		fmt.Fprint(w, sseEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`))
		fmt.Fprint(w, sseEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":", world"}}`))
		fmt.Fprint(w, sseEvent("content_block_stop", `{"type":"content_block_stop","index":0}`))
		fmt.Fprint(w, sseEvent("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":4}}`))
		fmt.Fprint(w, sseEvent("message_stop", `{"type":"message_stop"}`))
	})

	var fragments []string
	err := svc.Stream(context.Background(), sampleRequest(), func(f string) error {
		fragments = append(fragments, f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", ", world"}, fragments)
}

func TestAnthropicStream_FailsBeforeOutput(t *testing.T) {
	svc := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
	})

	called := false
	err := svc.Stream(context.Background(), sampleRequest(), func(string) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.False(t, called)
}
