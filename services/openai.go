package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"devdocs-chat/models"
	"devdocs-chat/sse"
)

// OpenAIService talks to any OpenAI-compatible chat completions endpoint
// (OpenAI itself, vLLM, local gateways).
type OpenAIService struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream,omitempty"`
}

type OpenAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAIService creates a client for baseURL (without the /v1 suffix).
// apiKey may be empty for unauthenticated local servers. No client timeout
// is set: streams are bounded by the caller's context.
func NewOpenAIService(baseURL, apiKey, model string) *OpenAIService {
	return &OpenAIService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
	}
}

func (s *OpenAIService) Name() string { return "openai" }

func (s *OpenAIService) SupportsStreaming() bool { return true }

func (s *OpenAIService) buildRequest(req CompletionRequest, stream bool) OpenAIRequest {
	summary, turns := splitSummary(req.Messages)
	system := systemWithSummary(req.System, summary)

	messages := make([]OpenAIMessage, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, OpenAIMessage{Role: "system", Content: system})
	}
	for _, msg := range turns {
		messages = append(messages, OpenAIMessage{Role: roleName(msg.Role), Content: msg.Content})
	}

	model := req.Model
	if model == "" {
		model = s.model
	}
	return OpenAIRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

// post sends the request and returns the response body on a 2xx status.
// Failures before a response exists are ErrProviderUnavailable.
func (s *OpenAIService) post(ctx context.Context, body OpenAIRequest) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", s.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: API error (status %d): %s", ErrProviderUnavailable, resp.StatusCode, truncate(string(b), 400))
	}
	return resp.Body, nil
}

func (s *OpenAIService) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	body, err := s.post(ctx, s.buildRequest(req, false))
	if err != nil {
		return Completion{}, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed OpenAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Completion{}, fmt.Errorf("failed to parse response: %s", truncate(string(raw), 400))
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, fmt.Errorf("no response from model")
	}

	return Completion{
		Content:      parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func (s *OpenAIService) Stream(ctx context.Context, req CompletionRequest, onDelta DeltaFunc) error {
	body, err := s.post(ctx, s.buildRequest(req, true))
	if err != nil {
		return err
	}
	defer body.Close()

	done := false
	err = sse.ReadFrames(ctx, body, func(frame []byte) error {
		if done {
			return nil
		}
		payload, ok := sse.Data(frame)
		if !ok {
			return nil
		}
		if string(bytes.TrimSpace(payload)) == "[DONE]" {
			done = true
			return nil
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			return fmt.Errorf("failed to parse stream chunk: %s", truncate(string(payload), 200))
		}
		if chunk.Error != nil {
			return fmt.Errorf("stream error: %s", chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onDelta(choice.Delta.Content); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("stream ended before completion marker")
	}
	return nil
}

var _ Provider = (*OpenAIService)(nil)

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

// roleName maps canonical roles onto chat API roles
func roleName(r models.Role) string {
	if r == models.RoleAssistant {
		return "assistant"
	}
	return "user"
}
