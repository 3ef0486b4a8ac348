package services

import (
	"context"
	"fmt"
	"strings"

	"devdocs-chat/models"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicService handles communication with the Anthropic Messages API
type AnthropicService struct {
	client anthropic.Client
	model  string
}

// NewAnthropicService creates a new Anthropic service. Extra options are
// passed to the SDK client (base URL, retries).
func NewAnthropicService(apiKey, model string, opts ...option.RequestOption) *AnthropicService {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicService{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (s *AnthropicService) Name() string { return "anthropic" }

func (s *AnthropicService) SupportsStreaming() bool { return true }

func (s *AnthropicService) params(req CompletionRequest) anthropic.MessageNewParams {
	summary, turns := splitSummary(req.Messages)
	system := systemWithSummary(req.System, summary)

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, msg := range turns {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == models.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	model := req.Model
	if model == "" {
		model = s.model
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(req.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func (s *AnthropicService) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	msg, err := s.client.Messages.New(ctx, s.params(req))
	if err != nil {
		return Completion{}, fmt.Errorf("%w: anthropic API error: %v", ErrProviderUnavailable, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return Completion{}, fmt.Errorf("empty response from Anthropic")
	}

	return Completion{
		Content:      sb.String(),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func (s *AnthropicService) Stream(ctx context.Context, req CompletionRequest, onDelta DeltaFunc) error {
	stream := s.client.Messages.NewStreaming(ctx, s.params(req))
	defer stream.Close()

	started := false
	for stream.Next() {
		event := stream.Current()
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		started = true
		if err := onDelta(delta.Text); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		if !started {
			return fmt.Errorf("%w: anthropic stream error: %v", ErrProviderUnavailable, err)
		}
		return fmt.Errorf("anthropic stream interrupted: %w", err)
	}
	return nil
}

var _ Provider = (*AnthropicService)(nil)
