package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/studymate/pkg/conversation"
)

// AnthropicProvider sends the system entry as the top-level system field and
// the user/assistant entries as the turn list
type AnthropicProvider struct {
	client   anthropic.Client
	settings Settings
}

// NewAnthropicProvider creates the Anthropic adapter
func NewAnthropicProvider(s Settings) (*AnthropicProvider, error) {
	if s.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	s = s.withDefaults(DefaultAnthropicModel)

	opts := []option.RequestOption{
		option.WithAPIKey(s.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: s.Timeout}),
	}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}

	return &AnthropicProvider{
		client:   anthropic.NewClient(opts...),
		settings: s,
	}, nil
}

func (p *AnthropicProvider) Name() Name {
	return Anthropic
}

// translateAnthropic splits the session into the system text and the turn list
func translateAnthropic(turns []conversation.Turn) (string, []anthropic.MessageParam, error) {
	system := ""
	foundSystem := false
	messages := []anthropic.MessageParam{}

	for _, turn := range turns {
		switch turn.Role {
		case conversation.RoleSystem:
			if !foundSystem {
				system = turn.Content
				foundSystem = true
			}
		case conversation.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		case conversation.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}

	if len(messages) == 0 {
		last, ok := conversation.LastUser(turns)
		if !ok {
			return "", nil, errors.New("session has no user turn to send")
		}
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(last)))
	}

	return system, messages, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	system, messages, err := translateAnthropic(turns)
	if err != nil {
		return "", newError(Anthropic, KindMalformed, 0, err.Error(), err)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.settings.Model),
		Messages:    messages,
		MaxTokens:   int64(p.settings.MaxTokens),
		Temperature: anthropic.Float(p.settings.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", Classify(Anthropic, err)
	}

	var b strings.Builder
	found := false
	for _, block := range response.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
			found = true
		}
	}
	if !found {
		return "", newError(Anthropic, KindMalformed, 0, "response contained no text content", nil)
	}
	return b.String(), nil
}
