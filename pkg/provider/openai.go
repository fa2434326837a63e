package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/harun/studymate/pkg/conversation"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider sends the whole session, system entry included, in one chat completion
type OpenAIProvider struct {
	client   openai.Client
	settings Settings
}

// NewOpenAIProvider creates the OpenAI adapter
func NewOpenAIProvider(s Settings) (*OpenAIProvider, error) {
	if s.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	s = s.withDefaults(DefaultOpenAIModel)

	opts := []option.RequestOption{
		option.WithAPIKey(s.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: s.Timeout}),
	}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}

	return &OpenAIProvider{
		client:   openai.NewClient(opts...),
		settings: s,
	}, nil
}

func (p *OpenAIProvider) Name() Name {
	return OpenAI
}

func (p *OpenAIProvider) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case conversation.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case conversation.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case conversation.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		}
	}

	response, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.settings.Model),
		Messages: messages,
	})
	if err != nil {
		return "", Classify(OpenAI, err)
	}

	if len(response.Choices) == 0 {
		return "", newError(OpenAI, KindMalformed, 0, "no response choices returned", nil)
	}
	return response.Choices[0].Message.Content, nil
}
