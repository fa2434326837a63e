package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/harun/studymate/pkg/conversation"
	"google.golang.org/genai"
)

// chatSession is one stateful backend chat
type chatSession interface {
	Send(ctx context.Context, text string) (string, error)
}

type chatStarter func(ctx context.Context) (chatSession, error)

// GoogleProvider rebuilds context by replaying the session into a fresh chat.
// The backend takes no turn list, so every user and assistant entry is sent
// as an outgoing message, then the latest user text is sent once more and
// only that reply is returned.
type GoogleProvider struct {
	settings Settings
	start    chatStarter
}

// NewGoogleProvider creates the Google adapter
func NewGoogleProvider(s Settings) (*GoogleProvider, error) {
	if s.APIKey == "" {
		return nil, errors.New("google api key is required")
	}
	s = s.withDefaults(DefaultGoogleModel)

	cfg := &genai.ClientConfig{
		APIKey:     s.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: s.Timeout},
	}
	if s.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: s.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	model := s.Model
	return &GoogleProvider{
		settings: s,
		start: func(ctx context.Context) (chatSession, error) {
			chat, err := client.Chats.Create(ctx, model, nil, nil)
			if err != nil {
				return nil, err
			}
			return &genaiChat{chat: chat}, nil
		},
	}, nil
}

func (p *GoogleProvider) Name() Name {
	return Google
}

func (p *GoogleProvider) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	last, ok := conversation.LastUser(turns)
	if !ok {
		return "", newError(Google, KindMalformed, 0, "session has no user turn to send", nil)
	}

	chat, err := p.start(ctx)
	if err != nil {
		return "", Classify(Google, err)
	}

	for _, turn := range turns {
		if turn.Role != conversation.RoleUser && turn.Role != conversation.RoleAssistant {
			continue
		}
		if _, err := chat.Send(ctx, turn.Content); err != nil {
			return "", Classify(Google, err)
		}
	}

	reply, err := chat.Send(ctx, last)
	if err != nil {
		return "", Classify(Google, err)
	}
	if reply == "" {
		return "", newError(Google, KindMalformed, 0, "response contained no text", nil)
	}
	return reply, nil
}

type genaiChat struct {
	chat *genai.Chat
}

func (c *genaiChat) Send(ctx context.Context, text string) (string, error) {
	resp, err := c.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
