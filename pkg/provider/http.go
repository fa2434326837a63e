package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/harun/studymate/pkg/conversation"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// maxResponseBytes bounds how much of a backend response is read
const maxResponseBytes = 4 << 20

// HTTPProvider posts the flattened session to an OpenAI-compatible endpoint
type HTTPProvider struct {
	client   *http.Client
	settings Settings
}

// NewHTTPProvider creates the generic HTTP adapter. BaseURL is the full completion endpoint.
func NewHTTPProvider(s Settings) (*HTTPProvider, error) {
	if s.BaseURL == "" {
		return nil, errors.New("http provider url is required")
	}
	s = s.withDefaults("")

	return &HTTPProvider{
		client:   &http.Client{Timeout: s.Timeout},
		settings: s,
	}, nil
}

func (p *HTTPProvider) Name() Name {
	return HTTP
}

// buildHTTPBody renders {model?, messages, temperature, max_tokens}
func buildHTTPBody(s Settings, turns []conversation.Turn) ([]byte, error) {
	body := []byte(`{"messages":[]}`)
	var err error

	if s.Model != "" {
		if body, err = sjson.SetBytes(body, "model", s.Model); err != nil {
			return nil, err
		}
	}
	for _, turn := range turns {
		if body, err = sjson.SetBytes(body, "messages.-1", turn); err != nil {
			return nil, err
		}
	}
	if body, err = sjson.SetBytes(body, "temperature", s.Temperature); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "max_tokens", s.MaxTokens); err != nil {
		return nil, err
	}
	return body, nil
}

func (p *HTTPProvider) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	if p.settings.APIKey == "" {
		return "", newError(HTTP, KindAuth, 0, "api key is not configured", nil)
	}

	body, err := buildHTTPBody(p.settings, turns)
	if err != nil {
		return "", newError(HTTP, KindMalformed, 0, fmt.Sprintf("failed to encode request: %v", err), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.settings.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", newError(HTTP, KindTransport, 0, err.Error(), err)
	}
	req.Header.Set("Authorization", "Bearer "+p.settings.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", newError(HTTP, KindTransport, 0, err.Error(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", newError(HTTP, KindTransport, resp.StatusCode, err.Error(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newError(HTTP, KindForStatus(resp.StatusCode), resp.StatusCode,
			fmt.Sprintf("%d - %s", resp.StatusCode, string(raw)), nil)
	}

	if !gjson.ValidBytes(raw) {
		return "", newError(HTTP, KindMalformed, resp.StatusCode, "response is not valid JSON", nil)
	}
	content := gjson.GetBytes(raw, "choices.0.message.content")
	if content.Type != gjson.String {
		return "", newError(HTTP, KindMalformed, resp.StatusCode, "response has no choices[0].message.content", nil)
	}
	return content.String(), nil
}
