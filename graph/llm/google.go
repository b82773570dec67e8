package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGoogleModel = "gemini-1.5-flash"

// GoogleClient implements Client on top of the Gemini SDK
// (generative-ai-go). Safe for concurrent use.
type GoogleClient struct {
	client *genai.Client
	model  string
}

// NewGoogleClient creates a Gemini-backed client. The context bounds client
// construction only. An empty model selects a current default. The API key
// comes from https://makersuite.google.com/app/apikey.
func NewGoogleClient(ctx context.Context, apiKey, model string) (*GoogleClient, error) {
	if model == "" {
		model = defaultGoogleModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GoogleClient{client: client, model: model}, nil
}

// Complete implements Client.
func (c *GoogleClient) Complete(ctx context.Context, prompt string) (string, error) {
	model := c.client.GenerativeModel(c.model)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	return text, nil
}

// Close releases the underlying gRPC connection.
func (c *GoogleClient) Close() error {
	return c.client.Close()
}
