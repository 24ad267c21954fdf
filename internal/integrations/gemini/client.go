package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-1.5-flash"

// contentGenerator is the slice of *genai.Models used by Client.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Getter reads a named parameter; *paramstore.Client satisfies it.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// tokenPayload is the JSON shape stored in SSM for the API key.
type tokenPayload struct {
	Token string `json:"token"`
}

// ServiceError is returned for every failed generation: transport, auth,
// quota or an empty answer.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("gemini: %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Client generates text with a Gemini model.
type Client struct {
	models      contentGenerator
	model       string
	temperature *float32
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = genai.Ptr(t)
	}
}

// NewClient creates a Client for the Gemini API backend.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key must not be empty")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return newClient(gc.Models, opts...), nil
}

func newClient(models contentGenerator, opts ...Option) *Client {
	c := &Client{models: models, model: DefaultModel}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends a single-turn prompt and returns the model's text verbatim.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", &ServiceError{Op: "generate", Err: errors.New("prompt must not be empty")}
	}

	cfg := &genai.GenerateContentConfig{}
	if c.temperature != nil {
		cfg.Temperature = c.temperature
	}

	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", &ServiceError{Op: "generate content", Err: err}
	}
	if resp == nil {
		return "", &ServiceError{Op: "generate content", Err: errors.New("nil response")}
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		reason := "no candidates"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
			reason = "finish reason " + string(resp.Candidates[0].FinishReason)
		}
		return "", &ServiceError{Op: "generate content", Err: fmt.Errorf("empty response (%s)", reason)}
	}
	return text, nil
}

// ResolveAPIKey returns envKey when it is set. Otherwise the key is read from
// the parameter store, where it is stored as {"token": "..."}.
func ResolveAPIKey(ctx context.Context, envKey string, getter Getter, name string) (string, error) {
	if k := strings.TrimSpace(envKey); k != "" {
		return k, nil
	}
	if getter == nil {
		return "", errors.New("gemini: no api key in environment and no parameter store configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("gemini: api key parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("gemini: fetch api key from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("gemini: unmarshal paramstore api key value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", errors.New("gemini: api key is empty")
	}
	return strings.TrimSpace(tp.Token), nil
}
