package gemini

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/genai"

	clierr "github.com/ggonzalez94/solsum/internal/errors"
)

const (
	Name         = "gemini"
	DefaultModel = "gemini-1.5-flash"
)

// Client generates text with a Gemini model through the Gemini API backend.
type Client struct {
	models *genai.Models
	model  string
}

// New connects to the Gemini API. An empty baseURL uses the public endpoint;
// httpClient may be nil.
func New(ctx context.Context, apiKey, model, baseURL string, httpClient *http.Client) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, clierr.New(clierr.CodeAuth, "missing summary API key (set SOLSUM_SUMMARY_API_KEY or summary.api_key)")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: strings.TrimSpace(baseURL),
		},
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "create gemini client", err)
	}
	return &Client{models: client.Models, model: model}, nil
}

func (c *Client) Model() string {
	return c.model
}

// Generate sends systemInstruction once with the given prompt and returns the response text.
func (c *Client) Generate(ctx context.Context, systemInstruction, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "gemini generate content failed", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", clierr.New(clierr.CodeUnavailable, "gemini returned no text")
	}
	return text, nil
}
