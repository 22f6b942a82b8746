package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"arbiter/internal/media"
	"arbiter/internal/providers"
	"arbiter/internal/providers/openai"
	"arbiter/internal/rubric"
	"arbiter/internal/services"
)

const (
	defaultBaseURL     = "https://openrouter.ai/api/v1"
	defaultModel       = "anthropic/claude-sonnet-4"
	defaultHTTPTimeout = 60 * time.Second
)

// Config captures the runtime settings required to talk to OpenRouter.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// Client wraps the OpenRouter chat completion API for artifact judging.
// Single attempt per call; the gateway owns retry policy.
type Client struct {
	cfg        Config
	rubric     rubric.Rubric
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an OpenRouter judging client.
func NewClient(cfg Config, r rubric.Rubric, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			Referer:        strings.TrimSpace(cfg.Referer),
			Title:          strings.TrimSpace(cfg.Title),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		rubric:     r,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = defaultBaseURL
	}
	if client.cfg.Model == "" {
		client.cfg.Model = defaultModel
	}
	return client
}

// ID implements providers.Provider.
func (c *Client) ID() string { return "openrouter" }

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		// Some routed providers return the streaming schema even when
		// stream=false, so tolerate it as a fallback.
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Judge implements providers.Provider. Audio artifacts are judged from the
// prompt alone: routed models do not accept raw audio, so the transcript
// artifact carries that signal instead.
func (c *Client) Judge(ctx context.Context, req providers.Request) (providers.Judgment, error) {
	var judgment providers.Judgment
	if c.cfg.APIKey == "" {
		return judgment, services.Wrap(services.ErrAuth, "analyzing", c.ID(), "api key required", nil)
	}

	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: c.userContent(req)},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	content, err := c.complete(ctx, payload)
	if err != nil {
		return judgment, err
	}
	return providers.DecodeJudgment(c.ID(), content, c.rubric)
}

func (c *Client) userContent(req providers.Request) any {
	if req.Artifact.Kind == media.KindFrame {
		return []contentPart{
			{Type: "text", Text: req.UserPrompt},
			{Type: "image_url", ImageURL: &imageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", req.Artifact.MIME, base64.StdEncoding.EncodeToString(req.Artifact.Payload)),
			}},
		}
	}
	return req.UserPrompt
}

func (c *Client) complete(ctx context.Context, payload chatRequest) (string, error) {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "chat", "completions")
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "analyzing", c.ID(), "build url", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", services.Wrap(services.ErrMalformedResponse, "analyzing", c.ID(), "encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", services.Wrap(services.ErrNetwork, "analyzing", c.ID(), "build request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.cfg.Referer)
		httpReq.Header.Set("Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		httpReq.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", services.Wrap(services.ErrTimeout, "analyzing", c.ID(), "request timed out", err)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return "", services.Wrap(services.ErrTimeout, "analyzing", c.ID(), "request timed out", err)
		}
		return "", services.Wrap(services.ErrNetwork, "analyzing", c.ID(), "http error", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Wrap(services.ErrNetwork, "analyzing", c.ID(), "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", openai.ClassifyHTTPStatus(c.ID(), resp.StatusCode, string(body))
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", services.Wrap(services.ErrMalformedResponse, "analyzing", c.ID(), "decode response", err)
	}
	if completion.Error != nil {
		return "", services.Wrap(services.ErrMalformedResponse, "analyzing", c.ID(),
			"api error: "+strings.TrimSpace(completion.Error.Message), nil)
	}
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
		if content := strings.TrimSpace(choice.Delta.Content); content != "" {
			return content, nil
		}
		if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
			return "", services.Wrap(services.ErrMalformedResponse, "analyzing", c.ID(), "model refused: "+refusal, nil)
		}
	}
	return "", services.Wrap(services.ErrMalformedResponse, "analyzing", c.ID(), "empty completion", nil)
}
