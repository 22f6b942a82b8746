package openai

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
	"arbiter/internal/rubric"
	"arbiter/internal/services"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o"
	defaultHTTPTimeout = 60 * time.Second
)

// Config captures the runtime settings required to talk to OpenAI.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Client wraps the OpenAI chat completion API for artifact judging. It makes
// exactly one attempt per call; retry policy lives in the gateway.
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

// NewClient constructs an OpenAI judging client.
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
func (c *Client) ID() string { return "openai" }

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
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ImageURL   *imageURL   `json:"image_url,omitempty"`
	InputAudio *inputAudio `json:"input_audio,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type inputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Judge implements providers.Provider.
func (c *Client) Judge(ctx context.Context, req providers.Request) (providers.Judgment, error) {
	var judgment providers.Judgment
	if c.cfg.APIKey == "" {
		return judgment, services.Wrap(services.ErrAuth, "analyzing", c.ID(), "api key required", nil)
	}

	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: userContent(req)},
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

// userContent builds the multimodal message body. Frames travel as data-URL
// images, audio chunks as base64 input_audio, transcripts inline in the
// prompt text.
func userContent(req providers.Request) any {
	switch req.Artifact.Kind {
	case media.KindFrame:
		return []contentPart{
			{Type: "text", Text: req.UserPrompt},
			{Type: "image_url", ImageURL: &imageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", req.Artifact.MIME, base64.StdEncoding.EncodeToString(req.Artifact.Payload)),
			}},
		}
	case media.KindAudio:
		return []contentPart{
			{Type: "text", Text: req.UserPrompt},
			{Type: "input_audio", InputAudio: &inputAudio{
				Data:   base64.StdEncoding.EncodeToString(req.Artifact.Payload),
				Format: "mp3",
			}},
		}
	default:
		return req.UserPrompt
	}
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

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(c.ID(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Wrap(services.ErrNetwork, "analyzing", c.ID(), "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", ClassifyHTTPStatus(c.ID(), resp.StatusCode, string(body))
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
		if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
			return "", services.Wrap(services.ErrMalformedResponse, "analyzing", c.ID(), "model refused: "+refusal, nil)
		}
	}
	return "", services.Wrap(services.ErrMalformedResponse, "analyzing", c.ID(), "empty completion", nil)
}

// ClassifyHTTPStatus maps an API status code onto the capability sentinels.
// Shared with the other chat-completion providers, which use the same status
// conventions.
func ClassifyHTTPStatus(providerID string, status int, body string) error {
	snippet := providers.SummarizePayloadSnippet(body)
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return services.Wrap(services.ErrAuth, "analyzing", providerID, snippet, nil)
	case status == http.StatusPaymentRequired:
		return services.Wrap(services.ErrQuotaExceeded, "analyzing", providerID, snippet, nil)
	case status == http.StatusTooManyRequests:
		if strings.Contains(body, "insufficient_quota") {
			return services.Wrap(services.ErrQuotaExceeded, "analyzing", providerID, snippet, nil)
		}
		return services.Wrap(services.ErrRateLimited, "analyzing", providerID, snippet, nil)
	case status == http.StatusRequestTimeout:
		return services.Wrap(services.ErrTimeout, "analyzing", providerID, snippet, nil)
	case status >= http.StatusInternalServerError:
		return services.Wrap(services.ErrNetwork, "analyzing", providerID, fmt.Sprintf("http %d: %s", status, snippet), nil)
	default:
		return services.Wrap(services.ErrMalformedResponse, "analyzing", providerID, fmt.Sprintf("http %d: %s", status, snippet), nil)
	}
}

func classifyTransportError(providerID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "analyzing", providerID, "request timed out", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "analyzing", providerID, "request timed out", err)
	}
	return services.Wrap(services.ErrNetwork, "analyzing", providerID, "http error", err)
}
