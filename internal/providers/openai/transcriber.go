package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"arbiter/internal/rubric"
	"arbiter/internal/services"
)

const defaultTranscriptionModel = "whisper-1"

// rubricless satisfies NewClient for endpoints that never parse judgments.
var rubricless rubric.Rubric

// Transcriber converts audio chunks to text through the OpenAI transcription
// endpoint.
type Transcriber struct {
	cfg        Config
	model      string
	httpClient *http.Client
}

// NewTranscriber builds a Whisper-backed transcriber sharing the client's
// connection settings.
func NewTranscriber(cfg Config, opts ...Option) *Transcriber {
	client := NewClient(cfg, rubricless, opts...)
	return &Transcriber{
		cfg:        client.cfg,
		model:      defaultTranscriptionModel,
		httpClient: client.httpClient,
	}
}

// Transcribe implements extract.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if t.cfg.APIKey == "" {
		return "", services.Wrap(services.ErrAuth, "extracting", "transcribe", "api key required", nil)
	}
	endpoint, err := url.JoinPath(t.cfg.BaseURL, "audio", "transcriptions")
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "extracting", "transcribe", "build url", err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "chunk"+extensionForMIME(mimeType))
	if err != nil {
		return "", services.Wrap(services.ErrNetwork, "extracting", "transcribe", "build form", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", services.Wrap(services.ErrNetwork, "extracting", "transcribe", "write audio", err)
	}
	if err := form.WriteField("model", t.model); err != nil {
		return "", services.Wrap(services.ErrNetwork, "extracting", "transcribe", "write model field", err)
	}
	if err := form.Close(); err != nil {
		return "", services.Wrap(services.ErrNetwork, "extracting", "transcribe", "finalize form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", services.Wrap(services.ErrNetwork, "extracting", "transcribe", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError("openai", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Wrap(services.ErrNetwork, "extracting", "transcribe", "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", ClassifyHTTPStatus("openai", resp.StatusCode, string(payload))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", services.Wrap(services.ErrMalformedResponse, "extracting", "transcribe", "decode response", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

func extensionForMIME(mimeType string) string {
	switch mimeType {
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4":
		return ".m4a"
	default:
		return ".mp3"
	}
}
