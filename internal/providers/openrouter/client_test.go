package openrouter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"arbiter/internal/media"
	"arbiter/internal/providers"
	"arbiter/internal/rubric"
	"arbiter/internal/services"
)

func testRubric() rubric.Rubric {
	return rubric.Rubric{
		Criteria: []rubric.Criterion{{Name: "technicality", Weight: 100}},
		ScaleMin: 1,
		ScaleMax: 10,
	}
}

func judgeRequest(kind media.ArtifactKind) providers.Request {
	return providers.Request{
		Artifact:     media.NewArtifact(kind, 0, 0, 0, "image/jpeg", []byte("payload")),
		SystemPrompt: "system",
		UserPrompt:   "user",
	}
}

func TestJudgeSendsAttributionHeaders(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("HTTP-Referer"); got != "https://example.com" {
			t.Errorf("referer header = %q", got)
		}
		if got := r.Header.Get("X-Title"); got != "arbiter" {
			t.Errorf("title header = %q", got)
		}
		captured, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"choices":[{"message":{"content":"{\"scores\":{\"technicality\":7},\"rationales\":{},\"feedback\":\"ok\",\"confidence\":0.7}"}}]}`)
	}))
	defer server.Close()

	client := NewClient(Config{
		APIKey:  "k",
		BaseURL: server.URL,
		Referer: "https://example.com",
		Title:   "arbiter",
	}, testRubric())

	judgment, err := client.Judge(context.Background(), judgeRequest(media.KindFrame))
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if judgment.Scores["technicality"] != 7 {
		t.Errorf("score = %v", judgment.Scores["technicality"])
	}
	if !strings.Contains(string(captured), "data:image/jpeg;base64,") {
		t.Error("expected frame sent as data-url image")
	}
}

func TestJudgeToleratesDeltaSchema(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"delta":{"content":"{\"scores\":{\"technicality\":6},\"rationales\":{},\"feedback\":\"\",\"confidence\":0.5}"}}]}`)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL}, testRubric())
	judgment, err := client.Judge(context.Background(), judgeRequest(media.KindText))
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if judgment.Scores["technicality"] != 6 {
		t.Errorf("score = %v", judgment.Scores["technicality"])
	}
}

func TestJudgeRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "slow down")
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL}, testRubric())
	if _, err := client.Judge(context.Background(), judgeRequest(media.KindFrame)); !errors.Is(err, services.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestJudgeEmptyCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":""}}]}`)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL}, testRubric())
	if _, err := client.Judge(context.Background(), judgeRequest(media.KindFrame)); !errors.Is(err, services.ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}
