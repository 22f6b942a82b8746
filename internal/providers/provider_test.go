package providers

import (
	"errors"
	"testing"

	"arbiter/internal/rubric"
	"arbiter/internal/services"
)

func testRubric() rubric.Rubric {
	return rubric.Rubric{
		Criteria: []rubric.Criterion{
			{Name: "technicality", Weight: 50},
			{Name: "originality", Weight: 50},
		},
		ScaleMin: 1,
		ScaleMax: 10,
	}
}

func TestDecodeJudgment(t *testing.T) {
	payload := `{"scores":{"technicality":8,"originality":6},` +
		`"rationales":{"technicality":"tight","originality":"seen before"},` +
		`"feedback":"  solid entry  ","confidence":1.4}`

	judgment, err := DecodeJudgment("openai", payload, testRubric())
	if err != nil {
		t.Fatalf("DecodeJudgment: %v", err)
	}
	if judgment.Scores["technicality"] != 8 {
		t.Errorf("technicality = %v", judgment.Scores["technicality"])
	}
	if judgment.Feedback != "solid entry" {
		t.Errorf("feedback = %q", judgment.Feedback)
	}
	if judgment.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", judgment.Confidence)
	}
	if judgment.Raw != payload {
		t.Error("raw payload not preserved")
	}
}

func TestDecodeJudgmentCodeFenced(t *testing.T) {
	payload := "```json\n{\"scores\":{\"technicality\":7,\"originality\":7}," +
		"\"rationales\":{},\"feedback\":\"ok\",\"confidence\":0.5}\n```"

	judgment, err := DecodeJudgment("openai", payload, testRubric())
	if err != nil {
		t.Fatalf("DecodeJudgment: %v", err)
	}
	if judgment.Scores["originality"] != 7 {
		t.Errorf("originality = %v", judgment.Scores["originality"])
	}
}

func TestDecodeJudgmentMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          "the video was great, 8/10",
		"empty":             "",
		"missing criterion": `{"scores":{"technicality":8},"rationales":{},"feedback":"","confidence":0}`,
		"unknown criterion": `{"scores":{"technicality":8,"vibes":9},"rationales":{},"feedback":"","confidence":0}`,
		"no scores":         `{"rationales":{},"feedback":"nice","confidence":0.5}`,
	}
	for name, payload := range cases {
		if _, err := DecodeJudgment("openai", payload, testRubric()); !errors.Is(err, services.ErrMalformedResponse) {
			t.Errorf("%s: got %v, want ErrMalformedResponse", name, err)
		}
	}
}

func TestDecodeModelJSONExtractsEmbeddedObject(t *testing.T) {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := DecodeModelJSON("Sure! Here you go: {\"ok\": true} Hope that helps.", &out); err != nil {
		t.Fatalf("DecodeModelJSON: %v", err)
	}
	if !out.OK {
		t.Error("expected embedded object decoded")
	}
}
