package rubric

import (
	"fmt"
	"strings"

	"arbiter/internal/media"
)

// SystemPrompt is the fixed instruction sent with every judging request.
const SystemPrompt = "You are an impartial media judge evaluating content against a rubric. " +
	"Respond with JSON only, using the exact structure you are given."

// PromptContext carries the job-level text folded into every judging prompt.
type PromptContext struct {
	Description string
	Transcript  string
	ReadmeText  string
}

const readmeByteCap = 4000

// RenderUserPrompt builds the judging prompt for a single artifact. The output
// is deterministic for identical inputs.
func (r Rubric) RenderUserPrompt(artifact media.Artifact, pctx PromptContext) string {
	var b strings.Builder

	b.WriteString("Evaluate the following content against the rubric below.\n\n")

	switch artifact.Kind {
	case media.KindFrame:
		fmt.Fprintf(&b, "**Content:** a video frame captured at %s. The image is attached to this request.\n", artifact.Start.Round(0))
	case media.KindAudio:
		fmt.Fprintf(&b, "**Content:** an audio segment spanning %s to %s. The audio is attached to this request.\n", artifact.Start, artifact.End)
	case media.KindText:
		fmt.Fprintf(&b, "**Content:** a transcript excerpt spanning %s to %s:\n%s\n", artifact.Start, artifact.End, string(artifact.Payload))
	}

	if desc := strings.TrimSpace(pctx.Description); desc != "" {
		fmt.Fprintf(&b, "\n**Project description:** %s\n", desc)
	}
	if transcript := strings.TrimSpace(pctx.Transcript); transcript != "" && artifact.Kind != media.KindText {
		fmt.Fprintf(&b, "\n**Full transcript (context only):** %s\n", transcript)
	}
	if readme := strings.TrimSpace(pctx.ReadmeText); readme != "" {
		if len(readme) > readmeByteCap {
			readme = readme[:readmeByteCap]
		}
		fmt.Fprintf(&b, "\n**README (context only):** %s\n", readme)
	}

	b.WriteString("\n**Rubric:**\n")
	for _, c := range r.Criteria {
		fmt.Fprintf(&b, "- %s (Weight: %.0f%%, Scale: %.0f-%.0f): %s\n",
			c.Name, c.Weight, r.ScaleMin, r.ScaleMax, c.Description)
	}

	b.WriteString("\n**Instructions:**\n")
	fmt.Fprintf(&b, "1. Score each criterion between %.0f and %.0f.\n", r.ScaleMin, r.ScaleMax)
	b.WriteString("2. Give a short rationale per criterion referencing the content.\n")
	b.WriteString("3. Give overall feedback and a confidence between 0 and 1.\n")
	b.WriteString("4. Output strictly this JSON shape:\n")
	b.WriteString("{\n  \"scores\": {")
	for i, name := range r.CriterionNames() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: 0", name)
	}
	b.WriteString("},\n  \"rationales\": {")
	for i, name := range r.CriterionNames() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: \"...\"", name)
	}
	b.WriteString("},\n  \"feedback\": \"...\",\n  \"confidence\": 0.0\n}\n")

	return b.String()
}
