package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/dhamidi/cmdgate"
	"google.golang.org/genai"
)

const analysisInstruction = "Analyze the following code for issues and suggest fixes."

// Model answers one analysis prompt with plain text.
type Model interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// GeminiModel sends prompts to a Gemini model. Generator is usually
// client.Models.
type GeminiModel struct {
	Generator cmdgate.ContentGenerator
	Name      string
}

func (m *GeminiModel) Analyze(ctx context.Context, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(analysisInstruction, genai.RoleUser),
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	response, err := m.Generator.GenerateContent(ctx, m.Name, contents, config)
	if err != nil {
		return "", fmt.Errorf("analysis: generate content: %w", err)
	}
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", nil
	}

	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

func buildPrompt(chunk Chunk, focus string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following code chunk for issues:\n")
	fmt.Fprintf(&b, "File: %s\n", chunk.Path)
	fmt.Fprintf(&b, "Lines: %d-%d\n\n", chunk.StartLine, chunk.EndLine)
	fmt.Fprintf(&b, "```\n%s\n```\n\n", strings.TrimRight(chunk.Content, "\n"))
	if focus != "" {
		fmt.Fprintf(&b, "Focus on this concern: %s\n\n", focus)
	}
	b.WriteString(`Identify any issues and suggest fixes. Return the response in the format:
Issue: <Description of the issue>
Fix Suggestion: <Suggested fix, or None if no fix is suggested>
Priority: <Priority of the issue, integer>
---
If no issue found then return:
No issues found
`)
	return b.String()
}
