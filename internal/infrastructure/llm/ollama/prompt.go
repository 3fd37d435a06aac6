package ollama

import (
	"strings"

	"github.com/mkravets/taxcore/internal/core/domain"
)

func buildClassifyPrompt(text string, allowed []domain.LabelOption) string {
	const maxSnippet = 4000
	snippet := text
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}

	var labels strings.Builder
	for _, option := range allowed {
		labels.WriteString("- ")
		labels.WriteString(option.Label)
		labels.WriteString("\n")
	}

	return `You are a document classifier.
Pick exactly one category label from the allowed list below.
Return strict JSON object with keys:
label (string, copied verbatim from the list), confidence (number from 0 to 1).
No markdown, no extra keys, no labels outside the list.

Allowed labels:
` + labels.String() + `
Document:
` + snippet
}
