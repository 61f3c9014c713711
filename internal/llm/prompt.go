package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/joecupano/airgap-lab-ai/internal/retrieval/scorer"
	"github.com/joecupano/airgap-lab-ai/pkg/config"
)

const noContext = "No context was retrieved."

// BuildPrompt assembles the model prompt from the assistant settings, the
// question and the ranked passages. Passages are added in rank order until
// the next one would push the context past MaxContextChars.
func BuildPrompt(a config.AssistantConfig, question string, results []scorer.Result) string {
	blocks := make([]string, 0, len(results))
	total := 0
	for i, r := range results {
		block := fmt.Sprintf("[%d] source=%s chunk=%d\n%s", i+1, r.Source, r.ChunkID, r.Text)
		n := utf8.RuneCountInString(block)
		if total+n > a.MaxContextChars {
			break
		}
		blocks = append(blocks, block)
		total += n
	}
	contextText := noContext
	if len(blocks) > 0 {
		contextText = strings.Join(blocks, "\n\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a specialist assistant for this use case: %s. ", a.UseCaseName)
	fmt.Fprintf(&b, "Follow these instructions: %s\n\n", a.Instructions)
	fmt.Fprintf(&b, "CONTEXT:\n%s\n\n", contextText)
	fmt.Fprintf(&b, "QUESTION:\n%s\n\n", question)
	b.WriteString("Return a concise and useful answer with assumptions and practical guidance when relevant.")
	return b.String()
}
