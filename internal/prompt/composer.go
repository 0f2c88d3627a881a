// Package prompt assembles the text sent to the completion endpoint.
package prompt

import (
	"fmt"
	"strings"

	"github.com/docchat/docchat/internal/retrieve"
)

// DefaultMaxChars bounds the assembled prompt length.
const DefaultMaxChars = 6000

const (
	contextPreamble  = "Based on the following information, answer the question in detail:"
	passageSeparator = "\n\n"
)

// Prompt is an assembled completion request.
type Prompt struct {
	// Text is the full prompt sent to the model.
	Text string
	// Sources lists the chunk sequence numbers included, in rank order.
	Sources []int
	// HasContext reports whether document passages were included.
	HasContext bool
}

// Composer builds bounded prompts from a question and retrieved passages.
type Composer struct {
	maxChars int
}

// NewComposer creates a composer with the given prompt length budget in
// runes. Non-positive budgets fall back to the default.
func NewComposer(maxChars int) *Composer {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Composer{maxChars: maxChars}
}

// Compose assembles the prompt. With passages it renders the context
// template with provenance markers; with none the question goes to the
// model as-is so it can answer from general knowledge.
//
// The budget is enforced by dropping the lowest-ranked passages first and,
// when a single passage still exceeds the budget, truncating it.
func (c *Composer) Compose(question string, passages []retrieve.Passage) Prompt {
	question = strings.TrimSpace(question)

	if len(passages) == 0 {
		return Prompt{Text: question, Sources: []int{}, HasContext: false}
	}

	kept := passages
	for len(kept) > 0 {
		text := render(question, kept)
		if runeLen(text) <= c.maxChars {
			return Prompt{Text: text, Sources: seqs(kept), HasContext: true}
		}
		if len(kept) == 1 {
			break
		}
		kept = kept[:len(kept)-1]
	}

	// A single passage exceeds the budget: truncate its text until the
	// rendered prompt fits.
	single := kept[0]
	overhead := runeLen(render(question, []retrieve.Passage{{Seq: single.Seq}}))
	budget := c.maxChars - overhead
	if budget < 0 {
		budget = 0
	}
	single.Text = truncateRunes(single.Text, budget)

	return Prompt{
		Text:       render(question, []retrieve.Passage{single}),
		Sources:    []int{single.Seq},
		HasContext: true,
	}
}

// render fills the context template.
func render(question string, passages []retrieve.Passage) string {
	var b strings.Builder
	b.WriteString(contextPreamble)
	b.WriteString("\n\nInformation:\n")
	for _, p := range passages {
		b.WriteString(passageSeparator)
		fmt.Fprintf(&b, "[passage %d] %s", p.Seq+1, p.Text)
	}
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

func seqs(passages []retrieve.Passage) []int {
	out := make([]int, len(passages))
	for i, p := range passages {
		out[i] = p.Seq
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
