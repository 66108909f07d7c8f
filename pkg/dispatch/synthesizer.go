package dispatch

import (
	"fmt"
	"html"
	"strings"

	"github.com/rhuss/chorus/pkg/api"
)

// DefaultSystemPrompt is prepended to every primary branch request.
const DefaultSystemPrompt = "You are a helpful AI assistant. You aim to provide accurate, relevant, and well-reasoned responses while being direct and concise. You will maintain a professional and friendly tone throughout our conversation."

// DefaultSynthesisPrompt instructs the aggregator how to treat the
// composite prompt.
const DefaultSynthesisPrompt = "You will receive a user query followed by candidate answers to it, each written independently by a different AI assistant. " +
	"Write the single best answer to the query. Combine the correct and useful parts of the candidates, resolve disagreements with the most reliable reasoning, and ignore candidates that failed. " +
	"Answer the user directly. Do not mention the candidates, their sources, or that the answer was synthesized."

// bodyEscaper keeps answer text from opening or closing blocks of its own.
// Quotes are left alone since bodies are not attribute values.
var bodyEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// BuildSynthesisPrompt renders the composite prompt sent to the
// aggregator: the original query verbatim, then one labeled block per
// outcome in participant order holding the answer, or the failure reason
// for a failed branch. Block labels and bodies are escaped; the query is
// not. participants and outcomes are index aligned.
func BuildSynthesisPrompt(query string, participants []api.Target, outcomes []api.BranchOutcome) string {
	var b strings.Builder
	b.WriteString("<query>\n")
	b.WriteString(query)
	b.WriteString("\n</query>\n")

	for i, o := range outcomes {
		label := o.TargetID
		if i < len(participants) {
			label = participants[i].Label()
		}
		fmt.Fprintf(&b, "\n<answer source=\"%s\" status=\"%s\">\n", html.EscapeString(label), o.Status)
		if o.Succeeded() {
			bodyEscaper.WriteString(&b, o.Text)
		} else {
			b.WriteString("This assistant failed to answer: ")
			bodyEscaper.WriteString(&b, o.Reason)
		}
		b.WriteString("\n</answer>\n")
	}
	return b.String()
}
