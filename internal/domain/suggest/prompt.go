package suggest

import (
	"fmt"
	"strings"

	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
)

// MaxHistoryTurns is how many earlier assistant turns are folded into a prompt.
const MaxHistoryTurns = 8

// Turn is one message of an assistant conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseKey ties a key of the structured answer to a coding system.
type responseKey struct {
	Key    string
	System string
}

var (
	classificationKeys = []responseKey{
		{Key: "tm2", System: catalog.SystemTM2},
		{Key: "biomed", System: catalog.SystemBiomed},
		{Key: "icd11", System: catalog.SystemICD11},
	}
	sourceKeys = []responseKey{
		{Key: "namaste", System: catalog.SystemNamaste},
	}
)

func keysFor(d catalog.Direction) []responseKey {
	if d == catalog.ToSource {
		return sourceKeys
	}
	return classificationKeys
}

func suggestPrompts(query string, d catalog.Direction) (system, user string) {
	if d == catalog.ToSource {
		system = `Return ONLY valid JSON. Schema exactly as: {"namaste": string[]}`
		user = fmt.Sprintf(`Given ICD-11/TM2/Biomed term or code %q, suggest up to 3 likely NAMASTE codes. Use only code identifiers (no descriptions).`, query)
		return system, user
	}
	system = `Return ONLY valid JSON. Schema exactly as: {"tm2": string[], "biomed": string[], "icd11": string[]}`
	user = fmt.Sprintf(`Given NAMASTE term or code %q, suggest up to 3 likely codes for TM2, Biomed (ICD-11 traditional medicine related), and ICD-11 biomedical. Use only code identifiers (no descriptions).`, query)
	return system, user
}

func explainPrompt(e catalog.CodeEntry) string {
	return fmt.Sprintf(`Explain in 2-3 tight bullets for a clinician:
System: %s
Code: %s
Term: %s
Include: meaning, typical use/indication, any mapping nuance (if relevant).`, e.System, e.Code, e.Term)
}

const assistantHeader = `You are the in-app support assistant for a health terminology mapping service.
Areas: code catalog, mapping (NAMASTE <-> ICD-11/TM2/BIO), condition builder, bundle drafts, activity log.
Be short and actionable. Use bullets or steps. If JSON is pasted, detect resourceType and summarize key fields.`

func askPrompt(history []Turn, question string) string {
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	lines := make([]string, 0, len(history))
	for _, t := range history {
		lines = append(lines, strings.ToUpper(t.Role)+": "+t.Content)
	}

	var b strings.Builder
	b.WriteString(assistantHeader)
	b.WriteString("\n\nConversation so far:\n")
	b.WriteString(strings.Join(lines, "\n\n"))
	b.WriteString("\n\nUSER QUESTION:\n")
	b.WriteString(question)
	b.WriteString("\n\nAnswer clearly in short bullet points or numbered steps. If the question mentions JSON, identify resourceType and highlight important fields.")
	return b.String()
}
