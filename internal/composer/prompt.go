package composer

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/kalambet/fieldguide/internal/retrieval"
)

const (
	defaultMaxContextTokens = 6000
	defaultRole             = "Military Emergency Protocol Assistant"
)

// DefaultTemplate is the instruction block sent with every question. It is
// executed with TemplateData.
const DefaultTemplate = `You are a **{{.Role}}**, responsible for providing **strictly accurate** guidance based on **official protocol documents**.

**STRICT RESPONSE GUIDELINES:**
1. **Use ONLY the official protocol documents below** to generate responses. No external assumptions, opinions, or alternative advice are allowed.
2. **Directly extract and present** the full, actionable steps from the provided protocols. Do not tell the user to look the procedure up themselves.
3. **Reject unnecessary, vague, or unrelated queries** by responding with exactly:
   "{{.NotAvailable}}"
4. **If the query is relevant to emergency procedures but NOT found in the protocol documents**, respond with exactly:
   "{{.GenericFallback}}"
5. **Prioritize clarity, urgency, and step-by-step execution.** Responses must be fully detailed, with no missing steps.
6. **Structure the response as follows (ONLY if the data is in the protocol):**
   - **Immediate Actions** (if applicable): critical steps that must be taken immediately.
   - **Step-by-step procedure**: fully detailed steps extracted from the protocols.
   - **Protocol Reference**: section, page, or source from which the information was retrieved.

**Official Protocol Data:**
{{.Context}}

**Query:** {{.Question}}
`

// TemplateData is the value a prompt template is executed with.
type TemplateData struct {
	Role            string
	NotAvailable    string
	GenericFallback string
	Context         string
	Question        string
}

// Options configures a Composer.
type Options struct {
	Role             string
	Template         string // template text; DefaultTemplate when empty
	MaxContextTokens int
}

// Composer assembles the single prompt sent to the chat model from retrieved
// chunks and the user's question. It holds no mutable state.
type Composer struct {
	role             string
	tmpl             *template.Template
	maxContextTokens int
}

// New parses the template and returns a Composer.
func New(opts Options) (*Composer, error) {
	text := opts.Template
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt template: %w", err)
	}
	role := opts.Role
	if role == "" {
		role = defaultRole
	}
	maxTokens := opts.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxContextTokens
	}
	return &Composer{role: role, tmpl: tmpl, maxContextTokens: maxTokens}, nil
}

// LoadTemplate reads a template override from path.
func LoadTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt template: %w", err)
	}
	return string(data), nil
}

// Compose renders the prompt and returns the hits placed in its context.
// hits are expected best first; those that do not fit the context budget are
// dropped from the end.
func (c *Composer) Compose(hits []retrieval.Hit, question string) (string, []retrieval.Hit, error) {
	ctxText, used := c.buildContext(hits)
	data := TemplateData{
		Role:            c.role,
		NotAvailable:    NotAvailableMessage,
		GenericFallback: GenericFallbackMessage,
		Context:         ctxText,
		Question:        strings.TrimSpace(question),
	}
	var sb strings.Builder
	if err := c.tmpl.Execute(&sb, data); err != nil {
		return "", nil, fmt.Errorf("executing prompt template: %w", err)
	}
	return sb.String(), used, nil
}

func (c *Composer) buildContext(hits []retrieval.Hit) (string, []retrieval.Hit) {
	remaining := c.maxContextTokens
	var entries []string
	for _, h := range hits {
		entry := formatHit(h)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			break
		}
		entries = append(entries, entry)
		remaining -= tokens
	}
	return strings.Join(entries, "\n\n"), hits[:len(entries)]
}

func formatHit(h retrieval.Hit) string {
	return fmt.Sprintf("[Source: %s, page %d]\n%s", h.File, h.Page, strings.TrimSpace(h.Text))
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
