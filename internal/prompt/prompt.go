// Package prompt renders the elicitation prompt sent to the model.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"ElicitChat/internal/dialogue"
	"ElicitChat/internal/session"
)

// TemplateVersion changes whenever the output grammar in the template
// changes. The labels come from the dialogue package, which parses them.
const TemplateVersion = "2"

const elicitationTemplate = `You are a business analyst who is familiar with specification by example. I'm the domain expert.

===CONTEXT
{{.Context}}
===END OF CONTEXT

===USER STORY
{{.Story}}
===END OF USER STORY

Explain the user story as scenarios. Use the following format:

{{.Thought}} you should always think about what is still uncertain about the user story. Ignore technical concerns.
{{.Question}} the question to ask to clarify the user story
{{.Answer}} the answer I responded to the question
... (this {{.Thought}}/{{.Question}}/{{.Answer}} repeat at least {{.MinCycles}} times, at most {{.MaxCycles}} times)
{{.Thought}} I know enough to explain the user story
{{.Scenarios}} List all possible scenarios with concrete example in Given/When/Then style

Start each step on a new line.

{{.History}}
{{.Input}}
{{- if .Language}}
Please reply in {{.Language}}.
{{- end}}
`

var tmpl = template.Must(template.New("elicitation").Parse(elicitationTemplate))

// Cycle bounds advertised to the model. The parser does not enforce them.
const (
	MinCycles = 3
	MaxCycles = 10
)

// MissingInputError reports a required template slot with no value.
type MissingInputError struct {
	Slot string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing prompt input: %s", e.Slot)
}

// Input carries the values substituted into the template.
type Input struct {
	Context string
	Story   string
	History []session.Turn
	Query   string
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLanguage asks the model to reply in the given language.
func WithLanguage(lang string) Option {
	return func(a *Assembler) { a.language = strings.TrimSpace(lang) }
}

// Assembler renders prompts. It holds no per-request state.
type Assembler struct {
	language string
}

// NewAssembler returns an Assembler with the given options applied.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Render substitutes in into the elicitation template. Story and query are
// required; context and history may be empty.
func (a *Assembler) Render(in Input) (string, error) {
	if strings.TrimSpace(in.Story) == "" {
		return "", &MissingInputError{Slot: "story"}
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", &MissingInputError{Slot: "input"}
	}

	data := struct {
		Context, Story, History, Input, Language string
		Thought, Question, Answer, Scenarios     string
		MinCycles, MaxCycles                     int
	}{
		Context:   normalize(in.Context),
		Story:     normalize(in.Story),
		History:   FormatHistory(in.History),
		Input:     normalize(in.Query),
		Language:  a.language,
		Thought:   dialogue.LabelThought,
		Question:  dialogue.LabelQuestion,
		Answer:    dialogue.LabelAnswer,
		Scenarios: dialogue.LabelScenarios,
		MinCycles: MinCycles,
		MaxCycles: MaxCycles,
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return b.String(), nil
}

// FormatHistory renders turns as alternating dialogue lines.
func FormatHistory(turns []session.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := "AI"
		if t.Role == session.RoleHuman {
			speaker = "Human"
		}
		lines = append(lines, speaker+": "+normalize(t.Content))
	}
	return strings.Join(lines, "\n")
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
