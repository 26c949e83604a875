package agent

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/fyrsmithlabs/archagent/internal/exemplar"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

//go:embed prompts/*
var promptFS embed.FS

var (
	architectTmpl = template.Must(template.ParseFS(promptFS, "prompts/architect.txt"))
	exampleYAML   = mustRead("prompts/example.yaml")
	validatorText = mustRead("prompts/validator.txt")
)

func mustRead(name string) string {
	b, err := promptFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// ExampleYAML returns the diagram-as-code sample embedded in the architect prompt.
func ExampleYAML() string { return exampleYAML }

// ArchitectSystemPrompt renders the generator's system prompt.
func ArchitectSystemPrompt() string {
	var buf bytes.Buffer
	if err := architectTmpl.Execute(&buf, struct{ Example string }{exampleYAML}); err != nil {
		panic(err)
	}
	return buf.String()
}

// ValidatorSystemPrompt returns the reviewer's system prompt.
func ValidatorSystemPrompt() string { return validatorText }

func requirementPrompt(requirement string, examples []exemplar.Exemplar) string {
	var sb strings.Builder
	if len(examples) > 0 {
		sb.WriteString("Previously accepted designs for similar requirements:\n\n")
		for i, ex := range examples {
			fmt.Fprintf(&sb, "Design %d (score %.0f) for: %s\n<YAML>\n%s\n</YAML>\n\n", i+1, ex.Score, ex.Requirement, strings.TrimSpace(ex.Artifact))
		}
	}
	sb.WriteString("Requirement:\n")
	sb.WriteString(requirement)
	return sb.String()
}

func refinementPrompt(score float64, critique string) string {
	return fmt.Sprintf(`A reviewer scored your previous design %.0f out of 100. Their critique:

%s

Produce a complete revised design that resolves every point. Keep what the reviewer did not object to.
Answer in the same format: the full YAML inside <YAML></YAML>, then "Explanation:".`, score, strings.TrimSpace(critique))
}

func reviewPrompt(req orchestrator.ValidateRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Requirement:\n%s\n\n", req.Requirement)
	fmt.Fprintf(&sb, "Proposed diagram-as-code:\n<YAML>\n%s\n</YAML>\n\n", strings.TrimSpace(req.Artifact))
	if req.Explanation != "" {
		fmt.Fprintf(&sb, "Architect's explanation:\n%s\n\n", req.Explanation)
	}

	fb := req.Feedback
	if fb.Empty() {
		sb.WriteString("The diagram rendered without warnings.\n")
	} else {
		writeList(&sb, "Renderer errors", fb.Errors)
		writeList(&sb, "Renderer warnings", fb.Warnings)
		writeList(&sb, "Renderer suggestions", fb.Suggestions)
	}
	if req.Image != nil && len(req.Image.Data) > 0 {
		sb.WriteString("The rendered diagram is attached.\n")
	}
	sb.WriteString("\nReview the design and end with \"Score: N\".")
	return sb.String()
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(sb, "- %s\n", it)
	}
	sb.WriteString("\n")
}
