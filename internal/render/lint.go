package render

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

// document mirrors the parts of the diagram-as-code schema the linter checks.
type document struct {
	Diagram *struct {
		DefinitionFiles []struct {
			Type string `yaml:"Type"`
			URL  string `yaml:"Url"`
		} `yaml:"DefinitionFiles"`
		Resources map[string]resource `yaml:"Resources"`
		Links     []link              `yaml:"Links"`
	} `yaml:"Diagram"`
}

type resource struct {
	Type     string   `yaml:"Type"`
	Children []string `yaml:"Children"`
}

type link struct {
	Source string `yaml:"Source"`
	Target string `yaml:"Target"`
}

// LintGate checks the artifact's structure before validation: it must parse, define a
// Canvas, give every resource a Type and reference only defined resources.
type LintGate struct{}

var _ orchestrator.Gate = LintGate{}

func (LintGate) Name() string { return "yaml-lint" }

func (g LintGate) Check(_ context.Context, state *orchestrator.WorkflowState) ([]orchestrator.Finding, error) {
	return Lint(state.Artifact), nil
}

// Lint returns structural findings for a diagram-as-code document.
func Lint(artifact string) []orchestrator.Finding {
	var findings []orchestrator.Finding
	add := func(sev orchestrator.Severity, format string, args ...interface{}) {
		findings = append(findings, orchestrator.Finding{Gate: LintGate{}.Name(), Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	var doc document
	if err := yaml.Unmarshal([]byte(artifact), &doc); err != nil {
		add(orchestrator.SeverityError, "YAML does not parse: %v", err)
		return findings
	}
	if doc.Diagram == nil {
		add(orchestrator.SeverityError, "missing top-level Diagram key")
		return findings
	}
	d := doc.Diagram

	if len(d.DefinitionFiles) == 0 {
		add(orchestrator.SeverityWarning, "no DefinitionFiles; icons will not resolve")
	}
	if len(d.Resources) == 0 {
		add(orchestrator.SeverityError, "Diagram.Resources is empty")
		return findings
	}
	if _, ok := d.Resources["Canvas"]; !ok {
		add(orchestrator.SeverityError, "Resources must define Canvas")
	}

	names := make([]string, 0, len(d.Resources))
	for name := range d.Resources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		res := d.Resources[name]
		if res.Type == "" {
			add(orchestrator.SeverityError, "resource %s has no Type", name)
		}
		for _, child := range res.Children {
			if _, ok := d.Resources[child]; !ok {
				add(orchestrator.SeverityError, "resource %s lists undefined child %s", name, child)
			}
		}
	}
	for i, l := range d.Links {
		if _, ok := d.Resources[l.Source]; !ok {
			add(orchestrator.SeverityWarning, "link %d source %q is not a defined resource", i, l.Source)
		}
		if _, ok := d.Resources[l.Target]; !ok {
			add(orchestrator.SeverityWarning, "link %d target %q is not a defined resource", i, l.Target)
		}
	}
	return findings
}
