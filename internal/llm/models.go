package llm

import "strings"

// DefaultModelID is used when a request names no model.
const DefaultModelID = "claude-3-5-sonnet-20240620"

// Model describes a selectable model.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Vision   bool   `json:"vision"`
}

var builtinModels = []Model{
	{ID: "claude-3-sonnet-20240229", Name: "Claude 3 Sonnet", Provider: "anthropic", Vision: true},
	{ID: "claude-3-5-sonnet-20240620", Name: "Claude 3.5 Sonnet", Provider: "anthropic", Vision: true},
	{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", Provider: "anthropic", Vision: true},
}

// Catalogue lists the built-in models followed by extra IDs from configuration.
// Extras inherit the configured provider.
func Catalogue(provider string, extra []string) []Model {
	out := make([]Model, 0, len(builtinModels)+len(extra))
	seen := make(map[string]bool)
	for _, m := range builtinModels {
		out = append(out, m)
		seen[m.ID] = true
	}
	for _, id := range extra {
		id = NormalizeModelID(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Model{ID: id, Name: id, Provider: provider, Vision: true})
	}
	return out
}

// NormalizeModelID accepts Bedrock-style identifiers such as
// "anthropic.claude-3-haiku-20240307-v1:0" and returns the plain API model ID.
func NormalizeModelID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "anthropic.")
	if i := strings.LastIndex(id, "-v"); i > 0 && strings.Contains(id[i:], ":") {
		id = id[:i]
	}
	return id
}
