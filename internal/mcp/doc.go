// Package mcp exposes the refinement loop to agents as MCP tools over stdio.
//
// Tools:
//   - design_architecture runs a refinement synchronously and returns the final design
//   - get_run returns a recorded run by ID
//   - list_samples returns the canned example requirements
//
// Requirements are scrubbed for secrets by the service before they reach a model.
package mcp
