// Package service runs refinement jobs on behalf of the HTTP API, the MCP server and the CLI.
//
// A run is persisted before it starts, its events are stored, published to the event bus
// and fanned out to local subscribers as they happen, and on completion the design and
// diagram are written to the artifact store. Accepted designs are indexed as exemplars
// and handed to the configured publishers.
package service
