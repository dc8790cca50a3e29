// Package api exposes the REST interface for submitting report jobs,
// inspecting queue state, browsing registered pipelines, and downloading
// finished report artifacts.
package api
