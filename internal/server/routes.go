package server

import "net/http"

// RouteDoc is a self-describing API entry, served from /api/routes so
// clients and curl users can discover the surface without docs drift.
type RouteDoc struct {
	Method      string `json:"method"`
	Pattern     string `json:"pattern"`
	Summary     string `json:"summary,omitempty"`
	ExampleBody string `json:"example_body,omitempty"`
}

var routeDocs = []RouteDoc{
	{Method: "GET", Pattern: "/healthz", Summary: "liveness and change-feed state"},
	{Method: "GET", Pattern: "/api/routes", Summary: "this listing"},
	{Method: "POST", Pattern: "/api/generate", Summary: "materialize today's recurring tasks for the caller", ExampleBody: `{"date":"2024-01-01"}`},
	{Method: "POST", Pattern: "/api/generate/family", Summary: "materialize for the caller and linked children", ExampleBody: `{"date":"2024-01-01"}`},
	{Method: "GET", Pattern: "/api/tasks", Summary: "list tasks for a date (?date=YYYY-MM-DD&owner=)"},
	{Method: "POST", Pattern: "/api/tasks", Summary: "create an ad-hoc task", ExampleBody: `{"title":"Clean the garage","reward":500}`},
	{Method: "GET", Pattern: "/api/tasks/{id}", Summary: "fetch one task"},
	{Method: "POST", Pattern: "/api/tasks/{id}/complete", Summary: "mark a task completed"},
	{Method: "POST", Pattern: "/api/tasks/{id}/settle", Summary: "settle a completed task's reward (parent only)"},
	{Method: "DELETE", Pattern: "/api/tasks/{id}", Summary: "delete a task"},
	{Method: "GET", Pattern: "/api/templates", Summary: "list the caller's active templates"},
	{Method: "POST", Pattern: "/api/templates", Summary: "create a recurring-task template", ExampleBody: `{"title":"Brush teeth","reward":100,"recurrenceRule":"daily"}`},
	{Method: "GET", Pattern: "/api/templates/{id}", Summary: "fetch one template"},
	{Method: "PUT", Pattern: "/api/templates/{id}", Summary: "update a template"},
	{Method: "DELETE", Pattern: "/api/templates/{id}", Summary: "delete or soft-deactivate a template"},
	{Method: "GET", Pattern: "/sync", Summary: "WebSocket event stream"},
}

func (h *Handler) Routes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": routeDocs})
}
