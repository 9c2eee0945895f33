package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"chorekeep/internal/bus"
	"chorekeep/internal/clock"
	"chorekeep/internal/model"
	"chorekeep/internal/recurrence"
	"chorekeep/internal/store"
)

type generateRequest struct {
	Date string `json:"date"`
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller := userFrom(r)
	if caller == "" {
		writeErr(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	date, err := h.resolveDate(req.Date)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}
	created, err := h.coord.Ensure(r.Context(), caller, date)
	if err != nil {
		h.log.Printf("generate: owner=%s date=%s err=%v", caller, date, err)
		writeErr(w, http.StatusInternalServerError, "generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": created, "date": date})
}

func (h *Handler) GenerateFamily(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller := userFrom(r)
	if caller == "" {
		writeErr(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	date, err := h.resolveDate(req.Date)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}
	created, err := h.coord.EnsureForFamily(r.Context(), caller, date)
	if err != nil {
		h.log.Printf("generate family: caller=%s date=%s err=%v", caller, date, err)
		writeErr(w, http.StatusInternalServerError, "generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": created, "date": date})
}

// resolveDate parses d, defaulting to the coordinator's idea of today so
// clients can omit the field.
func (h *Handler) resolveDate(d string) (model.Date, error) {
	if d == "" {
		return model.DateOf(h.now()), nil
	}
	return model.ParseDate(d)
}

func (h *Handler) now() time.Time {
	return clock.OrReal(h.coord.Clock).Now()
}

func (h *Handler) TasksRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTasks(w, r)
	case http.MethodPost:
		h.createTask(w, r)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	caller := userFrom(r)
	if caller == "" {
		writeErr(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	date, err := h.resolveDate(r.URL.Query().Get("date"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}
	owner := caller
	if v := r.URL.Query().Get("owner"); v != "" {
		owner = model.UserID(v)
	}
	items, err := h.store.ListByOwnerAndDate(r.Context(), owner, date)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": items, "date": date})
}

type createTaskRequest struct {
	Title    string `json:"title"`
	Reward   int    `json:"reward"`
	Category string `json:"category"`
	Date     string `json:"date"`
}

// createTask records an ad-hoc (non-template) task. Ad-hoc tasks never
// collide with generated ones.
func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	caller := userFrom(r)
	if caller == "" {
		writeErr(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeErr(w, http.StatusBadRequest, "title is required")
		return
	}
	date, err := h.resolveDate(req.Date)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}
	in, err := h.store.CreateInstance(r.Context(), model.Instance{
		Owner:    caller,
		Date:     date,
		Title:    strings.TrimSpace(req.Title),
		Reward:   req.Reward,
		Category: req.Category,
		Kind:     model.KindEvent,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "create failed")
		return
	}
	h.notify(bus.KindTaskCreated, string(in.ID), in, in.UpdatedAt)
	writeJSON(w, http.StatusCreated, in)
}

func (h *Handler) TasksSub(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(tail, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		id := model.InstanceID(parts[0])
		switch r.Method {
		case http.MethodGet:
			h.getTask(w, r, id)
		case http.MethodDelete:
			h.deleteTask(w, r, id)
		default:
			writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 2 && parts[1] == "complete":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.completeTask(w, r, model.InstanceID(parts[0]))
	case len(parts) == 2 && parts[1] == "settle":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.settleTask(w, r, model.InstanceID(parts[0]))
	default:
		writeErr(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request, id model.InstanceID) {
	in, err := h.store.GetInstance(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (h *Handler) completeTask(w http.ResponseWriter, r *http.Request, id model.InstanceID) {
	in, err := h.store.GetInstance(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if in.Completed {
		writeJSON(w, http.StatusOK, in)
		return
	}
	now := h.now()
	in.Completed = true
	in.CompletedAt = &now
	updated, err := h.store.UpdateInstance(r.Context(), in)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "update failed")
		return
	}
	h.notify(bus.KindTaskUpdated, string(updated.ID), updated, updated.UpdatedAt)
	writeJSON(w, http.StatusOK, updated)
}

// settleTask marks a completed task's reward as paid out. Settlement is
// parent-only.
func (h *Handler) settleTask(w http.ResponseWriter, r *http.Request, id model.InstanceID) {
	caller := userFrom(r)
	if caller == "" {
		writeErr(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	if h.users != nil {
		u, err := h.users.Get(r.Context(), caller)
		if err != nil || u.Role != model.RoleParent {
			writeErr(w, http.StatusForbidden, "settlement requires a parent account")
			return
		}
	}
	in, err := h.store.GetInstance(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !in.Completed {
		writeErr(w, http.StatusConflict, "task is not completed")
		return
	}
	if in.Settled {
		writeJSON(w, http.StatusOK, in)
		return
	}
	in.Settled = true
	updated, err := h.store.UpdateInstance(r.Context(), in)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "update failed")
		return
	}
	h.notify(bus.KindSettlementUpdated, string(updated.ID), updated, updated.UpdatedAt)
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request, id model.InstanceID) {
	_, err := h.store.GetInstance(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	at, err := h.store.DeleteInstance(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "delete failed")
		return
	}
	h.notify(bus.KindTaskDeleted, string(id), nil, at)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (h *Handler) TemplatesRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTemplates(w, r)
	case http.MethodPost:
		h.createTemplate(w, r)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	caller := userFrom(r)
	if caller == "" {
		writeErr(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	items, err := h.store.ListActive(r.Context(), caller)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": items})
}

type templateRequest struct {
	Title          string `json:"title"`
	Reward         int    `json:"reward"`
	Category       string `json:"category"`
	RecurrenceRule string `json:"recurrenceRule"`
	TargetUser     string `json:"targetUser"`
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	caller := userFrom(r)
	if caller == "" {
		writeErr(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeErr(w, http.StatusBadRequest, "title is required")
		return
	}
	if !recurrence.Valid(req.RecurrenceRule) {
		writeErr(w, http.StatusBadRequest, "unknown recurrence rule")
		return
	}
	t, err := h.store.CreateTemplate(r.Context(), model.Template{
		Owner:          caller,
		Title:          strings.TrimSpace(req.Title),
		Reward:         req.Reward,
		Category:       req.Category,
		Kind:           model.KindDaily,
		RecurrenceRule: req.RecurrenceRule,
		Active:         true,
		TargetUser:     model.UserID(req.TargetUser),
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "create failed")
		return
	}
	h.notify(bus.KindTemplateUpdated, string(t.ID), t, t.UpdatedAt)
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) TemplatesSub(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if tail == "" || strings.Contains(tail, "/") {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	id := model.TemplateID(tail)
	switch r.Method {
	case http.MethodGet:
		h.getTemplate(w, r, id)
	case http.MethodPut:
		h.updateTemplate(w, r, id)
	case http.MethodDelete:
		h.deleteTemplate(w, r, id)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request, id model.TemplateID) {
	t, err := h.store.GetTemplate(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) updateTemplate(w http.ResponseWriter, r *http.Request, id model.TemplateID) {
	t, err := h.store.GetTemplate(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Title != "" {
		t.Title = strings.TrimSpace(req.Title)
	}
	if req.RecurrenceRule != "" {
		if !recurrence.Valid(req.RecurrenceRule) {
			writeErr(w, http.StatusBadRequest, "unknown recurrence rule")
			return
		}
		t.RecurrenceRule = req.RecurrenceRule
	}
	if req.Reward != 0 {
		t.Reward = req.Reward
	}
	if req.Category != "" {
		t.Category = req.Category
	}
	if req.TargetUser != "" {
		t.TargetUser = model.UserID(req.TargetUser)
	}
	updated, err := h.store.UpdateTemplate(r.Context(), t)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "update failed")
		return
	}
	h.notify(bus.KindTemplateUpdated, string(updated.ID), updated, updated.UpdatedAt)
	writeJSON(w, http.StatusOK, updated)
}

// deleteTemplate soft-deactivates when instances reference the template, so
// their history stays intact; otherwise removes it outright.
func (h *Handler) deleteTemplate(w http.ResponseWriter, r *http.Request, id model.TemplateID) {
	_, err := h.store.GetTemplate(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	referenced, err := h.store.HasInstancesForTemplate(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if referenced {
		t, err := h.store.DeactivateTemplate(r.Context(), id)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "deactivate failed")
			return
		}
		h.notify(bus.KindTemplateUpdated, string(t.ID), t, t.UpdatedAt)
		writeJSON(w, http.StatusOK, map[string]any{"deactivated": id})
		return
	}
	at, err := h.store.DeleteTemplate(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "delete failed")
		return
	}
	h.notify(bus.KindTemplateUpdated, string(id), nil, at)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// notify hands a mutation to the sync layer. Falls back to a bare dispatch
// when the server runs without the full channel set (tests, ops tooling).
func (h *Handler) notify(kind bus.Kind, entityID string, payload any, at time.Time) {
	e := bus.Event{Kind: kind, EntityID: entityID, Payload: payload, Timestamp: at}
	if h.feed != nil {
		h.feed.Notify(e)
		return
	}
	e.Origin = bus.OriginLocal
	h.disp.Publish(e)
}
