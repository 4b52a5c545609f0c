package incident

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"incident-api/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the incident endpoints. The caller wraps it in authentication.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/categories", h.ListCategories)
	r.Get("/statuses", h.ListStatuses)

	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.ListIncidents)
		r.Post("/", h.CreateIncident)
		r.Get("/{id}", h.GetIncident)
		r.Put("/{id}", h.UpdateIncident)
		r.Delete("/{id}", h.DeleteIncident)
		r.Post("/{id}/assign", h.AssignIncident)
		r.Get("/{id}/comments", h.ListComments)
		r.Post("/{id}/comments", h.AddComment)
		r.Get("/{id}/history", h.ListHistory)
	})
}

type assignRequest struct {
	AssigneeID string `json:"assigneeId"`
}

type commentRequest struct {
	Body string `json:"body"`
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Categories(r.Context())
	if err != nil {
		writeFailure(w, err, "failed to list categories")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Statuses(r.Context())
	if err != nil {
		writeFailure(w, err, "failed to list statuses")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		StatusID:   atoi(q.Get("statusId")),
		CategoryID: atoi(q.Get("categoryId")),
		AssigneeID: q.Get("assigneeId"),
		ReporterID: q.Get("reporterId"),
		Limit:      atoi(q.Get("limit")),
		Offset:     atoi(q.Get("offset")),
	}

	incidents, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeFailure(w, err, "failed to list incidents")
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := incidentID(w, r)
	if !ok {
		return
	}

	incident, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, err, "failed to load incident")
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var input Input
	if !decodeJSON(w, r, &input) {
		return
	}

	incident, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		writeFailure(w, err, "failed to create incident")
		return
	}
	writeJSON(w, http.StatusCreated, incident)
}

func (h *Handler) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := incidentID(w, r)
	if !ok {
		return
	}

	var input Input
	if !decodeJSON(w, r, &input) {
		return
	}

	incident, err := h.service.Update(r.Context(), actor, id, input)
	if err != nil {
		writeFailure(w, err, "failed to update incident")
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (h *Handler) DeleteIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := incidentID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		writeFailure(w, err, "failed to delete incident")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AssignIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := incidentID(w, r)
	if !ok {
		return
	}

	var body assignRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	incident, err := h.service.Assign(r.Context(), actor, id, body.AssigneeID)
	if err != nil {
		writeFailure(w, err, "failed to assign incident")
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := incidentID(w, r)
	if !ok {
		return
	}

	comments, err := h.service.Comments(r.Context(), id)
	if err != nil {
		writeFailure(w, err, "failed to list comments")
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := incidentID(w, r)
	if !ok {
		return
	}

	var body commentRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	comment, err := h.service.AddComment(r.Context(), actor, id, body.Body)
	if err != nil {
		writeFailure(w, err, "failed to add comment")
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := incidentID(w, r)
	if !ok {
		return
	}

	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		writeFailure(w, err, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func actorFrom(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return Actor{}, false
	}
	return Actor{UserID: principal.UserID, IsAdmin: principal.IsAdmin()}, true
}

func incidentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return "", false
	}
	return id, true
}

func writeFailure(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "incident not found")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "not allowed to modify this incident")
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func atoi(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
