// schedules.go — расписания маршрутов.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
)

// ListSchedules — GET /schedules?search=&route=.
func (h *APIHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := h.schedules.List(r.Context(), model.ScheduleFilter{
		Search:  queryParam(r, "search"),
		RouteNo: queryParam(r, "route"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// GetSchedule — GET /schedules/{id}.
func (h *APIHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sc, err := h.schedules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// CreateSchedule — POST /schedules (администратор).
func (h *APIHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	var in model.Schedule
	if !decodeJSON(w, r, &in) {
		return
	}
	sc, err := h.schedules.Create(r.Context(), c, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

// UpdateSchedule — PUT /schedules/{id} (администратор).
func (h *APIHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	var in model.Schedule
	if !decodeJSON(w, r, &in) {
		return
	}
	if _, err := h.schedules.Update(r.Context(), c, chi.URLParam(r, "id"), in); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("Расписание обновлено"))
}

// DeleteSchedule — DELETE /schedules/{id} (администратор).
func (h *APIHandler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	if err := h.schedules.Delete(r.Context(), c, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("Расписание удалено"))
}
