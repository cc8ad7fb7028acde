// transport_requests.go — заявки на аренду автобуса.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
)

// ListTransportRequests — GET /transport_requests.
// Администратор видит все заявки, остальные — свои.
func (h *APIHandler) ListTransportRequests(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	list, err := h.requests.List(r.Context(), c)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// SubmitTransportRequest — POST /transport_requests.
func (h *APIHandler) SubmitTransportRequest(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	var in model.TransportRequestInput
	if !decodeJSON(w, r, &in) {
		return
	}
	tr, err := h.requests.Submit(r.Context(), c, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resultResponse{
		Success:    true,
		Message:    "Заявка отправлена",
		InsertedID: tr.ID,
	})
}

// GetTransportRequest — GET /transport_requests/{id}.
func (h *APIHandler) GetTransportRequest(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	tr, err := h.requests.Get(r.Context(), c, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// UpdateTransportRequest — PUT /transport_requests/{id}: смена статуса
// или редактирование полей (администратор).
func (h *APIHandler) UpdateTransportRequest(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	var upd model.TransportRequestUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}
	tr, err := h.requests.Update(r.Context(), c, chi.URLParam(r, "id"), upd)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("Заявка обновлена: "+tr.Status))
}

// DeleteTransportRequest — DELETE /transport_requests/{id} (администратор).
func (h *APIHandler) DeleteTransportRequest(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	if err := h.requests.Delete(r.Context(), c, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("Заявка удалена"))
}
