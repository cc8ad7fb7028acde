// notices.go — доска объявлений.
package handlers

import (
	"net/http"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
)

// ListNotices — GET /notices?search=&category=.
func (h *APIHandler) ListNotices(w http.ResponseWriter, r *http.Request) {
	list, err := h.notices.List(r.Context(), model.NoticeFilter{
		Search:   queryParam(r, "search"),
		Category: queryParam(r, "category"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// CreateNotice — POST /notices (администратор).
func (h *APIHandler) CreateNotice(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	var in model.NoticeInput
	if !decodeJSON(w, r, &in) {
		return
	}
	n, err := h.notices.Create(r.Context(), c, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}
