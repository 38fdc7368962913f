package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shelterflex/rent-service/internal/app"
	"github.com/shelterflex/rent-service/internal/domain"
)

func (h *Handler) CreateListingHandler(w http.ResponseWriter, r *http.Request) {
	var req app.CreateListingRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	input, err := app.ValidateCreateListing(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	listing, err := h.service.CreateListing(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, listing)
}

func (h *Handler) ListListingsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize, err := app.ParsePagination(q.Get("page"), q.Get("pageSize"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.service.ListListings(r.Context(), domain.ListingFilters{
		Status:   domain.ListingStatus(q.Get("status")),
		Query:    q.Get("query"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (h *Handler) GetListingHandler(w http.ResponseWriter, r *http.Request) {
	listing, err := h.service.GetListing(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, listing)
}
