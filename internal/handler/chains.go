package handler

import (
	"net/http"
	"strconv"

	"offer-chain-api/internal/apierror"
	"offer-chain-api/internal/models"
	"offer-chain-api/internal/validation"
)

const invalidChainID = "Invalid chain ID"

// CreateChain handles POST /chains
func (h *Handler) CreateChain(w http.ResponseWriter, r *http.Request) {
	var req validation.ChainPayload
	if err := h.decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	id, err := h.service.CreateChain(r.Context(), principal(r), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/chains/"+strconv.FormatInt(id, 10))
	h.respondJSON(w, http.StatusCreated, models.SuccessResponse{
		Success: true,
		Data:    map[string]int64{"id": id},
	})
}

// ListChains handles GET /chains
func (h *Handler) ListChains(w http.ResponseWriter, r *http.Request) {
	offset, limit, page, err := pagination(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	chains, total, err := h.service.ListChains(r.Context(), models.ChainFilter{
		Offset:  offset,
		Limit:   limit,
		Filters: r.URL.Query().Get("filters"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if chains == nil {
		chains = []models.Chain{}
	}

	h.respondJSON(w, http.StatusOK, models.ListResponse{
		Success: true,
		Data:    chains,
		Pagination: models.Pagination{
			Total: total,
			Pages: (total + limit - 1) / limit,
			Page:  page,
			Limit: limit,
		},
	})
}

// GetChain handles GET /chains/{id}
func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", invalidChainID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	chain, err := h.service.GetChain(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.SuccessResponse{Success: true, Data: chain})
}

// GetChainOffers handles GET /chains/{id}/offers
func (h *Handler) GetChainOffers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", invalidChainID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	nodes, err := h.service.GetChainOffers(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.DataResponse{Success: true, Data: nodes})
}

// GetNextOffer handles GET /chains/{id}/next?offerId=&mailDate=
func (h *Handler) GetNextOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", invalidChainID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	q := r.URL.Query()
	offerID, ok := validation.ParseID(q.Get("offerId"))
	if !ok {
		h.respondError(w, r, apierror.Validation(apierror.CodeMissingOfferID, "Offer ID is required"))
		return
	}
	mailDate, err := validation.ParseDate(q.Get("mailDate"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	next, err := h.service.ResolveNext(r.Context(), id, offerID, mailDate)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.SuccessResponse{Success: true, Data: next})
}

// UpdateChain handles PATCH /chains/{id}
func (h *Handler) UpdateChain(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", invalidChainID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req struct {
		Payload *validation.ChainPatchPayload `json:"payload"`
	}
	if err := h.decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.Payload == nil {
		h.respondError(w, r, apierror.Validation(apierror.CodeInvalidBody, "payload is required"))
		return
	}

	chain, err := h.service.UpdateChain(r.Context(), principal(r), id, *req.Payload)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.SuccessResponse{Success: true, Data: chain})
}

// DeleteChain handles DELETE /chains/{id}
func (h *Handler) DeleteChain(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", invalidChainID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.service.DeleteChain(r.Context(), principal(r), id); err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: "Chain deleted successfully",
	})
}
