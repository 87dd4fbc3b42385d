package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"offer-chain-api/internal/apierror"
	"offer-chain-api/internal/models"
	"offer-chain-api/internal/service"
	"offer-chain-api/internal/validation"
)

// GetLastCampChain handles GET /campaigns/offers/{offerId}
func (h *Handler) GetLastCampChain(w http.ResponseWriter, r *http.Request) {
	offerID, ok := validation.ParseID(chi.URLParam(r, "offerId"))
	if !ok {
		h.respondError(w, r, apierror.Validation(apierror.CodeMissingOfferID, "Offer ID is required"))
		return
	}

	result, err := h.service.GetLastCampChain(r.Context(), offerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if result == nil {
		h.respondJSON(w, http.StatusOK, models.SuccessResponse{
			Success: true,
			Message: service.NoRecentCampChainMessage,
		})
		return
	}

	h.respondJSON(w, http.StatusOK, models.SuccessResponse{Success: true, Data: result})
}

// GetPayeeName handles GET /campaigns/{campaignId}/offers/{offerId}/payeename
func (h *Handler) GetPayeeName(w http.ResponseWriter, r *http.Request) {
	campaignID, offerID, err := campaignOfferIDs(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	payee, err := h.service.GetPayeeNameForOffer(r.Context(), campaignID, offerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	// A nil payee is reported as data: null.
	var data any
	if payee != nil {
		data = payee
	}
	h.respondJSON(w, http.StatusOK, models.DataResponse{Success: true, Data: data})
}

// GetCampaignNextOffer handles GET /campaigns/{campaignId}/offers/{offerId}/next
func (h *Handler) GetCampaignNextOffer(w http.ResponseWriter, r *http.Request) {
	campaignID, offerID, err := campaignOfferIDs(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	next, err := h.service.ResolveNextForCampaign(r.Context(), campaignID, offerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.SuccessResponse{Success: true, Data: next})
}

// CreateCampaign handles POST /campaigns
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req validation.CampaignPayload
	if err := h.decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	campaign, err := h.service.CreateCampaign(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, models.SuccessResponse{Success: true, Data: campaign})
}

// CreatePayeeName handles POST /payee-names
func (h *Handler) CreatePayeeName(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		BrandID *int64 `json:"brandId"`
	}
	if err := h.decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	payee, err := h.service.CreatePayeeName(r.Context(), req.Name, req.BrandID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, models.SuccessResponse{Success: true, Data: payee})
}

// RecordClientOffer handles POST /client-offers
func (h *Handler) RecordClientOffer(w http.ResponseWriter, r *http.Request) {
	var req validation.ClientOfferPayload
	if err := h.decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	co, err := h.service.RecordClientOffer(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, models.SuccessResponse{Success: true, Data: co})
}

// AdvanceClientOffer handles POST /client-offers/{id}/advance
func (h *Handler) AdvanceClientOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "Invalid client offer ID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	result, err := h.service.AdvanceClientOffer(r.Context(), principal(r), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.SuccessResponse{Success: true, Data: result})
}

// CreateOffer handles POST /offers
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req models.Offer
	if err := h.decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	offer, err := h.service.UpsertOffer(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, models.SuccessResponse{Success: true, Data: offer})
}

func campaignOfferIDs(r *http.Request) (campaignID, offerID int64, err error) {
	campaignID, ok := validation.ParseID(chi.URLParam(r, "campaignId"))
	if !ok {
		return 0, 0, apierror.Validation(apierror.CodeMissingCampaignID, "Campaign ID is required")
	}
	offerID, ok = validation.ParseID(chi.URLParam(r, "offerId"))
	if !ok {
		return 0, 0, apierror.Validation(apierror.CodeMissingOfferID, "Offer ID is required")
	}
	return campaignID, offerID, nil
}
