package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"offer-chain-api/internal/apierror"
	"offer-chain-api/internal/models"
	"offer-chain-api/internal/tracing"
	"offer-chain-api/internal/validation"
)

// GetPayeeNameForOffer returns the payee configured for an offer within a
// campaign. A nil payee with a nil error means the offer has none set.
func (s *Service) GetPayeeNameForOffer(ctx context.Context, campaignID, offerID int64) (payee *models.PayeeName, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "campaign.payee_name",
		attribute.Int64("campaign.id", campaignID),
		attribute.Int64("offer.id", offerID),
	)
	defer func() { tracing.End(span, err) }()

	if campaignID <= 0 {
		return nil, apierror.Validation(apierror.CodeMissingCampaignID, "Campaign ID is required")
	}
	if offerID <= 0 {
		return nil, apierror.Validation(apierror.CodeMissingOfferID, "Offer ID is required")
	}

	payee, err = s.db.GetPayeeNameForOffer(ctx, campaignID, offerID)
	if err != nil {
		return nil, translate(err)
	}
	return payee, nil
}

// CreateCampaign stores a campaign together with its per-offer rows.
func (s *Service) CreateCampaign(ctx context.Context, payload validation.CampaignPayload) (campaign *models.Campaign, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "campaign.create")
	defer func() { tracing.End(span, err) }()

	c, err := validation.ValidateCampaign(payload)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = s.now().UTC()

	campaign, err = s.db.CreateCampaign(ctx, c)
	if err != nil {
		return nil, translate(err)
	}
	s.logger.InfoContext(ctx, "campaign created", "campaign_id", campaign.ID, "offers", len(campaign.Offers))
	return campaign, nil
}

// CreatePayeeName stores a payee name that campaign offers can reference.
func (s *Service) CreatePayeeName(ctx context.Context, name string, brandID *int64) (models.PayeeName, error) {
	name, err := validation.ValidatePayeeName(name)
	if err != nil {
		return models.PayeeName{}, err
	}
	payee, err := s.db.CreatePayeeName(ctx, name, brandID)
	if err != nil {
		return models.PayeeName{}, translate(err)
	}
	return payee, nil
}

// RecordClientOffer enrols a client against an offer of a campaign or chain.
func (s *Service) RecordClientOffer(ctx context.Context, payload validation.ClientOfferPayload) (co *models.ClientOffer, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "client_offer.create")
	defer func() { tracing.End(span, err) }()

	record, err := validation.ValidateClientOffer(payload)
	if err != nil {
		return nil, err
	}
	record.CreatedAt = s.now().UTC()

	created, err := s.db.InsertClientOffer(ctx, record)
	if err != nil {
		return nil, translate(err)
	}
	span.SetAttributes(attribute.Int64("client_offer.id", created.ID))
	return &created, nil
}
