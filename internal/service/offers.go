package service

import (
	"context"

	"offer-chain-api/internal/models"
	"offer-chain-api/internal/validation"
)

// UpsertOffer mirrors an offer from the catalog so chains can reference it.
func (s *Service) UpsertOffer(ctx context.Context, offer models.Offer) (models.Offer, error) {
	offer, err := validation.ValidateOffer(offer)
	if err != nil {
		return models.Offer{}, err
	}
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = s.now().UTC()
	}

	saved, err := s.db.UpsertOffer(ctx, offer)
	if err != nil {
		return models.Offer{}, translate(err)
	}
	s.logger.DebugContext(ctx, "offer stored", "offer_id", saved.ID)
	return saved, nil
}
