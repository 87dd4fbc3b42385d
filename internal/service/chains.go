package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"offer-chain-api/internal/apierror"
	"offer-chain-api/internal/auth"
	"offer-chain-api/internal/cache"
	"offer-chain-api/internal/database"
	"offer-chain-api/internal/events"
	"offer-chain-api/internal/models"
	"offer-chain-api/internal/tracing"
	"offer-chain-api/internal/validation"
)

// CreateChain validates payload and stores the chain. Nothing is written when
// validation fails.
func (s *Service) CreateChain(ctx context.Context, actor auth.Principal, payload validation.ChainPayload) (id int64, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "chain.create")
	defer func() { tracing.End(span, err) }()

	chain, err := validation.ValidateCreateChain(payload)
	if err != nil {
		return 0, err
	}

	id, err = s.db.CreateChain(ctx, chain.Title, chain.BrandID, chain.FirstOfferID, chain.Graph)
	if err != nil {
		return 0, translate(err)
	}
	span.SetAttributes(attribute.Int64("chain.id", id))

	s.logger.InfoContext(ctx, "chain created",
		"chain_id", id,
		"brand_id", chain.BrandID,
		"offers", chain.Graph.Len(),
		"edges", chain.Graph.EdgeCount(),
	)
	if s.hooksEnabled() {
		s.events.PublishChain(ctx, events.EventChainCreated, events.ChainData{
			ChainID: id,
			Title:   chain.Title,
			BrandID: chain.BrandID,
			ActorID: actor.UserID,
		})
	}
	return id, nil
}

// GetChain returns a chain with its resolved edges. With caching enabled the
// result is read through chain:{id}; cache failures fall back to the database.
func (s *Service) GetChain(ctx context.Context, id int64) (chain *models.ChainWithEdges, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "chain.get", attribute.Int64("chain.id", id))
	defer func() { tracing.End(span, err) }()

	key := cache.ChainKey(id)
	if s.cacheEnabled() {
		cached, cerr := cache.GetJSON[models.ChainWithEdges](ctx, s.cache, key)
		switch {
		case cerr == nil:
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &cached, nil
		case !errors.Is(cerr, cache.ErrNotFound):
			s.logger.WarnContext(ctx, "cache read failed", "chain_id", id, "error", cerr)
		}
	}

	chain, err = s.db.GetChain(ctx, id)
	if err != nil {
		return nil, translate(err)
	}

	if s.cacheEnabled() {
		if cerr := cache.SetJSON(ctx, s.cache, key, chain, s.cacheTTL); cerr != nil {
			s.logger.WarnContext(ctx, "cache write failed", "chain_id", id, "error", cerr)
		}
	}
	return chain, nil
}

// ListChains returns one page of chain headers and the total match count.
func (s *Service) ListChains(ctx context.Context, filter models.ChainFilter) (chains []models.Chain, total int, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "chain.list")
	defer func() { tracing.End(span, err) }()

	chains, total, err = s.db.ListChains(ctx, filter)
	if err != nil {
		return nil, 0, translate(err)
	}
	return chains, total, nil
}

// GetChainOffers returns the key offers of a chain ordered by their depth
// from the first offer.
func (s *Service) GetChainOffers(ctx context.Context, id int64) (nodes []models.ChainNode, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "chain.offers", attribute.Int64("chain.id", id))
	defer func() { tracing.End(span, err) }()

	nodes, err = s.db.GetChainOffers(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return nodes, nil
}

// UpdateChain applies a partial update. A new edge set replaces the stored
// one entirely.
func (s *Service) UpdateChain(ctx context.Context, actor auth.Principal, id int64, payload validation.ChainPatchPayload) (chain *models.Chain, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "chain.update", attribute.Int64("chain.id", id))
	defer func() { tracing.End(span, err) }()

	patch, err := validation.ValidateChainPatch(payload)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, apierror.Validation(apierror.CodeMissingRequiredField, "Nothing to update")
	}

	chain, err = s.db.UpdateChain(ctx, id, patch)
	if err != nil {
		return nil, translate(err)
	}
	s.invalidateChain(ctx, id)

	s.logger.InfoContext(ctx, "chain updated", "chain_id", id, "graph_replaced", patch.Graph != nil)
	if s.hooksEnabled() {
		s.events.PublishChain(ctx, events.EventChainUpdated, events.ChainData{
			ChainID: chain.ID,
			Title:   chain.Title,
			BrandID: chain.BrandID,
			ActorID: actor.UserID,
		})
	}
	return chain, nil
}

// DeleteChain removes a chain with its nodes and edges. Deleting an unknown
// chain is an error.
func (s *Service) DeleteChain(ctx context.Context, actor auth.Principal, id int64) (err error) {
	ctx, span := s.tracer.StartSpan(ctx, "chain.delete", attribute.Int64("chain.id", id))
	defer func() { tracing.End(span, err) }()

	if err = s.db.DeleteChain(ctx, id); err != nil {
		if errors.Is(err, database.ErrChainNotFound) {
			return apierror.NotFound(apierror.CodeNotFound, "Failed to delete chain or it's already deleted")
		}
		return translate(err)
	}
	s.invalidateChain(ctx, id)

	s.logger.InfoContext(ctx, "chain deleted", "chain_id", id)
	if s.hooksEnabled() {
		s.events.PublishChain(ctx, events.EventChainDeleted, events.ChainData{ChainID: id, ActorID: actor.UserID})
	}
	return nil
}
