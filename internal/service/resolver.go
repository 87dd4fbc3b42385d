package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"offer-chain-api/internal/apierror"
	"offer-chain-api/internal/auth"
	"offer-chain-api/internal/database"
	"offer-chain-api/internal/events"
	"offer-chain-api/internal/models"
	"offer-chain-api/internal/tracing"
)

// NoRecentCampChainMessage is returned in place of a campaign/chain pair when
// the offer was not mailed within RecentWindow.
const NoRecentCampChainMessage = "offer does not belong to any campaign or chain in the recent window"

// ResolveNext returns the offer that follows offerID in the chain and the date
// it becomes available, counted in calendar days from mailDate. An offer with
// no outgoing edge yields a NextOffer with Found false.
func (s *Service) ResolveNext(ctx context.Context, chainID, offerID int64, mailDate time.Time) (next models.NextOffer, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "chain.resolve_next",
		attribute.Int64("chain.id", chainID),
		attribute.Int64("offer.id", offerID),
	)
	defer func() { tracing.End(span, err) }()

	next, err = s.resolveNext(ctx, s.db.Queries, chainID, offerID, mailDate)
	if err != nil {
		return models.NextOffer{}, translate(err)
	}
	span.SetAttributes(attribute.Bool("next.found", next.Found))
	s.publishResolved(ctx, chainID, next, 0)
	return next, nil
}

// ResolveNextForCampaign resolves the follow-up of offerID using the chain and
// mail date of the campaign. A campaign without a chain has no follow-up.
func (s *Service) ResolveNextForCampaign(ctx context.Context, campaignID, offerID int64) (next models.NextOffer, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "campaign.resolve_next",
		attribute.Int64("campaign.id", campaignID),
		attribute.Int64("offer.id", offerID),
	)
	defer func() { tracing.End(span, err) }()

	campaign, err := s.db.GetCampaign(ctx, campaignID)
	if err != nil {
		return models.NextOffer{}, translate(err)
	}
	if campaign.ChainID == nil {
		return models.NextOffer{SourceOfferID: offerID}, nil
	}
	if campaign.MailDate == nil {
		return models.NextOffer{}, apierror.Validation(apierror.CodeInvalidDate, "Campaign has no mail date")
	}

	next, err = s.resolveNext(ctx, s.db.Queries, *campaign.ChainID, offerID, *campaign.MailDate)
	if err != nil {
		return models.NextOffer{}, translate(err)
	}
	s.publishResolved(ctx, *campaign.ChainID, next, 0)
	return next, nil
}

// AdvanceClientOffer moves a client offer one step along its chain. The
// follow-up client offer is created and the source marked activated in one
// transaction; a terminal offer writes nothing.
func (s *Service) AdvanceClientOffer(ctx context.Context, actor auth.Principal, clientOfferID int64) (result *models.AdvanceResult, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "client_offer.advance", attribute.Int64("client_offer.id", clientOfferID))
	defer func() { tracing.End(span, err) }()

	var (
		res     models.AdvanceResult
		chainID int64
	)
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		co, err := tx.GetClientOffer(ctx, clientOfferID)
		if err != nil {
			return err
		}
		if co.IsActivated {
			return apierror.Conflict(apierror.CodeAlreadyActivated, "Client offer has already been activated")
		}

		var base time.Time
		chainID, base, err = s.advanceContext(ctx, tx.Queries, co)
		if err != nil {
			return err
		}
		if chainID == 0 {
			res.Next = models.NextOffer{SourceOfferID: co.OfferID}
			return nil
		}

		res.Next, err = s.resolveNext(ctx, tx.Queries, chainID, co.OfferID, base)
		if err != nil || !res.Next.Found {
			return err
		}

		source := co.OfferID
		created, err := tx.InsertClientOffer(ctx, models.ClientOffer{
			ClientID:        co.ClientID,
			OfferID:         res.Next.Offer.ID,
			ChainID:         &chainID,
			CampaignID:      co.CampaignID,
			OriginalOfferID: &source,
			AvailableAt:     res.Next.AvailableAt,
			CreatedAt:       s.now().UTC(),
		})
		if err != nil {
			return err
		}

		activated, err := tx.MarkClientOfferActivated(ctx, co.ID)
		if err != nil {
			return err
		}
		if !activated {
			return apierror.Conflict(apierror.CodeAlreadyActivated, "Client offer has already been activated")
		}
		res.ClientOffer = &created
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	if res.ClientOffer != nil {
		s.logger.InfoContext(ctx, "client offer advanced",
			"client_offer_id", clientOfferID,
			"next_client_offer_id", res.ClientOffer.ID,
			"next_offer_id", res.ClientOffer.OfferID,
			"actor", actor.UserID,
		)
		s.publishResolved(ctx, chainID, res.Next, res.ClientOffer.ID)
	}
	return &res, nil
}

// advanceContext picks the chain a client offer follows and the date its
// follow-up is counted from. A zero chain id means there is nothing to follow.
func (s *Service) advanceContext(ctx context.Context, q *database.Queries, co *models.ClientOffer) (int64, time.Time, error) {
	var campaign *models.Campaign
	if co.CampaignID != nil {
		c, err := q.GetCampaign(ctx, *co.CampaignID)
		if err != nil && !errors.Is(err, database.ErrCampaignNotFound) {
			return 0, time.Time{}, err
		}
		campaign = c
	}

	var chainID int64
	switch {
	case co.ChainID != nil:
		chainID = *co.ChainID
	case campaign != nil && campaign.ChainID != nil:
		chainID = *campaign.ChainID
	}

	var base time.Time
	switch {
	case co.AvailableAt != nil:
		base = *co.AvailableAt
	case campaign != nil && campaign.MailDate != nil:
		base = *campaign.MailDate
	default:
		y, m, d := co.CreatedAt.UTC().Date()
		base = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return chainID, base, nil
}

// GetLastCampChain returns the campaign and chain of the most recent mailing
// of offerID within RecentWindow, counting the boundary instant as inside. It
// returns nil when there is none.
func (s *Service) GetLastCampChain(ctx context.Context, offerID int64) (result *models.CampChain, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "campaign.last_camp_chain", attribute.Int64("offer.id", offerID))
	defer func() { tracing.End(span, err) }()

	since := s.now().UTC().Add(-RecentWindow)
	co, err := s.db.LatestClientOfferSince(ctx, offerID, since)
	if err != nil {
		return nil, translate(err)
	}
	if co == nil {
		return nil, nil
	}

	result = &models.CampChain{}
	if co.CampaignID != nil {
		result.Campaign, err = s.db.GetCampaign(ctx, *co.CampaignID)
		if err != nil && !errors.Is(err, database.ErrCampaignNotFound) {
			return nil, translate(err)
		}
	}

	chainID := co.ChainID
	if chainID == nil && result.Campaign != nil {
		chainID = result.Campaign.ChainID
	}
	if chainID != nil {
		result.Chain, err = s.db.GetChainHeader(ctx, *chainID)
		if err != nil && !errors.Is(err, database.ErrChainNotFound) {
			return nil, translate(err)
		}
	}
	return result, nil
}

func (s *Service) resolveNext(ctx context.Context, q *database.Queries, chainID, offerID int64, mailDate time.Time) (models.NextOffer, error) {
	if _, err := q.GetChainHeader(ctx, chainID); err != nil {
		return models.NextOffer{}, err
	}

	next := models.NextOffer{SourceOfferID: offerID}
	edge, ok, err := q.NextEdge(ctx, chainID, offerID)
	if err != nil || !ok {
		return next, err
	}

	offer, err := q.GetOffer(ctx, edge.OfferID)
	if err != nil {
		return models.NextOffer{}, err
	}

	availableAt := mailDate.AddDate(0, 0, edge.DaysToAdd)
	summary := offer.Summary()
	next.Found = true
	next.Offer = &summary
	next.DaysToAdd = edge.DaysToAdd
	next.AvailableAt = &availableAt
	return next, nil
}

func (s *Service) publishResolved(ctx context.Context, chainID int64, next models.NextOffer, clientOfferID int64) {
	if !s.hooksEnabled() {
		return
	}
	data := events.OfferResolvedData{
		ChainID:       chainID,
		SourceOfferID: next.SourceOfferID,
		Found:         next.Found,
		AvailableAt:   next.AvailableAt,
		ClientOfferID: clientOfferID,
	}
	if next.Offer != nil {
		data.NextOfferID = next.Offer.ID
	}
	s.events.PublishOfferResolved(ctx, data)
}
