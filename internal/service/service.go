package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"offer-chain-api/internal/apierror"
	"offer-chain-api/internal/cache"
	"offer-chain-api/internal/database"
	"offer-chain-api/internal/events"
	"offer-chain-api/internal/features"
	"offer-chain-api/internal/tracing"
)

// RecentWindow is how far back GetLastCampChain looks for a mailing.
const RecentWindow = 10 * 24 * time.Hour

// Service provides business logic for offer chains and their campaign linkage.
type Service struct {
	db       *database.DB
	cache    cache.Cache
	cacheTTL time.Duration
	events   *events.Manager
	features *features.Manager
	tracer   *tracing.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

// Options holds optional collaborators of a Service.
type Options struct {
	Cache    cache.Cache
	CacheTTL time.Duration
	Events   *events.Manager
	Features *features.Manager
	Tracer   *tracing.Tracer
	Logger   *slog.Logger
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewService creates a new service instance.
func NewService(db *database.DB) *Service {
	return NewServiceWithOptions(db, Options{})
}

// NewServiceWithOptions creates a new service instance with custom options.
func NewServiceWithOptions(db *database.DB, opts Options) *Service {
	s := &Service{
		db:       db,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		events:   opts.Events,
		features: opts.Features,
		tracer:   opts.Tracer,
		logger:   opts.Logger,
		now:      opts.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.events == nil {
		s.events = events.NewManager(false, s.logger)
	}
	if s.features == nil {
		s.features = features.NewManager()
	}
	if s.tracer == nil {
		s.tracer = tracing.Noop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 5 * time.Minute
	}
	return s
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.features.IsEnabled(features.FeatureCacheEnabled)
}

func (s *Service) hooksEnabled() bool {
	return s.features.IsEnabled(features.FeatureEventHooksEnabled)
}

// invalidateChain drops the cached copy of a chain. Failures are logged; the
// entry expires on its own.
func (s *Service) invalidateChain(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.ChainKey(id)); err != nil {
		s.logger.WarnContext(ctx, "cache invalidation failed", "chain_id", id, "error", err)
	}
}

// translate maps storage errors to API errors. Anything unknown becomes an
// internal error.
func translate(err error) error {
	var apiErr *apierror.APIError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, database.ErrChainNotFound):
		return apierror.NotFound(apierror.CodeChainNotFound, "Chain not found")
	case errors.Is(err, database.ErrCampaignNotFound):
		return apierror.NotFound(apierror.CodeCampaignNotFound, "Campaign not found")
	case errors.Is(err, database.ErrClientOfferNotFound):
		return apierror.NotFound(apierror.CodeClientOfferNotFound, "Client offer not found")
	case errors.Is(err, database.ErrCampaignOfferNotFound):
		return apierror.NotFound(apierror.CodeNotFound, "Campaign offer not found")
	case errors.Is(err, database.ErrOfferNotFound):
		return apierror.NotFound(apierror.CodeNotFound, "Offer not found")
	case errors.Is(err, database.ErrForeignKey):
		return apierror.Validation(apierror.CodeInvalidOfferReference, "One or more referenced records do not exist")
	case errors.Is(err, database.ErrUnique):
		return apierror.Conflict(apierror.CodeChainTitleExists, "A chain with this title already exists for the brand")
	case errors.Is(err, database.ErrFirstOfferNotInGraph):
		return apierror.Validation(apierror.CodeInvalidFirstOffer, "First offer must be one of the offers in the graph")
	case errors.Is(err, database.ErrInvalidFilter):
		return apierror.Validation(apierror.CodeInvalidFilters, err.Error())
	default:
		return apierror.Internal(err)
	}
}
