package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"offer-chain-api/internal/apierror"
	"offer-chain-api/internal/auth"
	"offer-chain-api/internal/cache"
	"offer-chain-api/internal/chaingraph"
	"offer-chain-api/internal/database"
	"offer-chain-api/internal/events"
	"offer-chain-api/internal/features"
	"offer-chain-api/internal/models"
	"offer-chain-api/internal/validation"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(database.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupService(t *testing.T, opts Options) (*Service, *database.DB) {
	t.Helper()
	db := setupTestDB(t)
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return testNow }
	}
	return NewServiceWithOptions(db, opts), db
}

func seedOffers(t *testing.T, svc *Service, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if _, err := svc.UpsertOffer(context.Background(), models.Offer{ID: id, Title: fmt.Sprintf("Offer %d", id)}); err != nil {
			t.Fatalf("Failed to seed offer %d: %v", id, err)
		}
	}
}

func chainPayload(title, brand, offers, first string) validation.ChainPayload {
	p := validation.ChainPayload{Title: title}
	if brand != "" {
		p.BrandID = json.RawMessage(brand)
	}
	if offers != "" {
		p.Offers = json.RawMessage(offers)
	}
	if first != "" {
		p.FirstOffer = json.RawMessage(first)
	}
	return p
}

func createChain(t *testing.T, svc *Service, title, offers, first string) int64 {
	t.Helper()
	id, err := svc.CreateChain(context.Background(), auth.Anonymous, chainPayload(title, "7", offers, first))
	if err != nil {
		t.Fatalf("Failed to create chain: %v", err)
	}
	return id
}

func sortTriples(ts []chaingraph.Triple) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Source != ts[j].Source {
			return ts[i].Source < ts[j].Source
		}
		return ts[i].Target < ts[j].Target
	})
}

func TestCreateChain_InvalidPayloadNeverReachesStorage(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	svc := NewService(database.NewFromConn(conn, database.DriverSQLite))

	tests := []struct {
		name    string
		payload validation.ChainPayload
		code    string
	}{
		{"missing title", chainPayload("", "1", `{"1":[]}`, "1"), apierror.CodeMissingRequiredField},
		{"missing brand", chainPayload("T", "", `{"1":[]}`, "1"), apierror.CodeMissingRequiredField},
		{"missing offers", chainPayload("T", "1", "", "1"), apierror.CodeInvalidOffers},
		{"empty offers", chainPayload("T", "1", `{}`, "1"), apierror.CodeInvalidOffers},
		{"missing first offer", chainPayload("T", "1", `{"1":[]}`, ""), apierror.CodeMissingFirstOffer},
		{"edges not an array", chainPayload("T", "1", `{"1":{"offerId":2}}`, "1"), apierror.CodeInvalidOfferStructure},
		{"edge without offerId", chainPayload("T", "1", `{"1":[{"daysToAdd":2}]}`, "1"), apierror.CodeInvalidConnectionStructure},
		{"non-numeric daysToAdd", chainPayload("T", "1", `{"1":[{"offerId":2,"daysToAdd":"soon"}]}`, "1"), apierror.CodeInvalidConnectionStructure},
		{"first offer outside graph", chainPayload("T", "1", `{"1":[]}`, "9"), apierror.CodeInvalidFirstOffer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateChain(context.Background(), auth.Anonymous, tt.payload)
			if !apierror.HasCode(err, tt.code) {
				t.Errorf("Expected code %s, got %v", tt.code, err)
			}
		})
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unexpected database activity: %v", err)
	}
}

func TestCreateChain_RoundTrip(t *testing.T) {
	svc, _ := setupService(t, Options{})
	seedOffers(t, svc, 1, 2)

	id := createChain(t, svc, "Spring", `{"1":[{"offerId":2,"daysToAdd":5}]}`, "1")

	chain, err := svc.GetChain(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to get chain: %v", err)
	}

	got := chain.Graph().Triples()
	want := []chaingraph.Triple{{Source: 1, Target: 2, DaysToAdd: 5}}
	sortTriples(got)
	if len(got) != len(want) || got[0] != want[0] {
		t.Errorf("Expected triples %v, got %v", want, got)
	}
	if chain.FirstOfferID != 1 {
		t.Errorf("Expected first offer 1, got %d", chain.FirstOfferID)
	}
}

func TestCreateChain_StorageErrors(t *testing.T) {
	svc, _ := setupService(t, Options{})
	seedOffers(t, svc, 1, 2)

	_, err := svc.CreateChain(context.Background(), auth.Anonymous,
		chainPayload("Broken", "7", `{"1":[{"offerId":404,"daysToAdd":1}]}`, "1"))
	if !apierror.HasCode(err, apierror.CodeInvalidOfferReference) {
		t.Errorf("Expected INVALID_OFFER_REFERENCE, got %v", err)
	}

	createChain(t, svc, "Twice", `{"1":[]}`, "1")
	_, err = svc.CreateChain(context.Background(), auth.Anonymous, chainPayload("Twice", "7", `{"2":[]}`, "2"))
	if !apierror.HasCode(err, apierror.CodeChainTitleExists) {
		t.Errorf("Expected CHAIN_TITLE_EXISTS, got %v", err)
	}
}

func TestGetChain_NotFound(t *testing.T) {
	svc, _ := setupService(t, Options{})

	_, err := svc.GetChain(context.Background(), 404)
	if !apierror.HasCode(err, apierror.CodeChainNotFound) {
		t.Errorf("Expected CHAIN_NOT_FOUND, got %v", err)
	}
}

func TestResolveNext_AddsCalendarDays(t *testing.T) {
	svc, _ := setupService(t, Options{})
	seedOffers(t, svc, 1, 2)
	id := createChain(t, svc, "Winter", `{"1":[{"offerId":2,"daysToAdd":7}]}`, "1")

	mailDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := svc.ResolveNext(context.Background(), id, 1, mailDate)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	if !next.Found || next.Offer == nil || next.Offer.ID != 2 {
		t.Fatalf("Expected offer 2, got %+v", next)
	}
	want := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	if !next.AvailableAt.Equal(want) {
		t.Errorf("Expected availableAt %s, got %s", want, next.AvailableAt)
	}
	if next.DaysToAdd != 7 {
		t.Errorf("Expected daysToAdd 7, got %d", next.DaysToAdd)
	}
}

func TestResolveNext_AcrossMonthEnd(t *testing.T) {
	svc, _ := setupService(t, Options{})
	seedOffers(t, svc, 1, 2)
	id := createChain(t, svc, "Leap", `{"1":[{"offerId":2,"daysToAdd":1}]}`, "1")

	next, err := svc.ResolveNext(context.Background(), id, 1, time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if want := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC); !next.AvailableAt.Equal(want) {
		t.Errorf("Expected %s, got %s", want, next.AvailableAt)
	}
}

func TestResolveNext_TerminalNode(t *testing.T) {
	svc, _ := setupService(t, Options{})
	seedOffers(t, svc, 1, 2)
	id := createChain(t, svc, "Short", `{"1":[{"offerId":2,"daysToAdd":3}],"2":[]}`, "1")

	for _, offerID := range []int64{2, 99} {
		next, err := svc.ResolveNext(context.Background(), id, offerID, testNow)
		if err != nil {
			t.Fatalf("Terminal offer %d should not be an error: %v", offerID, err)
		}
		if next.Found || next.Offer != nil {
			t.Errorf("Expected no further offer for %d, got %+v", offerID, next)
		}
	}
}

func TestResolveNext_UnknownChain(t *testing.T) {
	svc, _ := setupService(t, Options{})

	_, err := svc.ResolveNext(context.Background(), 12, 1, testNow)
	if !apierror.HasCode(err, apierror.CodeChainNotFound) {
		t.Errorf("Expected CHAIN_NOT_FOUND, got %v", err)
	}
}

func TestResolveNextForCampaign(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t, Options{})
	seedOffers(t, svc, 1, 2)
	chainID := createChain(t, svc, "Campaign chain", `{"1":[{"offerId":2,"daysToAdd":10}]}`, "1")

	withChain, err := svc.CreateCampaign(ctx, validation.CampaignPayload{
		Code: "SPR24", MailDate: "2024-01-01", ChainID: &chainID,
		Offers: []validation.CampaignOfferPayload{{OfferID: 1}},
	})
	if err != nil {
		t.Fatalf("Failed to create campaign: %v", err)
	}
	withoutChain, err := svc.CreateCampaign(ctx, validation.CampaignPayload{Code: "LOOSE", MailDate: "2024-01-01"})
	if err != nil {
		t.Fatalf("Failed to create campaign: %v", err)
	}

	next, err := svc.ResolveNextForCampaign(ctx, withChain.ID, 1)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if want := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC); !next.Found || !next.AvailableAt.Equal(want) {
		t.Errorf("Expected offer available at %s, got %+v", want, next)
	}

	next, err = svc.ResolveNextForCampaign(ctx, withoutChain.ID, 1)
	if err != nil || next.Found {
		t.Errorf("Expected no further offer for a campaign without chain, got %+v, %v", next, err)
	}

	_, err = svc.ResolveNextForCampaign(ctx, 999, 1)
	if !apierror.HasCode(err, apierror.CodeCampaignNotFound) {
		t.Errorf("Expected CAMPAIGN_NOT_FOUND, got %v", err)
	}
}

func TestGetLastCampChain_RecencyWindow(t *testing.T) {
	tests := []struct {
		name  string
		age   time.Duration
		found bool
	}{
		{"nine days 23:59 ago", 9*24*time.Hour + 23*time.Hour + 59*time.Minute, true},
		{"exactly ten days ago", RecentWindow, true},
		{"ten days 00:01 ago", RecentWindow + time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc, db := setupService(t, Options{})
			seedOffers(t, svc, 1, 2)
			chainID := createChain(t, svc, "Window", `{"1":[{"offerId":2,"daysToAdd":1}]}`, "1")

			campaign, err := svc.CreateCampaign(ctx, validation.CampaignPayload{Code: "C1", MailDate: "2024-03-01", ChainID: &chainID})
			if err != nil {
				t.Fatalf("Failed to create campaign: %v", err)
			}
			if _, err := db.InsertClientOffer(ctx, models.ClientOffer{
				ClientID:   5,
				OfferID:    1,
				CampaignID: &campaign.ID,
				CreatedAt:  testNow.Add(-tt.age),
			}); err != nil {
				t.Fatalf("Failed to insert client offer: %v", err)
			}

			got, err := svc.GetLastCampChain(ctx, 1)
			if err != nil {
				t.Fatalf("GetLastCampChain failed: %v", err)
			}
			if !tt.found {
				if got != nil {
					t.Errorf("Expected nothing outside the window, got %+v", got)
				}
				return
			}
			if got == nil || got.Campaign == nil || got.Chain == nil {
				t.Fatalf("Expected campaign and chain, got %+v", got)
			}
			if got.Campaign.ID != campaign.ID || got.Chain.ID != chainID {
				t.Errorf("Expected campaign %d and chain %d, got %d and %d",
					campaign.ID, chainID, got.Campaign.ID, got.Chain.ID)
			}
		})
	}
}

func TestGetLastCampChain_PrefersClientOfferChain(t *testing.T) {
	ctx := context.Background()
	svc, db := setupService(t, Options{})
	seedOffers(t, svc, 1)
	direct := createChain(t, svc, "Direct", `{"1":[]}`, "1")

	if _, err := db.InsertClientOffer(ctx, models.ClientOffer{
		ClientID: 5, OfferID: 1, ChainID: &direct, CreatedAt: testNow.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Failed to insert client offer: %v", err)
	}

	got, err := svc.GetLastCampChain(ctx, 1)
	if err != nil {
		t.Fatalf("GetLastCampChain failed: %v", err)
	}
	if got == nil || got.Campaign != nil || got.Chain == nil || got.Chain.ID != direct {
		t.Errorf("Expected only chain %d, got %+v", direct, got)
	}
}

func TestUpdateChain_ReplacesEdges(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t, Options{})
	seedOffers(t, svc, 1, 2, 3)
	id := createChain(t, svc, "Replace", `{"1":[{"offerId":2,"daysToAdd":1}],"2":[{"offerId":3,"daysToAdd":2}]}`, "1")

	_, err := svc.UpdateChain(ctx, auth.Anonymous, id, validation.ChainPatchPayload{
		Edges: json.RawMessage(`{"1":[{"offerId":3,"daysToAdd":4}]}`),
	})
	if err != nil {
		t.Fatalf("Failed to update chain: %v", err)
	}

	chain, err := svc.GetChain(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get chain: %v", err)
	}
	if edges := chain.Offers[2]; len(edges) != 0 {
		t.Errorf("Expected edges from offer 2 to be removed, got %v", edges)
	}
	got := chain.Graph().Triples()
	if len(got) != 1 || got[0] != (chaingraph.Triple{Source: 1, Target: 3, DaysToAdd: 4}) {
		t.Errorf("Expected only 1->3, got %v", got)
	}
}

func TestUpdateChain_Errors(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t, Options{})
	seedOffers(t, svc, 1)
	id := createChain(t, svc, "Patch", `{"1":[]}`, "1")

	title := "Renamed"
	_, err := svc.UpdateChain(ctx, auth.Anonymous, 999, validation.ChainPatchPayload{Title: &title})
	if !apierror.HasCode(err, apierror.CodeChainNotFound) {
		t.Errorf("Expected CHAIN_NOT_FOUND, got %v", err)
	}

	_, err = svc.UpdateChain(ctx, auth.Anonymous, id, validation.ChainPatchPayload{})
	if !apierror.HasCode(err, apierror.CodeMissingRequiredField) {
		t.Errorf("Expected an empty patch to be rejected, got %v", err)
	}

	_, err = svc.UpdateChain(ctx, auth.Anonymous, id, validation.ChainPatchPayload{FirstOffer: json.RawMessage("42")})
	if !apierror.HasCode(err, apierror.CodeInvalidFirstOffer) {
		t.Errorf("Expected INVALID_FIRST_OFFER, got %v", err)
	}
}

func TestDeleteChain_NotFound(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t, Options{})
	seedOffers(t, svc, 1)
	id := createChain(t, svc, "Delete me", `{"1":[]}`, "1")

	if err := svc.DeleteChain(ctx, auth.Anonymous, id); err != nil {
		t.Fatalf("Failed to delete chain: %v", err)
	}

	err := svc.DeleteChain(ctx, auth.Anonymous, id)
	apiErr := apierror.From(err)
	if apiErr.Code != apierror.CodeNotFound || apiErr.Status != 404 {
		t.Errorf("Expected 404 NOT_FOUND on second delete, got %v", err)
	}
}

func TestGetChain_CacheReadThrough(t *testing.T) {
	ctx := context.Background()
	flags := features.NewManager()
	flags.Register(features.FeatureCacheEnabled, true, "")
	mem := cache.NewInMemoryCache()

	svc, _ := setupService(t, Options{Cache: mem, Features: flags, CacheTTL: time.Minute})
	seedOffers(t, svc, 1, 2)
	id := createChain(t, svc, "Cached", `{"1":[{"offerId":2,"daysToAdd":1}]}`, "1")

	if _, err := svc.GetChain(ctx, id); err != nil {
		t.Fatalf("Failed to get chain: %v", err)
	}
	if _, err := mem.Get(ctx, cache.ChainKey(id)); err != nil {
		t.Fatalf("Expected chain to be cached: %v", err)
	}

	title := "Cached v2"
	if _, err := svc.UpdateChain(ctx, auth.Anonymous, id, validation.ChainPatchPayload{Title: &title}); err != nil {
		t.Fatalf("Failed to update chain: %v", err)
	}
	if _, err := mem.Get(ctx, cache.ChainKey(id)); err != cache.ErrNotFound {
		t.Errorf("Expected update to invalidate the cache, got %v", err)
	}

	chain, err := svc.GetChain(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get chain: %v", err)
	}
	if chain.Title != title {
		t.Errorf("Expected fresh title %q, got %q", title, chain.Title)
	}
}

func TestAdvanceClientOffer(t *testing.T) {
	ctx := context.Background()
	svc, db := setupService(t, Options{})
	seedOffers(t, svc, 1, 2)
	chainID := createChain(t, svc, "Advance", `{"1":[{"offerId":2,"daysToAdd":14}],"2":[]}`, "1")

	campaign, err := svc.CreateCampaign(ctx, validation.CampaignPayload{Code: "ADV", MailDate: "2024-03-01", ChainID: &chainID})
	if err != nil {
		t.Fatalf("Failed to create campaign: %v", err)
	}
	co, err := svc.RecordClientOffer(ctx, validation.ClientOfferPayload{ClientID: 8, OfferID: 1, CampaignID: &campaign.ID})
	if err != nil {
		t.Fatalf("Failed to record client offer: %v", err)
	}

	res, err := svc.AdvanceClientOffer(ctx, auth.Anonymous, co.ID)
	if err != nil {
		t.Fatalf("Failed to advance: %v", err)
	}
	if res.ClientOffer == nil || res.ClientOffer.OfferID != 2 {
		t.Fatalf("Expected a follow-up for offer 2, got %+v", res)
	}
	if want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC); !res.ClientOffer.AvailableAt.Equal(want) {
		t.Errorf("Expected follow-up available at %s, got %s", want, res.ClientOffer.AvailableAt)
	}
	if res.ClientOffer.OriginalOfferID == nil || *res.ClientOffer.OriginalOfferID != 1 {
		t.Errorf("Expected originalOfferId 1, got %v", res.ClientOffer.OriginalOfferID)
	}

	source, err := db.GetClientOffer(ctx, co.ID)
	if err != nil {
		t.Fatalf("Failed to reload source: %v", err)
	}
	if !source.IsActivated {
		t.Error("Expected source client offer to be activated")
	}

	_, err = svc.AdvanceClientOffer(ctx, auth.Anonymous, co.ID)
	if !apierror.HasCode(err, apierror.CodeAlreadyActivated) {
		t.Errorf("Expected ALREADY_ACTIVATED, got %v", err)
	}

	// The follow-up sits on a leaf: nothing further is written.
	res, err = svc.AdvanceClientOffer(ctx, auth.Anonymous, res.ClientOffer.ID)
	if err != nil {
		t.Fatalf("Failed to advance terminal offer: %v", err)
	}
	if res.Next.Found || res.ClientOffer != nil {
		t.Errorf("Expected no follow-up for a terminal offer, got %+v", res)
	}

	_, err = svc.AdvanceClientOffer(ctx, auth.Anonymous, 999)
	if !apierror.HasCode(err, apierror.CodeClientOfferNotFound) {
		t.Errorf("Expected CLIENT_OFFER_NOT_FOUND, got %v", err)
	}
}

func TestGetPayeeNameForOffer(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t, Options{})
	seedOffers(t, svc, 1, 2)

	payee, err := svc.CreatePayeeName(ctx, "  ACME Rewards ", nil)
	if err != nil {
		t.Fatalf("Failed to create payee: %v", err)
	}
	campaign, err := svc.CreateCampaign(ctx, validation.CampaignPayload{
		Code: "PAY",
		Offers: []validation.CampaignOfferPayload{
			{OfferID: 1, PayeeNameID: &payee.ID},
			{OfferID: 2},
		},
	})
	if err != nil {
		t.Fatalf("Failed to create campaign: %v", err)
	}

	got, err := svc.GetPayeeNameForOffer(ctx, campaign.ID, 1)
	if err != nil {
		t.Fatalf("Failed to get payee: %v", err)
	}
	if got == nil || got.Name != "ACME Rewards" {
		t.Errorf("Expected ACME Rewards, got %+v", got)
	}

	got, err = svc.GetPayeeNameForOffer(ctx, campaign.ID, 2)
	if err != nil || got != nil {
		t.Errorf("Expected nil payee, got %+v, %v", got, err)
	}

	_, err = svc.GetPayeeNameForOffer(ctx, campaign.ID, 3)
	if !apierror.HasCode(err, apierror.CodeNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}

	_, err = svc.GetPayeeNameForOffer(ctx, 0, 1)
	if !apierror.HasCode(err, apierror.CodeMissingCampaignID) {
		t.Errorf("Expected MISSING_CAMPAIGN_ID, got %v", err)
	}
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	ctx := context.Background()
	flags := features.NewManager()
	flags.Register(features.FeatureEventHooksEnabled, true, "")
	bus := events.NewManager(true, nil)

	var (
		mu  sync.Mutex
		got []events.EventType
	)
	record := func(ctx context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Type)
		return nil
	}
	bus.Subscribe(events.EventChainCreated, record)
	bus.Subscribe(events.EventOfferResolved, record)
	bus.Subscribe(events.EventChainDeleted, record)

	svc, _ := setupService(t, Options{Events: bus, Features: flags})
	seedOffers(t, svc, 1, 2)

	// A rejected create publishes nothing.
	if _, err := svc.CreateChain(ctx, auth.Anonymous, chainPayload("", "1", `{"1":[]}`, "1")); err == nil {
		t.Fatal("Expected validation error")
	}

	id := createChain(t, svc, "Evented", `{"1":[{"offerId":2,"daysToAdd":1}]}`, "1")
	if _, err := svc.ResolveNext(ctx, id, 1, testNow); err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if err := svc.DeleteChain(ctx, auth.Anonymous, id); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("Expected 3 events, got %v", got)
	}
	seen := map[events.EventType]bool{}
	for _, e := range got {
		seen[e] = true
	}
	for _, want := range []events.EventType{events.EventChainCreated, events.EventOfferResolved, events.EventChainDeleted} {
		if !seen[want] {
			t.Errorf("Expected %s to be published, got %v", want, got)
		}
	}
}
