package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"offer-chain-api/internal/auth"
	"offer-chain-api/internal/database"
	"offer-chain-api/internal/features"
	"offer-chain-api/internal/middleware"
	"offer-chain-api/internal/models"
	"offer-chain-api/internal/service"
)

const testSecret = "test-secret"

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	router chi.Router
	db     *database.DB
	svc    *service.Service
}

func setupTestHandler(t *testing.T, authEnabled bool) *testEnv {
	t.Helper()
	db, err := database.NewDB(database.DriverSQLite, filepath.Join(t.TempDir(), "handler.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	flags := features.NewManager()
	flags.Register(features.FeatureDevErrorDetails, false, "")

	svc := service.NewServiceWithOptions(db, service.Options{Clock: func() time.Time { return testNow }})
	h := NewHandlerWithOptions(svc, NewHandlerOptions{
		MaxBodySize: 1 << 16,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Features:    flags,
	})

	r := NewRouter(h, RouterOptions{
		Verifier:    auth.NewVerifier(testSecret, ""),
		AuthEnabled: authEnabled,
	})
	return &testEnv{router: r, db: db, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		buf = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		buf = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) seedOffers(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		rr := e.do(t, "POST", "/offers", models.Offer{ID: id, Title: fmt.Sprintf("Offer %d", id)}, "")
		if rr.Code != http.StatusCreated {
			t.Fatalf("Failed to seed offer %d: %d %s", id, rr.Code, rr.Body.String())
		}
	}
}

func (e *testEnv) createChain(t *testing.T, body string) int64 {
	t.Helper()
	rr := e.do(t, "POST", "/chains", body, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Data struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	decode(t, rr, &resp)
	return resp.Data.ID
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	decode(t, rr, &resp)
	if resp.Success {
		t.Errorf("Expected success false in error body")
	}
	return resp.Code
}

func TestHealthCheck(t *testing.T) {
	env := setupTestHandler(t, true)

	rr := env.do(t, "GET", "/health", nil, "")
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", rr.Body.String())
	}
}

func TestCreateChain_Success(t *testing.T) {
	env := setupTestHandler(t, false)
	env.seedOffers(t, 1, 2)

	rr := env.do(t, "POST", "/chains",
		`{"title":"Spring","brandId":"7","offers":{"1":[{"offerId":2,"daysToAdd":5}],"2":[]},"firstOffer":1}`, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	decode(t, rr, &resp)
	if !resp.Success || resp.Data.ID == 0 {
		t.Errorf("Expected success with id, got %+v", resp)
	}
	if loc := rr.Header().Get("Location"); loc != fmt.Sprintf("/chains/%d", resp.Data.ID) {
		t.Errorf("Unexpected Location header %q", loc)
	}
}

func TestCreateChain_ValidationErrors(t *testing.T) {
	env := setupTestHandler(t, false)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"empty body", "", "INVALID_BODY"},
		{"malformed json", "{", "INVALID_BODY"},
		{"missing title", `{"brandId":1,"offers":{"1":[]},"firstOffer":1}`, "MISSING_REQUIRED_FIELD"},
		{"missing brand", `{"title":"T","offers":{"1":[]},"firstOffer":1}`, "MISSING_REQUIRED_FIELD"},
		{"offers not object", `{"title":"T","brandId":1,"offers":[],"firstOffer":1}`, "INVALID_OFFERS"},
		{"missing first offer", `{"title":"T","brandId":1,"offers":{"1":[]}}`, "MISSING_FIRST_OFFER"},
		{"bad structure", `{"title":"T","brandId":1,"offers":{"1":{}},"firstOffer":1}`, "INVALID_OFFER_STRUCTURE"},
		{"bad connection", `{"title":"T","brandId":1,"offers":{"1":[{"daysToAdd":1}]},"firstOffer":1}`, "INVALID_CONNECTION_STRUCTURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/chains", tt.body, "")
			if rr.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", rr.Code)
			}
			if code := errorCode(t, rr); code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestGetChain(t *testing.T) {
	env := setupTestHandler(t, false)
	env.seedOffers(t, 1, 2)
	id := env.createChain(t, `{"title":"Read","brandId":1,"offers":{"1":[{"offerId":2,"daysToAdd":3}]},"firstOffer":1}`)

	rr := env.do(t, "GET", fmt.Sprintf("/chains/%d", id), nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Data models.ChainWithEdges `json:"data"`
	}
	decode(t, rr, &resp)
	edges := resp.Data.Offers[1]
	if len(edges) != 1 || edges[0].OfferID != 2 || edges[0].DaysToAdd != 3 {
		t.Errorf("Unexpected edges %+v", resp.Data.Offers)
	}

	rr = env.do(t, "GET", "/chains/abc", nil, "")
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "INVALID_ID" {
		t.Errorf("Expected INVALID_ID for a non-numeric id, got %d", rr.Code)
	}

	rr = env.do(t, "GET", "/chains/999", nil, "")
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "CHAIN_NOT_FOUND" {
		t.Errorf("Expected 404 CHAIN_NOT_FOUND, got %d", rr.Code)
	}
}

func TestListChains_Pagination(t *testing.T) {
	env := setupTestHandler(t, false)
	env.seedOffers(t, 1)
	for i := 0; i < 3; i++ {
		env.createChain(t, fmt.Sprintf(`{"title":"Chain %d","brandId":1,"offers":{"1":[]},"firstOffer":1}`, i))
	}

	rr := env.do(t, "GET", "/chains?page=2&rows_per_page=2", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp models.ListResponse
	decode(t, rr, &resp)
	want := models.Pagination{Total: 3, Pages: 2, Page: 2, Limit: 2}
	if resp.Pagination != want {
		t.Errorf("Expected pagination %+v, got %+v", want, resp.Pagination)
	}
	if items, ok := resp.Data.([]any); !ok || len(items) != 1 {
		t.Errorf("Expected one chain on page 2, got %v", resp.Data)
	}

	rr = env.do(t, "GET", "/chains?page=0", nil, "")
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "INVALID_PAGINATION" {
		t.Errorf("Expected INVALID_PAGINATION, got %d", rr.Code)
	}

	rr = env.do(t, "GET", "/chains?filters="+url.QueryEscape(`{"status":"x"}`), nil, "")
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "INVALID_FILTERS" {
		t.Errorf("Expected INVALID_FILTERS, got %d", rr.Code)
	}
}

func TestUpdateChain(t *testing.T) {
	env := setupTestHandler(t, false)
	env.seedOffers(t, 1, 2, 3)
	id := env.createChain(t, `{"title":"Patch","brandId":1,"offers":{"1":[{"offerId":2,"daysToAdd":1}],"2":[{"offerId":3,"daysToAdd":1}]},"firstOffer":1}`)

	rr := env.do(t, "PATCH", fmt.Sprintf("/chains/%d", id),
		`{"payload":{"title":"Patched","edges":{"1":[{"offerId":3,"daysToAdd":2}]}}}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Data models.Chain `json:"data"`
	}
	decode(t, rr, &resp)
	if resp.Data.Title != "Patched" {
		t.Errorf("Expected title Patched, got %q", resp.Data.Title)
	}

	rr = env.do(t, "PATCH", fmt.Sprintf("/chains/%d", id), `{"title":"no wrapper"}`, "")
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "INVALID_BODY" {
		t.Errorf("Expected INVALID_BODY without payload wrapper, got %d", rr.Code)
	}

	rr = env.do(t, "PATCH", "/chains/999", `{"payload":{"title":"x"}}`, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rr.Code)
	}
}

func TestDeleteChain(t *testing.T) {
	env := setupTestHandler(t, false)
	env.seedOffers(t, 1)
	id := env.createChain(t, `{"title":"Delete","brandId":1,"offers":{"1":[]},"firstOffer":1}`)

	rr := env.do(t, "DELETE", fmt.Sprintf("/chains/%d", id), nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp models.SuccessResponse
	decode(t, rr, &resp)
	if resp.Message != "Chain deleted successfully" {
		t.Errorf("Unexpected message %q", resp.Message)
	}

	rr = env.do(t, "DELETE", fmt.Sprintf("/chains/%d", id), nil, "")
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "NOT_FOUND" {
		t.Errorf("Expected 404 NOT_FOUND on second delete, got %d", rr.Code)
	}
}

func TestGetNextOffer(t *testing.T) {
	env := setupTestHandler(t, false)
	env.seedOffers(t, 1, 2)
	id := env.createChain(t, `{"title":"Next","brandId":1,"offers":{"1":[{"offerId":2,"daysToAdd":7}]},"firstOffer":1}`)

	rr := env.do(t, "GET", fmt.Sprintf("/chains/%d/next?offerId=1&mailDate=2024-01-01", id), nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Data models.NextOffer `json:"data"`
	}
	decode(t, rr, &resp)
	if !resp.Data.Found || resp.Data.AvailableAt == nil || resp.Data.AvailableAt.Format("2006-01-02") != "2024-01-08" {
		t.Errorf("Expected offer available on 2024-01-08, got %+v", resp.Data)
	}

	rr = env.do(t, "GET", fmt.Sprintf("/chains/%d/next?offerId=1&mailDate=soon", id), nil, "")
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "INVALID_DATE" {
		t.Errorf("Expected INVALID_DATE, got %d", rr.Code)
	}
}

func TestGetLastCampChain(t *testing.T) {
	env := setupTestHandler(t, false)
	env.seedOffers(t, 1)

	rr := env.do(t, "GET", "/campaigns/offers/1", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var empty models.SuccessResponse
	decode(t, rr, &empty)
	if empty.Message != service.NoRecentCampChainMessage || empty.Data != nil {
		t.Errorf("Expected the no-recent-chain message, got %+v", empty)
	}

	id := env.createChain(t, `{"title":"Recent","brandId":1,"offers":{"1":[]},"firstOffer":1}`)
	if _, err := env.db.InsertClientOffer(context.Background(), models.ClientOffer{
		ClientID: 1, OfferID: 1, ChainID: &id, CreatedAt: testNow.Add(-24 * time.Hour),
	}); err != nil {
		t.Fatalf("Failed to insert client offer: %v", err)
	}

	rr = env.do(t, "GET", "/campaigns/offers/1", nil, "")
	var resp struct {
		Data models.CampChain `json:"data"`
	}
	decode(t, rr, &resp)
	if resp.Data.Chain == nil || resp.Data.Chain.ID != id {
		t.Errorf("Expected chain %d, got %+v", id, resp.Data)
	}
}

func TestGetPayeeName(t *testing.T) {
	env := setupTestHandler(t, false)
	env.seedOffers(t, 1, 2)

	rr := env.do(t, "POST", "/payee-names", `{"name":"ACME"}`, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var payee struct {
		Data models.PayeeName `json:"data"`
	}
	decode(t, rr, &payee)

	rr = env.do(t, "POST", "/campaigns", map[string]any{
		"code": "PAY",
		"offers": []map[string]any{
			{"offerId": 1, "payeeNameId": payee.Data.ID},
			{"offerId": 2},
		},
	}, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var campaign struct {
		Data models.Campaign `json:"data"`
	}
	decode(t, rr, &campaign)

	rr = env.do(t, "GET", fmt.Sprintf("/campaigns/%d/offers/1/payeename", campaign.Data.ID), nil, "")
	var withPayee struct {
		Data *models.PayeeName `json:"data"`
	}
	decode(t, rr, &withPayee)
	if withPayee.Data == nil || withPayee.Data.Name != "ACME" {
		t.Errorf("Expected ACME, got %+v", withPayee.Data)
	}

	rr = env.do(t, "GET", fmt.Sprintf("/campaigns/%d/offers/2/payeename", campaign.Data.ID), nil, "")
	if body := rr.Body.String(); !bytes.Contains([]byte(body), []byte(`"data":null`)) {
		t.Errorf("Expected data null, got %s", body)
	}

	rr = env.do(t, "GET", "/campaigns/x/offers/1/payeename", nil, "")
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "MISSING_CAMPAIGN_ID" {
		t.Errorf("Expected MISSING_CAMPAIGN_ID, got %d", rr.Code)
	}

	rr = env.do(t, "GET", fmt.Sprintf("/campaigns/%d/offers/9/payeename", campaign.Data.ID), nil, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rr.Code)
	}
}

func TestAdvanceClientOffer(t *testing.T) {
	env := setupTestHandler(t, false)
	env.seedOffers(t, 1, 2)
	chainID := env.createChain(t, `{"title":"Advance","brandId":1,"offers":{"1":[{"offerId":2,"daysToAdd":2}]},"firstOffer":1}`)

	rr := env.do(t, "POST", "/client-offers",
		fmt.Sprintf(`{"clientId":4,"offerId":1,"chainId":%d,"availableAt":"2024-03-01"}`, chainID), "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Data models.ClientOffer `json:"data"`
	}
	decode(t, rr, &created)

	rr = env.do(t, "POST", fmt.Sprintf("/client-offers/%d/advance", created.Data.ID), nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Data models.AdvanceResult `json:"data"`
	}
	decode(t, rr, &resp)
	if resp.Data.ClientOffer == nil || resp.Data.ClientOffer.OfferID != 2 {
		t.Errorf("Expected follow-up for offer 2, got %+v", resp.Data)
	}

	rr = env.do(t, "POST", fmt.Sprintf("/client-offers/%d/advance", created.Data.ID), nil, "")
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "ALREADY_ACTIVATED" {
		t.Errorf("Expected 409 ALREADY_ACTIVATED, got %d", rr.Code)
	}
}

func TestAuthentication(t *testing.T) {
	env := setupTestHandler(t, true)
	verifier := auth.NewVerifier(testSecret, "")

	viewer, err := verifier.Issue(auth.Principal{
		UserID:       "u-1",
		Role:         1,
		Capabilities: auth.Capabilities{auth.SectionChains: {auth.ActionView: true}},
	}, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	expired, err := verifier.Issue(auth.Principal{UserID: "u-2", Role: auth.RoleSuperadmin}, -time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	admin, err := verifier.Issue(auth.Principal{UserID: "root", Role: auth.RoleSuperadmin}, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
		code   string
	}{
		{"no token", "GET", "/chains", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"garbage token", "GET", "/chains", "not-a-jwt", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"expired token", "GET", "/chains", expired, http.StatusUnauthorized, "EXPIRED_TOKEN"},
		{"viewer cannot create", "POST", "/chains", viewer, http.StatusForbidden, "FORBIDDEN"},
		{"viewer has no campaign section", "GET", "/campaigns/offers/1", viewer, http.StatusForbidden, "FORBIDDEN"},
		{"viewer can list", "GET", "/chains", viewer, http.StatusOK, ""},
		{"superadmin bypasses capabilities", "GET", "/campaigns/offers/1", admin, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, tt.path, `{}`, tt.token)
			if rr.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if tt.code != "" {
				if code := errorCode(t, rr); code != tt.code {
					t.Errorf("Expected code %s, got %s", tt.code, code)
				}
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	db, err := database.NewDB(database.DriverSQLite, filepath.Join(t.TempDir(), "rl.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer db.Close()

	limiter := middleware.NewRateLimiter(1, time.Hour)
	defer limiter.Stop()

	r := NewRouter(NewHandler(service.NewService(db)), RouterOptions{RateLimiter: limiter})

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest("GET", "/chains", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest("GET", "/chains", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", second.Code)
	}
	if got := second.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Errorf("Expected X-RateLimit-Limit 1, got %q", got)
	}
	if code := errorCode(t, second); code != "RATE_LIMITED" {
		t.Errorf("Expected RATE_LIMITED, got %s", code)
	}
}
