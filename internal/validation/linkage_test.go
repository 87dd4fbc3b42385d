package validation

import (
	"testing"
	"time"

	"offer-chain-api/internal/apierror"
	"offer-chain-api/internal/models"
)

func TestValidateCampaign(t *testing.T) {
	chainID := int64(4)
	c, err := ValidateCampaign(CampaignPayload{
		Code:     " SPR24 ",
		MailDate: "2024-01-01",
		ChainID:  &chainID,
		Offers:   []CampaignOfferPayload{{OfferID: 1, Printer: " acme "}, {OfferID: 2}},
	})
	if err != nil {
		t.Fatalf("Expected campaign to be valid, got %v", err)
	}
	if c.Code != "SPR24" {
		t.Errorf("Expected trimmed code, got %q", c.Code)
	}
	if c.MailDate == nil || !c.MailDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected mail date %v", c.MailDate)
	}
	if len(c.Offers) != 2 || c.Offers[0].Printer != "acme" {
		t.Errorf("Unexpected offers %+v", c.Offers)
	}
}

func TestValidateCampaign_Errors(t *testing.T) {
	zero := int64(0)
	tests := []struct {
		name    string
		payload CampaignPayload
		code    string
	}{
		{"missing code", CampaignPayload{}, apierror.CodeMissingRequiredField},
		{"bad chain", CampaignPayload{Code: "C", ChainID: &zero}, apierror.CodeInvalidID},
		{"bad mail date", CampaignPayload{Code: "C", MailDate: "next week"}, apierror.CodeInvalidDate},
		{"offer without id", CampaignPayload{Code: "C", Offers: []CampaignOfferPayload{{}}}, apierror.CodeMissingOfferID},
		{"duplicate offer", CampaignPayload{Code: "C", Offers: []CampaignOfferPayload{{OfferID: 1}, {OfferID: 1}}}, apierror.CodeInvalidOffers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateCampaign(tt.payload)
			if !apierror.HasCode(err, tt.code) {
				t.Errorf("Expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestValidateClientOffer(t *testing.T) {
	campaignID := int64(3)

	co, err := ValidateClientOffer(ClientOfferPayload{ClientID: 1, OfferID: 2, CampaignID: &campaignID, AvailableAt: "2024-05-01"})
	if err != nil {
		t.Fatalf("Expected client offer to be valid, got %v", err)
	}
	if co.AvailableAt == nil || co.AvailableAt.Format(DateLayout) != "2024-05-01" {
		t.Errorf("Unexpected availableAt %v", co.AvailableAt)
	}

	tests := []struct {
		name    string
		payload ClientOfferPayload
		code    string
	}{
		{"missing client", ClientOfferPayload{OfferID: 2, CampaignID: &campaignID}, apierror.CodeMissingRequiredField},
		{"missing offer", ClientOfferPayload{ClientID: 1, CampaignID: &campaignID}, apierror.CodeMissingOfferID},
		{"no campaign or chain", ClientOfferPayload{ClientID: 1, OfferID: 2}, apierror.CodeMissingRequiredField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateClientOffer(tt.payload); !apierror.HasCode(err, tt.code) {
				t.Errorf("Expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestValidateOfferAndPayee(t *testing.T) {
	if _, err := ValidateOffer(models.Offer{Title: "  "}); !apierror.HasCode(err, apierror.CodeMissingRequiredField) {
		t.Errorf("Expected blank title to be rejected, got %v", err)
	}
	if _, err := ValidateOffer(models.Offer{ID: -1, Title: "x"}); !apierror.HasCode(err, apierror.CodeInvalidID) {
		t.Errorf("Expected negative id to be rejected, got %v", err)
	}
	if name, err := ValidatePayeeName(" ACME "); err != nil || name != "ACME" {
		t.Errorf("Expected ACME, got %q, %v", name, err)
	}
	if _, err := ValidatePayeeName(""); err == nil {
		t.Error("Expected empty payee name to be rejected")
	}
}
