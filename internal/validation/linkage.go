package validation

import (
	"offer-chain-api/internal/apierror"
	"offer-chain-api/internal/models"
)

// CampaignOfferPayload is one per-offer row of a campaign request.
type CampaignOfferPayload struct {
	OfferID       int64   `json:"offerId"`
	ReturnAddress string  `json:"returnAddress"`
	PayeeNameID   *int64  `json:"payeeNameId"`
	Printer       string  `json:"printer"`
	Currency      string  `json:"currency"`
	PurchasePrice float64 `json:"purchasePrice"`
}

// CampaignPayload is the body of POST /campaigns.
type CampaignPayload struct {
	Code        string                 `json:"code"`
	Country     string                 `json:"country"`
	MailDate    string                 `json:"mailDate"`
	ChainID     *int64                 `json:"chainId"`
	BrandID     *int64                 `json:"brandId"`
	IsExtracted bool                   `json:"isExtracted"`
	Offers      []CampaignOfferPayload `json:"offers"`
}

// ValidateCampaign checks a campaign request and converts it to the model.
func ValidateCampaign(p CampaignPayload) (models.Campaign, error) {
	c := models.Campaign{
		Code:        SanitizeString(p.Code),
		Country:     SanitizeString(p.Country),
		ChainID:     p.ChainID,
		BrandID:     p.BrandID,
		IsExtracted: p.IsExtracted,
	}
	if c.Code == "" {
		return c, apierror.Validation(apierror.CodeMissingRequiredField, "Campaign code is required")
	}
	if c.ChainID != nil && *c.ChainID <= 0 {
		return c, apierror.Validation(apierror.CodeInvalidID, "Invalid chain ID")
	}

	if p.MailDate != "" {
		d, err := ParseDate(p.MailDate)
		if err != nil {
			return c, err
		}
		c.MailDate = &d
	}

	seen := make(map[int64]bool, len(p.Offers))
	for _, o := range p.Offers {
		if o.OfferID <= 0 {
			return c, apierror.Validation(apierror.CodeMissingOfferID, "Offer ID is required")
		}
		if seen[o.OfferID] {
			return c, apierror.Validation(apierror.CodeInvalidOffers, "Each offer may appear only once in a campaign")
		}
		seen[o.OfferID] = true

		c.Offers = append(c.Offers, models.CampaignOffer{
			OfferID:       o.OfferID,
			ReturnAddress: SanitizeString(o.ReturnAddress),
			PayeeNameID:   o.PayeeNameID,
			Printer:       SanitizeString(o.Printer),
			Currency:      SanitizeString(o.Currency),
			PurchasePrice: o.PurchasePrice,
		})
	}

	return c, nil
}

// ClientOfferPayload is the body of POST /client-offers.
type ClientOfferPayload struct {
	ClientID    int64  `json:"clientId"`
	OfferID     int64  `json:"offerId"`
	ChainID     *int64 `json:"chainId"`
	CampaignID  *int64 `json:"campaignId"`
	AvailableAt string `json:"availableAt"`
}

// ValidateClientOffer checks an enrolment request.
func ValidateClientOffer(p ClientOfferPayload) (models.ClientOffer, error) {
	co := models.ClientOffer{
		ClientID:   p.ClientID,
		OfferID:    p.OfferID,
		ChainID:    p.ChainID,
		CampaignID: p.CampaignID,
	}
	if co.ClientID <= 0 {
		return co, apierror.Validation(apierror.CodeMissingRequiredField, "Client is required")
	}
	if co.OfferID <= 0 {
		return co, apierror.Validation(apierror.CodeMissingOfferID, "Offer ID is required")
	}
	if co.ChainID == nil && co.CampaignID == nil {
		return co, apierror.Validation(apierror.CodeMissingRequiredField, "A campaign or a chain is required")
	}
	if p.AvailableAt != "" {
		d, err := ParseDate(p.AvailableAt)
		if err != nil {
			return co, err
		}
		co.AvailableAt = &d
	}
	return co, nil
}

// ValidatePayeeName checks a payee name before it is stored.
func ValidatePayeeName(name string) (string, error) {
	name = SanitizeString(name)
	if name == "" {
		return "", apierror.Validation(apierror.CodeMissingRequiredField, "Payee name is required")
	}
	return name, nil
}

// ValidateOffer checks an offer mirrored from the catalog.
func ValidateOffer(o models.Offer) (models.Offer, error) {
	o.Title = SanitizeString(o.Title)
	o.Description = SanitizeString(o.Description)
	if o.ID < 0 {
		return o, apierror.Validation(apierror.CodeInvalidID, "Invalid offer ID")
	}
	if o.Title == "" {
		return o, apierror.Validation(apierror.CodeMissingRequiredField, "Offer title is required")
	}
	return o, nil
}
