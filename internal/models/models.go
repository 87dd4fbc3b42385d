package models

import (
	"time"

	"offer-chain-api/internal/chaingraph"
)

// OfferSummary is the slice of an offer that chain responses embed.
type OfferSummary struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Offer is a mailable promotional unit. It is owned by the catalog and only
// referenced by id from chains.
type Offer struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	BrandID     *int64    `json:"brandId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summary returns the embedded form of the offer.
func (o Offer) Summary() OfferSummary {
	return OfferSummary{ID: o.ID, Title: o.Title, Description: o.Description}
}

// Chain is the header row of an offer chain.
type Chain struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	BrandID      int64     `json:"brandId"`
	FirstOfferID int64     `json:"firstOffer"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ResolvedEdge is an edge whose target has been joined with offer details.
type ResolvedEdge struct {
	OfferID   int64         `json:"offerId"`
	DaysToAdd int           `json:"daysToAdd"`
	Offer     *OfferSummary `json:"offer,omitempty"`
}

// ChainNode is one source offer of a chain graph. Level is the BFS depth from
// the first offer (1-based) and nil when the node is unreachable from it.
type ChainNode struct {
	OfferID     int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Level       *int   `json:"level"`
}

// ChainWithEdges is a chain with its adjacency list resolved to offer details.
type ChainWithEdges struct {
	Chain
	Offers     map[int64][]ResolvedEdge `json:"offers"`
	ChainNodes []ChainNode              `json:"chainNodes"`
}

// Graph rebuilds the plain adjacency list, dropping the offer details.
func (c *ChainWithEdges) Graph() *chaingraph.Graph {
	g := chaingraph.New()
	for _, node := range c.ChainNodes {
		g.AddNode(node.OfferID)
	}
	for src, edges := range c.Offers {
		g.AddNode(src)
		for _, e := range edges {
			g.AddEdge(src, chaingraph.Edge{OfferID: e.OfferID, DaysToAdd: e.DaysToAdd})
		}
	}
	return g
}

// ChainPatch is a partial chain update. Nil fields are left untouched; a
// non-nil Graph replaces the whole edge set.
type ChainPatch struct {
	Title        *string
	BrandID      *int64
	FirstOfferID *int64
	Graph        *chaingraph.Graph
}

// IsEmpty reports whether the patch changes nothing.
func (p ChainPatch) IsEmpty() bool {
	return p.Title == nil && p.BrandID == nil && p.FirstOfferID == nil && p.Graph == nil
}

// ChainFilter narrows chain listings to header fields.
type ChainFilter struct {
	Offset  int
	Limit   int
	Filters string // raw JSON filter expression from the query string
}

// Campaign is a scheduled mailing. Only the fields the resolver reads are modelled.
type Campaign struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"`
	Country     string     `json:"country"`
	MailDate    *time.Time `json:"mailDate"`
	ChainID     *int64     `json:"chainId"`
	BrandID     *int64     `json:"brandId"`
	IsExtracted bool       `json:"isExtracted"`
	CreatedAt   time.Time  `json:"createdAt"`

	Offers []CampaignOffer `json:"offers,omitempty"`
}

// CampaignOffer is the per-offer configuration row of a campaign.
type CampaignOffer struct {
	ID            int64   `json:"id"`
	CampaignID    int64   `json:"campaignId"`
	OfferID       int64   `json:"offerId"`
	ReturnAddress string  `json:"returnAddress"`
	PayeeNameID   *int64  `json:"payeeNameId"`
	Printer       string  `json:"printer"`
	Currency      string  `json:"currency"`
	PurchasePrice float64 `json:"purchasePrice"`
}

// PayeeName is the name printed as payee on a mailing.
type PayeeName struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ClientOffer enrols one client against one offer within a campaign and/or chain.
type ClientOffer struct {
	ID              int64      `json:"id"`
	ClientID        int64      `json:"clientId"`
	OfferID         int64      `json:"offerId"`
	ChainID         *int64     `json:"chainId"`
	CampaignID      *int64     `json:"campaignId"`
	OriginalOfferID *int64     `json:"originalOfferId"`
	AvailableAt     *time.Time `json:"availableAt"`
	IsActivated     bool       `json:"isActivated"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// NextOffer is the outcome of resolving the follow-up of an offer. Found is
// false when the current offer has no continuation.
type NextOffer struct {
	Found         bool          `json:"found"`
	SourceOfferID int64         `json:"sourceOfferId"`
	Offer         *OfferSummary `json:"offer,omitempty"`
	DaysToAdd     int           `json:"daysToAdd,omitempty"`
	AvailableAt   *time.Time    `json:"availableAt,omitempty"`
}

// CampChain is the campaign and chain pairing that last mailed an offer.
type CampChain struct {
	Campaign *Campaign `json:"campaign"`
	Chain    *Chain    `json:"chain"`
}

// AdvanceResult is returned when a client offer is moved along its chain.
type AdvanceResult struct {
	Next        NextOffer    `json:"next"`
	ClientOffer *ClientOffer `json:"clientOffer,omitempty"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Total int `json:"total"`
	Pages int `json:"pages"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// SuccessResponse is the envelope of every successful call.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// DataResponse always carries data, even when it is null.
type DataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// ListResponse is the envelope of paginated listings.
type ListResponse struct {
	Success    bool       `json:"success"`
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// ErrorResponse represents an error response. Details is only filled in
// development mode.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}
