package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"offer-chain-api/internal/models"
)

// CreateCampaign stores a campaign and its per-offer configuration rows in a
// single transaction.
func (db *DB) CreateCampaign(ctx context.Context, c models.Campaign) (*models.Campaign, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	err := db.WithTx(ctx, func(tx *Tx) error {
		var mailDate sql.NullString
		if c.MailDate != nil {
			mailDate = sql.NullString{String: c.MailDate.Format(dateLayout), Valid: true}
		}

		id, err := tx.insert(ctx,
			`INSERT INTO campaigns (code, country, mail_date, chain_id, brand_id, is_extracted, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.Code, c.Country, mailDate, nullInt(c.ChainID), nullInt(c.BrandID), c.IsExtracted, formatTime(c.CreatedAt),
		)
		if err != nil {
			return mapConstraint("create campaign", err)
		}
		c.ID = id

		for i := range c.Offers {
			co := &c.Offers[i]
			co.CampaignID = id
			co.ID, err = tx.insert(ctx,
				`INSERT INTO campaign_offers (campaign_id, offer_id, return_address, payee_name_id, printer, currency, purchase_price) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, co.OfferID, co.ReturnAddress, nullInt(co.PayeeNameID), co.Printer, co.Currency, co.PurchasePrice,
			)
			if err != nil {
				return mapConstraint(fmt.Sprintf("create campaign offer %d", co.OfferID), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCampaign returns a campaign header without its offer rows.
func (q *Queries) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	var (
		c                models.Campaign
		mailDate         sql.NullString
		chainID, brandID sql.NullInt64
		createdAt        string
	)
	err := q.queryRow(ctx,
		`SELECT id, code, country, mail_date, chain_id, brand_id, is_extracted, created_at FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.Code, &c.Country, &mailDate, &chainID, &brandID, &c.IsExtracted, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: get campaign %d: %w", id, err)
	}

	if mailDate.Valid && mailDate.String != "" {
		d, err := time.Parse(dateLayout, mailDate.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse mail_date: %w", err)
		}
		c.MailDate = &d
	}
	c.ChainID = intPtr(chainID)
	c.BrandID = intPtr(brandID)
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &c, nil
}

// GetPayeeNameForOffer returns the payee configured for offerID in the
// campaign. It returns ErrCampaignOfferNotFound when the campaign has no row
// for the offer and a nil payee when the row has none.
func (q *Queries) GetPayeeNameForOffer(ctx context.Context, campaignID, offerID int64) (*models.PayeeName, error) {
	var (
		payeeID sql.NullInt64
		name    sql.NullString
	)
	err := q.queryRow(ctx,
		`SELECT p.id, p.name
		FROM campaign_offers co
		LEFT JOIN payee_names p ON p.id = co.payee_name_id
		WHERE co.campaign_id = ? AND co.offer_id = ?`, campaignID, offerID,
	).Scan(&payeeID, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCampaignOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: get payee name: %w", err)
	}

	if !payeeID.Valid {
		return nil, nil
	}
	return &models.PayeeName{ID: payeeID.Int64, Name: name.String}, nil
}

// CreatePayeeName stores a payee name.
func (q *Queries) CreatePayeeName(ctx context.Context, name string, brandID *int64) (models.PayeeName, error) {
	id, err := q.insert(ctx, `INSERT INTO payee_names (name, brand_id) VALUES (?, ?)`, name, nullInt(brandID))
	if err != nil {
		return models.PayeeName{}, fmt.Errorf("database: create payee name: %w", err)
	}
	return models.PayeeName{ID: id, Name: name}, nil
}

const clientOfferColumns = `id, client_id, offer_id, chain_id, campaign_id, original_offer_id, available_at, is_activated, created_at`

// InsertClientOffer enrols a client against an offer.
func (q *Queries) InsertClientOffer(ctx context.Context, co models.ClientOffer) (models.ClientOffer, error) {
	if co.CreatedAt.IsZero() {
		co.CreatedAt = time.Now().UTC()
	}

	id, err := q.insert(ctx,
		`INSERT INTO client_offers (client_id, offer_id, chain_id, campaign_id, original_offer_id, available_at, is_activated, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		co.ClientID, co.OfferID, nullInt(co.ChainID), nullInt(co.CampaignID), nullInt(co.OriginalOfferID),
		nullTime(co.AvailableAt), co.IsActivated, formatTime(co.CreatedAt),
	)
	if err != nil {
		return models.ClientOffer{}, mapConstraint("insert client offer", err)
	}
	co.ID = id
	return co, nil
}

// GetClientOffer returns a client offer by id.
func (q *Queries) GetClientOffer(ctx context.Context, id int64) (*models.ClientOffer, error) {
	row := q.queryRow(ctx, `SELECT `+clientOfferColumns+` FROM client_offers WHERE id = ?`, id)
	co, err := scanClientOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClientOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: get client offer %d: %w", id, err)
	}
	return co, nil
}

// MarkClientOfferActivated flags a client offer as moved on. It reports false
// when the offer was already activated.
func (q *Queries) MarkClientOfferActivated(ctx context.Context, id int64) (bool, error) {
	res, err := q.exec(ctx, `UPDATE client_offers SET is_activated = ? WHERE id = ? AND is_activated = ?`, true, id, false)
	if err != nil {
		return false, fmt.Errorf("database: activate client offer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("database: activate client offer: %w", err)
	}
	return n > 0, nil
}

// LatestClientOfferSince returns the newest client offer for offerID created
// at or after since, or nil when there is none.
func (q *Queries) LatestClientOfferSince(ctx context.Context, offerID int64, since time.Time) (*models.ClientOffer, error) {
	row := q.queryRow(ctx,
		`SELECT `+clientOfferColumns+` FROM client_offers
		WHERE offer_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, offerID, formatTime(since))
	co, err := scanClientOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database: latest client offer: %w", err)
	}
	return co, nil
}

func scanClientOffer(row rowScanner) (*models.ClientOffer, error) {
	var (
		co                              models.ClientOffer
		chainID, campaignID, originalID sql.NullInt64
		availableAt                     sql.NullString
		createdAt                       string
	)
	if err := row.Scan(&co.ID, &co.ClientID, &co.OfferID, &chainID, &campaignID, &originalID,
		&availableAt, &co.IsActivated, &createdAt); err != nil {
		return nil, err
	}

	co.ChainID = intPtr(chainID)
	co.CampaignID = intPtr(campaignID)
	co.OriginalOfferID = intPtr(originalID)

	var err error
	if co.AvailableAt, err = parseNullTime(availableAt); err != nil {
		return nil, fmt.Errorf("failed to parse available_at: %w", err)
	}
	if co.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &co, nil
}
