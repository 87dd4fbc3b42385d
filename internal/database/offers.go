package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"offer-chain-api/internal/models"
)

// UpsertOffer creates or updates an offer mirrored from the catalog. An offer
// without an id gets a generated one.
func (q *Queries) UpsertOffer(ctx context.Context, offer models.Offer) (models.Offer, error) {
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now().UTC()
	}

	if offer.ID == 0 {
		id, err := q.insert(ctx,
			`INSERT INTO offers (title, description, brand_id, created_at) VALUES (?, ?, ?, ?)`,
			offer.Title, offer.Description, nullInt(offer.BrandID), formatTime(offer.CreatedAt),
		)
		if err != nil {
			return models.Offer{}, fmt.Errorf("failed to insert offer: %w", err)
		}
		offer.ID = id
		return offer, nil
	}

	query := `INSERT INTO offers (id, title, description, brand_id, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		brand_id = excluded.brand_id`

	_, err := q.exec(ctx, query,
		offer.ID,
		offer.Title,
		offer.Description,
		nullInt(offer.BrandID),
		formatTime(offer.CreatedAt),
	)
	if err != nil {
		return models.Offer{}, fmt.Errorf("failed to upsert offer: %w", err)
	}

	return offer, nil
}

// GetOffer returns a single offer.
func (q *Queries) GetOffer(ctx context.Context, id int64) (*models.Offer, error) {
	var (
		o         models.Offer
		brandID   sql.NullInt64
		createdAt string
	)
	err := q.queryRow(ctx,
		`SELECT id, title, description, brand_id, created_at FROM offers WHERE id = ?`, id,
	).Scan(&o.ID, &o.Title, &o.Description, &brandID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: get offer %d: %w", id, err)
	}

	o.BrandID = intPtr(brandID)
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &o, nil
}
