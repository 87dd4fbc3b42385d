package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrChainNotFound         = errors.New("database: chain not found")
	ErrOfferNotFound         = errors.New("database: offer not found")
	ErrCampaignNotFound      = errors.New("database: campaign not found")
	ErrCampaignOfferNotFound = errors.New("database: campaign offer not found")
	ErrClientOfferNotFound   = errors.New("database: client offer not found")
	ErrForeignKey            = errors.New("database: referenced row does not exist")
	ErrUnique                = errors.New("database: duplicate row")
	ErrFirstOfferNotInGraph  = errors.New("database: first offer is not part of the chain graph")
	ErrInvalidFilter         = errors.New("database: invalid filter")
)

// mapConstraint converts driver constraint violations into ErrForeignKey or
// ErrUnique, keeping the original error in the chain.
func mapConstraint(op string, err error) error {
	switch {
	case isForeignKeyViolation(err):
		return fmt.Errorf("database: %s: %w: %w", op, ErrForeignKey, err)
	case isUniqueViolation(err):
		return fmt.Errorf("database: %s: %w: %w", op, ErrUnique, err)
	default:
		return fmt.Errorf("database: %s: %w", op, err)
	}
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
