package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"offer-chain-api/internal/chaingraph"
	"offer-chain-api/internal/models"
)

const chainColumns = `id, title, brand_id, first_offer_id, created_at, updated_at`

// CreateChain stores a chain header, one node row per graph key and the
// ordered edge list in a single transaction.
func (db *DB) CreateChain(ctx context.Context, title string, brandID, firstOfferID int64, graph *chaingraph.Graph) (int64, error) {
	var chainID int64
	err := db.WithTx(ctx, func(tx *Tx) error {
		now := formatTime(time.Now())
		id, err := tx.insert(ctx,
			`INSERT INTO chains (title, brand_id, first_offer_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			title, brandID, firstOfferID, now, now,
		)
		if err != nil {
			return mapConstraint("create chain", err)
		}
		chainID = id

		return tx.writeGraph(ctx, chainID, firstOfferID, graph)
	})
	if err != nil {
		return 0, err
	}
	return chainID, nil
}

// writeGraph inserts the node and edge rows of graph. Existing rows must have
// been removed by the caller.
func (q *Queries) writeGraph(ctx context.Context, chainID, firstOfferID int64, graph *chaingraph.Graph) error {
	levels := graph.Levels(firstOfferID)

	for pos, src := range graph.Sources() {
		level := sql.NullInt64{}
		if l, ok := levels[src]; ok {
			level = sql.NullInt64{Int64: int64(l), Valid: true}
		}
		if _, err := q.exec(ctx,
			`INSERT INTO chain_offers (chain_id, offer_id, position, level) VALUES (?, ?, ?, ?)`,
			chainID, src, pos, level,
		); err != nil {
			return mapConstraint(fmt.Sprintf("insert chain offer %d", src), err)
		}

		for i, e := range graph.Edges(src) {
			if _, err := q.exec(ctx,
				`INSERT INTO offer_sequences (chain_id, current_offer_id, next_offer_id, days_to_add, position) VALUES (?, ?, ?, ?, ?)`,
				chainID, src, e.OfferID, e.DaysToAdd, i,
			); err != nil {
				return mapConstraint(fmt.Sprintf("insert offer sequence %d->%d", src, e.OfferID), err)
			}
		}
	}

	return nil
}

func (q *Queries) deleteGraph(ctx context.Context, chainID int64) error {
	if _, err := q.exec(ctx, `DELETE FROM offer_sequences WHERE chain_id = ?`, chainID); err != nil {
		return fmt.Errorf("database: delete offer sequences: %w", err)
	}
	if _, err := q.exec(ctx, `DELETE FROM chain_offers WHERE chain_id = ?`, chainID); err != nil {
		return fmt.Errorf("database: delete chain offers: %w", err)
	}
	return nil
}

// GetChainHeader returns the chain row without its graph.
func (q *Queries) GetChainHeader(ctx context.Context, id int64) (*models.Chain, error) {
	row := q.queryRow(ctx, `SELECT `+chainColumns+` FROM chains WHERE id = ?`, id)
	chain, err := scanChain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChainNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: get chain %d: %w", id, err)
	}
	return chain, nil
}

// GetChain returns the chain with its edges resolved to offer summaries.
func (q *Queries) GetChain(ctx context.Context, id int64) (*models.ChainWithEdges, error) {
	header, err := q.GetChainHeader(ctx, id)
	if err != nil {
		return nil, err
	}

	nodes, err := q.chainNodes(ctx, id, "co.position")
	if err != nil {
		return nil, err
	}

	chain := &models.ChainWithEdges{
		Chain:      *header,
		Offers:     make(map[int64][]models.ResolvedEdge, len(nodes)),
		ChainNodes: nodes,
	}
	for _, n := range nodes {
		chain.Offers[n.OfferID] = []models.ResolvedEdge{}
	}

	rows, err := q.query(ctx,
		`SELECT s.current_offer_id, s.next_offer_id, s.days_to_add, o.title, o.description
		FROM offer_sequences s
		JOIN offers o ON o.id = s.next_offer_id
		WHERE s.chain_id = ?
		ORDER BY s.current_offer_id, s.position`, id)
	if err != nil {
		return nil, fmt.Errorf("database: query chain edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			src  int64
			edge models.ResolvedEdge
			sum  models.OfferSummary
		)
		if err := rows.Scan(&src, &edge.OfferID, &edge.DaysToAdd, &sum.Title, &sum.Description); err != nil {
			return nil, fmt.Errorf("database: scan chain edge: %w", err)
		}
		sum.ID = edge.OfferID
		edge.Offer = &sum
		chain.Offers[src] = append(chain.Offers[src], edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: iterate chain edges: %w", err)
	}

	return chain, nil
}

// GetChainOffers returns the key offers of a chain, shallowest level first.
func (q *Queries) GetChainOffers(ctx context.Context, id int64) ([]models.ChainNode, error) {
	if _, err := q.GetChainHeader(ctx, id); err != nil {
		return nil, err
	}
	return q.chainNodes(ctx, id, "CASE WHEN co.level IS NULL THEN 1 ELSE 0 END, co.level, co.position")
}

func (q *Queries) chainNodes(ctx context.Context, chainID int64, orderBy string) ([]models.ChainNode, error) {
	rows, err := q.query(ctx,
		`SELECT co.offer_id, co.level, o.title, o.description
		FROM chain_offers co
		JOIN offers o ON o.id = co.offer_id
		WHERE co.chain_id = ?
		ORDER BY `+orderBy, chainID)
	if err != nil {
		return nil, fmt.Errorf("database: query chain offers: %w", err)
	}
	defer rows.Close()

	nodes := []models.ChainNode{}
	for rows.Next() {
		var (
			n     models.ChainNode
			level sql.NullInt64
		)
		if err := rows.Scan(&n.OfferID, &level, &n.Title, &n.Description); err != nil {
			return nil, fmt.Errorf("database: scan chain offer: %w", err)
		}
		if level.Valid {
			l := int(level.Int64)
			n.Level = &l
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: iterate chain offers: %w", err)
	}
	return nodes, nil
}

// loadGraph reads the plain adjacency list of a chain.
func (q *Queries) loadGraph(ctx context.Context, chainID int64) (*chaingraph.Graph, error) {
	graph := chaingraph.New()

	rows, err := q.query(ctx, `SELECT offer_id FROM chain_offers WHERE chain_id = ? ORDER BY position`, chainID)
	if err != nil {
		return nil, fmt.Errorf("database: query chain offers: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("database: scan chain offer: %w", err)
		}
		graph.AddNode(id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: iterate chain offers: %w", err)
	}

	rows, err = q.query(ctx,
		`SELECT current_offer_id, next_offer_id, days_to_add FROM offer_sequences WHERE chain_id = ? ORDER BY current_offer_id, position`,
		chainID)
	if err != nil {
		return nil, fmt.Errorf("database: query offer sequences: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			src int64
			e   chaingraph.Edge
		)
		if err := rows.Scan(&src, &e.OfferID, &e.DaysToAdd); err != nil {
			return nil, fmt.Errorf("database: scan offer sequence: %w", err)
		}
		graph.AddEdge(src, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: iterate offer sequences: %w", err)
	}

	return graph, nil
}

// ListChains returns one page of chain headers, newest first, and the total
// number of chains matching the filters.
func (q *Queries) ListChains(ctx context.Context, filter models.ChainFilter) ([]models.Chain, int, error) {
	where, args, err := q.buildFilters(filter.Filters, chainFilterColumns)
	if err != nil {
		return nil, 0, err
	}
	if where != "" {
		where = " WHERE " + where
	}

	var total int
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM chains`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("database: count chains: %w", err)
	}

	pageArgs := append(append([]any{}, args...), filter.Limit, filter.Offset)
	rows, err := q.query(ctx,
		`SELECT `+chainColumns+` FROM chains`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("database: list chains: %w", err)
	}
	defer rows.Close()

	chains := []models.Chain{}
	for rows.Next() {
		chain, err := scanChain(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("database: scan chain: %w", err)
		}
		chains = append(chains, *chain)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("database: iterate chains: %w", err)
	}

	return chains, total, nil
}

// UpdateChain applies a partial update. A non-nil patch.Graph replaces every
// node and edge of the chain.
func (db *DB) UpdateChain(ctx context.Context, id int64, patch models.ChainPatch) (*models.Chain, error) {
	var updated *models.Chain
	err := db.WithTx(ctx, func(tx *Tx) error {
		current, err := tx.GetChainHeader(ctx, id)
		if err != nil {
			return err
		}

		firstOfferID := current.FirstOfferID
		if patch.FirstOfferID != nil {
			firstOfferID = *patch.FirstOfferID
		}

		graph := patch.Graph
		if graph == nil && firstOfferID != current.FirstOfferID {
			// Levels are relative to the first offer, so the stored graph is rewritten.
			if graph, err = tx.loadGraph(ctx, id); err != nil {
				return err
			}
		}
		if graph != nil && !graph.HasNode(firstOfferID) {
			return ErrFirstOfferNotInGraph
		}

		sets := []string{"updated_at = ?"}
		args := []any{formatTime(time.Now())}
		if patch.Title != nil {
			sets = append(sets, "title = ?")
			args = append(args, *patch.Title)
		}
		if patch.BrandID != nil {
			sets = append(sets, "brand_id = ?")
			args = append(args, *patch.BrandID)
		}
		if patch.FirstOfferID != nil {
			sets = append(sets, "first_offer_id = ?")
			args = append(args, *patch.FirstOfferID)
		}
		args = append(args, id)

		if _, err := tx.exec(ctx, `UPDATE chains SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
			return mapConstraint("update chain", err)
		}

		if graph != nil {
			if err := tx.deleteGraph(ctx, id); err != nil {
				return err
			}
			if err := tx.writeGraph(ctx, id, firstOfferID, graph); err != nil {
				return err
			}
		}

		updated, err = tx.GetChainHeader(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteChain removes a chain and its graph. It returns ErrChainNotFound when
// no chain has the id.
func (db *DB) DeleteChain(ctx context.Context, id int64) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.deleteGraph(ctx, id); err != nil {
			return err
		}

		res, err := tx.exec(ctx, `DELETE FROM chains WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("database: delete chain: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("database: delete chain: %w", err)
		}
		if n == 0 {
			return ErrChainNotFound
		}
		return nil
	})
}

// NextEdge returns the first edge leaving offerID in the chain.
func (q *Queries) NextEdge(ctx context.Context, chainID, offerID int64) (chaingraph.Edge, bool, error) {
	var e chaingraph.Edge
	err := q.queryRow(ctx,
		`SELECT next_offer_id, days_to_add FROM offer_sequences
		WHERE chain_id = ? AND current_offer_id = ?
		ORDER BY position
		LIMIT 1`, chainID, offerID).Scan(&e.OfferID, &e.DaysToAdd)
	if errors.Is(err, sql.ErrNoRows) {
		return chaingraph.Edge{}, false, nil
	}
	if err != nil {
		return chaingraph.Edge{}, false, fmt.Errorf("database: next edge: %w", err)
	}
	return e, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChain(row rowScanner) (*models.Chain, error) {
	var (
		c                    models.Chain
		createdAt, updatedAt string
	)
	if err := row.Scan(&c.ID, &c.Title, &c.BrandID, &c.FirstOfferID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &c, nil
}
