package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches motions through the generated antraege.fts column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. Without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return []Result{}, 0, nil
	}
	q = normalize(q)

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM antraege
		WHERE fts @@ websearch_to_tsquery('german', $1)
	`, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT a.id::text, a.titel,
			ts_headline('german', a.antragstext || ' ' || a.begruendung, query,
				'StartSel=<mark>,StopSel=</mark>,MaxFragments=1,MaxWords=30') AS snippet
		FROM antraege a, websearch_to_tsquery('german', $1) query
		WHERE a.fts @@ query
		ORDER BY ts_rank(a.fts, query) DESC, a.created_at DESC
		LIMIT $2 OFFSET $3
	`, q.Text, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Titel, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every motion for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]AntragRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, titel, antragstext, begruendung, created_at
		FROM antraege
	`)
	if err != nil {
		return nil, fmt.Errorf("load antraege: %w", err)
	}
	defer rows.Close()

	records := make([]AntragRecord, 0)
	for rows.Next() {
		var rec AntragRecord
		var created sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Titel, &rec.Antragstext, &rec.Begruendung, &created); err != nil {
			return nil, fmt.Errorf("scan antrag: %w", err)
		}
		if created.Valid {
			rec.CreatedAt = created.Time.Unix()
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate antraege: %w", err)
	}
	return records, nil
}
