package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const topColumns = `id, sitzung_id, name, weight, inhalt, kind`

// topOrder sorts tops the way a protocol lists them.
const topOrder = `
	CASE kind
		WHEN 'regularia' THEN 0
		WHEN 'bericht' THEN 1
		WHEN 'normal' THEN 2
		ELSE 3
	END ASC, weight ASC`

func scanTop(row scanner) (Top, error) {
	var item Top
	if err := row.Scan(&item.ID, &item.SitzungID, &item.Name, &item.Weight, &item.Inhalt, &item.Kind); err != nil {
		return Top{}, err
	}
	return item, nil
}

func (r *Repo) queryTops(ctx context.Context, op, query string, args ...any) ([]Top, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]Top, 0)
	for rows.Next() {
		item, err := scanTop(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return items, nil
}

// CreateTop appends a top to the end of its (sitzung, kind) partition. The
// weight is MAX(weight)+1, or 1 for an empty partition. Must run inside a
// transaction: the meeting row lock is what keeps two appends from reading
// the same maximum.
func (r *Repo) CreateTop(ctx context.Context, sitzungID uuid.UUID, name, inhalt string, kind TopKind) (Top, error) {
	if err := r.lockSitzung(ctx, sitzungID); err != nil {
		return Top{}, err
	}

	var weight int64
	if err := r.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(weight), 0) + 1
		FROM tops
		WHERE sitzung_id = $1 AND kind = $2
	`, sitzungID, kind).Scan(&weight); err != nil {
		return Top{}, fmt.Errorf("next top weight: %w", err)
	}

	item, err := scanTop(r.q.QueryRowContext(ctx, `
		INSERT INTO tops (sitzung_id, name, weight, inhalt, kind)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+topColumns,
		sitzungID, name, weight, inhalt, kind,
	))
	if err != nil {
		return Top{}, fmt.Errorf("insert top: %w", err)
	}
	return item, nil
}

func (r *Repo) TopByID(ctx context.Context, id uuid.UUID) (Top, error) {
	item, err := scanTop(r.q.QueryRowContext(ctx, `SELECT `+topColumns+` FROM tops WHERE id = $1`, id))
	if err != nil {
		return Top{}, wrapNotFound("top by id", err)
	}
	return item, nil
}

func (r *Repo) TopsBySitzung(ctx context.Context, sitzungID uuid.UUID) ([]Top, error) {
	return r.queryTops(ctx, "tops by sitzung", `
		SELECT `+topColumns+`
		FROM tops
		WHERE sitzung_id = $1
		ORDER BY`+topOrder,
		sitzungID,
	)
}

// UpdateTop applies a partial update. An explicit weight is stored as given;
// sibling weights are left alone, so duplicates and gaps are possible.
func (r *Repo) UpdateTop(ctx context.Context, id uuid.UUID, patch TopPatch) (Top, error) {
	item, err := scanTop(r.q.QueryRowContext(ctx, `
		UPDATE tops
		SET
			name = COALESCE($2, name),
			inhalt = COALESCE($3, inhalt),
			kind = COALESCE($4, kind),
			weight = COALESCE($5, weight)
		WHERE id = $1
		RETURNING `+topColumns,
		id, patch.Name, patch.Inhalt, patch.Kind, patch.Weight,
	))
	if err != nil {
		return Top{}, wrapNotFound("update top", err)
	}
	return item, nil
}

// DeleteTop removes the top and its motion links. Remaining weights are not
// renumbered.
func (r *Repo) DeleteTop(ctx context.Context, id uuid.UUID) (Top, error) {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM antragstop WHERE top_id = $1`, id); err != nil {
		return Top{}, fmt.Errorf("delete top antragstop: %w", err)
	}
	item, err := scanTop(r.q.QueryRowContext(ctx, `DELETE FROM tops WHERE id = $1 RETURNING `+topColumns, id))
	if err != nil {
		return Top{}, wrapNotFound("delete top", err)
	}
	return item, nil
}
