package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const sitzungColumns = `id, datetime, location, kind, antragsfrist, legislative_period_id`

func scanSitzung(row scanner) (Sitzung, error) {
	var item Sitzung
	var antragsfrist sql.NullTime
	var period uuid.NullUUID
	if err := row.Scan(&item.ID, &item.Datetime, &item.Location, &item.Kind, &antragsfrist, &period); err != nil {
		return Sitzung{}, err
	}
	if antragsfrist.Valid {
		item.Antragsfrist = &antragsfrist.Time
	}
	if period.Valid {
		item.LegislativePeriodID = &period.UUID
	}
	return item, nil
}

func (r *Repo) querySitzungen(ctx context.Context, op, query string, args ...any) ([]Sitzung, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]Sitzung, 0)
	for rows.Next() {
		item, err := scanSitzung(rows)
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

func (r *Repo) CreateSitzung(ctx context.Context, input NewSitzung) (Sitzung, error) {
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO sitzungen (datetime, location, kind, antragsfrist, legislative_period_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+sitzungColumns,
		input.Datetime, input.Location, input.Kind, input.Antragsfrist, input.LegislativePeriodID,
	)
	item, err := scanSitzung(row)
	if err != nil {
		return Sitzung{}, fmt.Errorf("insert sitzung: %w", err)
	}
	return item, nil
}

func (r *Repo) Sitzungen(ctx context.Context) ([]Sitzung, error) {
	return r.querySitzungen(ctx, "list sitzungen", `SELECT `+sitzungColumns+` FROM sitzungen ORDER BY datetime ASC`)
}

func (r *Repo) SitzungByID(ctx context.Context, id uuid.UUID) (Sitzung, error) {
	item, err := scanSitzung(r.q.QueryRowContext(ctx, `SELECT `+sitzungColumns+` FROM sitzungen WHERE id = $1`, id))
	if err != nil {
		return Sitzung{}, wrapNotFound("sitzung by id", err)
	}
	return item, nil
}

// lockSitzung takes a row lock on the meeting for the rest of the
// transaction. Appends to the same meeting queue up behind it.
func (r *Repo) lockSitzung(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	if err := r.q.QueryRowContext(ctx, `SELECT id FROM sitzungen WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		return wrapNotFound("lock sitzung", err)
	}
	return nil
}

func (r *Repo) UpdateSitzung(ctx context.Context, id uuid.UUID, patch SitzungPatch) (Sitzung, error) {
	row := r.q.QueryRowContext(ctx, `
		UPDATE sitzungen
		SET
			datetime = COALESCE($2, datetime),
			location = COALESCE($3, location),
			kind = COALESCE($4, kind),
			antragsfrist = COALESCE($5, antragsfrist),
			legislative_period_id = COALESCE($6, legislative_period_id)
		WHERE id = $1
		RETURNING `+sitzungColumns,
		id, patch.Datetime, patch.Location, patch.Kind, patch.Antragsfrist, patch.LegislativePeriodID,
	)
	item, err := scanSitzung(row)
	if err != nil {
		return Sitzung{}, wrapNotFound("update sitzung", err)
	}
	return item, nil
}

// DeleteSitzung removes the meeting, its tops and their motion links.
func (r *Repo) DeleteSitzung(ctx context.Context, id uuid.UUID) (Sitzung, error) {
	if _, err := r.q.ExecContext(ctx, `
		DELETE FROM antragstop
		WHERE top_id IN (SELECT id FROM tops WHERE sitzung_id = $1)
	`, id); err != nil {
		return Sitzung{}, fmt.Errorf("delete sitzung antragstop: %w", err)
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM tops WHERE sitzung_id = $1`, id); err != nil {
		return Sitzung{}, fmt.Errorf("delete sitzung tops: %w", err)
	}
	item, err := scanSitzung(r.q.QueryRowContext(ctx, `DELETE FROM sitzungen WHERE id = $1 RETURNING `+sitzungColumns, id))
	if err != nil {
		return Sitzung{}, wrapNotFound("delete sitzung", err)
	}
	return item, nil
}

// FirstSitzungAfter returns the earliest meeting at or after ts.
func (r *Repo) FirstSitzungAfter(ctx context.Context, ts time.Time) (Sitzung, error) {
	item, err := scanSitzung(r.q.QueryRowContext(ctx, `
		SELECT `+sitzungColumns+`
		FROM sitzungen
		WHERE datetime >= $1
		ORDER BY datetime ASC
		LIMIT 1
	`, ts))
	if err != nil {
		return Sitzung{}, wrapNotFound("first sitzung after", err)
	}
	return item, nil
}

func (r *Repo) SitzungenAfter(ctx context.Context, ts time.Time, limit int) ([]Sitzung, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.querySitzungen(ctx, "sitzungen after", `
		SELECT `+sitzungColumns+`
		FROM sitzungen
		WHERE datetime >= $1
		ORDER BY datetime ASC
		LIMIT $2
	`, ts, limit)
}

func (r *Repo) SitzungenBetween(ctx context.Context, start, end time.Time) ([]Sitzung, error) {
	return r.querySitzungen(ctx, "sitzungen between", `
		SELECT `+sitzungColumns+`
		FROM sitzungen
		WHERE datetime >= $1 AND datetime <= $2
		ORDER BY datetime ASC
	`, start, end)
}

// SitzungWithTops loads the meeting with its ordered tops and their motions.
func (r *Repo) SitzungWithTops(ctx context.Context, id uuid.UUID) (SitzungWithTops, error) {
	sitzung, err := r.SitzungByID(ctx, id)
	if err != nil {
		return SitzungWithTops{}, err
	}
	return r.withTops(ctx, sitzung)
}

func (r *Repo) withTops(ctx context.Context, sitzung Sitzung) (SitzungWithTops, error) {
	tops, err := r.TopsBySitzung(ctx, sitzung.ID)
	if err != nil {
		return SitzungWithTops{}, err
	}
	result := SitzungWithTops{Sitzung: sitzung, Tops: make([]TopWithAntraege, 0, len(tops))}
	for _, top := range tops {
		antraege, err := r.AntraegeByTop(ctx, top.ID)
		if err != nil {
			return SitzungWithTops{}, err
		}
		result.Tops = append(result.Tops, TopWithAntraege{Top: top, Antraege: antraege})
	}
	return result, nil
}
