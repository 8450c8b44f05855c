package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

func (r *Repo) CreateLegislativePeriod(ctx context.Context, name string) (LegislativePeriod, error) {
	var item LegislativePeriod
	if err := r.q.QueryRowContext(ctx, `
		INSERT INTO legislative_period (name)
		VALUES ($1)
		RETURNING id, name
	`, name).Scan(&item.ID, &item.Name); err != nil {
		return LegislativePeriod{}, fmt.Errorf("insert legislative period: %w", err)
	}
	return item, nil
}

func (r *Repo) LegislativePeriods(ctx context.Context) ([]LegislativePeriod, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name FROM legislative_period ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list legislative periods: %w", err)
	}
	defer rows.Close()

	items := make([]LegislativePeriod, 0)
	for rows.Next() {
		var item LegislativePeriod
		if err := rows.Scan(&item.ID, &item.Name); err != nil {
			return nil, fmt.Errorf("scan legislative period: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list legislative periods: %w", err)
	}
	return items, nil
}

func (r *Repo) LegislativePeriodByID(ctx context.Context, id uuid.UUID) (LegislativePeriod, error) {
	var item LegislativePeriod
	err := r.q.QueryRowContext(ctx, `SELECT id, name FROM legislative_period WHERE id = $1`, id).Scan(&item.ID, &item.Name)
	if err != nil {
		return LegislativePeriod{}, wrapNotFound("legislative period by id", err)
	}
	return item, nil
}

func (r *Repo) RenameLegislativePeriod(ctx context.Context, id uuid.UUID, name string) (LegislativePeriod, error) {
	var item LegislativePeriod
	err := r.q.QueryRowContext(ctx, `
		UPDATE legislative_period
		SET name = $2
		WHERE id = $1
		RETURNING id, name
	`, id, name).Scan(&item.ID, &item.Name)
	if err != nil {
		return LegislativePeriod{}, wrapNotFound("rename legislative period", err)
	}
	return item, nil
}

func (r *Repo) DeleteLegislativePeriod(ctx context.Context, id uuid.UUID) (LegislativePeriod, error) {
	var item LegislativePeriod
	err := r.q.QueryRowContext(ctx, `
		DELETE FROM legislative_period
		WHERE id = $1
		RETURNING id, name
	`, id).Scan(&item.ID, &item.Name)
	if err != nil {
		return LegislativePeriod{}, wrapNotFound("delete legislative period", err)
	}
	return item, nil
}

// LegislativePeriodSitzungen lists the period's meetings in date order, each
// with its tops.
func (r *Repo) LegislativePeriodSitzungen(ctx context.Context, id uuid.UUID) ([]SitzungWithTops, error) {
	sitzungen, err := r.querySitzungen(ctx, "legislative period sitzungen", `
		SELECT `+sitzungColumns+`
		FROM sitzungen
		WHERE legislative_period_id = $1
		ORDER BY datetime ASC
	`, id)
	if err != nil {
		return nil, err
	}

	items := make([]SitzungWithTops, 0, len(sitzungen))
	for _, sitzung := range sitzungen {
		full, err := r.withTops(ctx, sitzung)
		if err != nil {
			return nil, err
		}
		items = append(items, full)
	}
	return items, nil
}
