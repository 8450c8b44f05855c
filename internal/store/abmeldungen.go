package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (r *Repo) queryAbmeldungen(ctx context.Context, op, query string, args ...any) ([]Abmeldung, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]Abmeldung, 0)
	for rows.Next() {
		var item Abmeldung
		if err := rows.Scan(&item.PersonID, &item.Start, &item.End); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return items, nil
}

// CreateAbmeldung stores an absence and merges it with every overlapping
// absence of the same person into a single interval.
func (r *Repo) CreateAbmeldung(ctx context.Context, personID uuid.UUID, start, end time.Time) (Abmeldung, error) {
	var item Abmeldung
	err := r.q.QueryRowContext(ctx, `
		WITH overlap AS (
			DELETE FROM abmeldungen
			WHERE
				person_id = $1 AND
				anfangsdatum <= ($3::timestamptz AT TIME ZONE 'UTC')::date AND
				ablaufdatum >= ($2::timestamptz AT TIME ZONE 'UTC')::date
			RETURNING *
		)
		INSERT INTO abmeldungen (person_id, anfangsdatum, ablaufdatum)
		SELECT
			$1,
			LEAST(($2::timestamptz AT TIME ZONE 'UTC')::date, MIN(anfangsdatum)),
			GREATEST(($3::timestamptz AT TIME ZONE 'UTC')::date, MAX(ablaufdatum))
		FROM overlap
		RETURNING person_id, anfangsdatum, ablaufdatum
	`, personID, start, end).Scan(&item.PersonID, &item.Start, &item.End)
	if err != nil {
		return Abmeldung{}, fmt.Errorf("insert abmeldung: %w", err)
	}
	return item, nil
}

// RevokeAbmeldung cuts [start, end] out of the person's absences.
func (r *Repo) RevokeAbmeldung(ctx context.Context, personID uuid.UUID, start, end time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		WITH overlap AS (
			DELETE FROM abmeldungen
			WHERE
				person_id = $1 AND
				anfangsdatum <= ($3::timestamptz AT TIME ZONE 'UTC')::date AND
				ablaufdatum >= ($2::timestamptz AT TIME ZONE 'UTC')::date
			RETURNING *
		)
		INSERT INTO abmeldungen (person_id, anfangsdatum, ablaufdatum)
		SELECT * FROM (VALUES
			($1::uuid, (SELECT MIN(overlap.anfangsdatum) FROM overlap), ($2::timestamptz AT TIME ZONE 'UTC')::date - 1),
			($1::uuid, ($3::timestamptz AT TIME ZONE 'UTC')::date + 1, (SELECT MAX(overlap.ablaufdatum) FROM overlap))
		) AS bounds (person_id, anfangsdatum, ablaufdatum)
		WHERE
			bounds.anfangsdatum <= bounds.ablaufdatum
	`, personID, start, end)
	if err != nil {
		return fmt.Errorf("revoke abmeldung: %w", err)
	}
	return nil
}

func (r *Repo) AbmeldungenByPerson(ctx context.Context, personID uuid.UUID) ([]Abmeldung, error) {
	return r.queryAbmeldungen(ctx, "abmeldungen by person", `
		SELECT person_id, anfangsdatum, ablaufdatum
		FROM abmeldungen
		WHERE person_id = $1
		ORDER BY anfangsdatum ASC
	`, personID)
}

// AbmeldungenAt lists absences covering day, inclusive on both ends. Day
// parameters are turned into dates in UTC, independent of the session zone.
func (r *Repo) AbmeldungenAt(ctx context.Context, day time.Time) ([]Abmeldung, error) {
	return r.queryAbmeldungen(ctx, "abmeldungen at", `
		SELECT person_id, anfangsdatum, ablaufdatum
		FROM abmeldungen
		WHERE anfangsdatum <= ($1::timestamptz AT TIME ZONE 'UTC')::date AND ablaufdatum >= ($1::timestamptz AT TIME ZONE 'UTC')::date
		ORDER BY person_id ASC
	`, day)
}

func (r *Repo) AbmeldungenBySitzung(ctx context.Context, sitzungID uuid.UUID) ([]Abmeldung, error) {
	sitzung, err := r.SitzungByID(ctx, sitzungID)
	if err != nil {
		return nil, err
	}
	return r.AbmeldungenAt(ctx, sitzung.Datetime)
}
