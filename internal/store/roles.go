package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (r *Repo) Roles(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT name FROM rollen ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		items = append(items, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return items, nil
}

func (r *Repo) CreateRole(ctx context.Context, name string) (string, error) {
	var created string
	if err := r.q.QueryRowContext(ctx, `INSERT INTO rollen (name) VALUES ($1) RETURNING name`, name).Scan(&created); err != nil {
		return "", fmt.Errorf("insert role: %w", err)
	}
	return created, nil
}

func (r *Repo) DeleteRole(ctx context.Context, name string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM rollen WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return expectAffected("delete role", result)
}

// AssignRole records an assignment for [start, end]. Overlapping assignments
// of the same role are allowed.
func (r *Repo) AssignRole(ctx context.Context, personID uuid.UUID, role string, start, end time.Time) (RoleAssignment, error) {
	var assignment RoleAssignment
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO rollen_zuordnung (person_id, rolle, anfangsdatum, ablaufdatum)
		VALUES ($1, $2, ($3::timestamptz AT TIME ZONE 'UTC')::date, ($4::timestamptz AT TIME ZONE 'UTC')::date)
		RETURNING person_id, rolle, anfangsdatum, ablaufdatum
	`, personID, role, start, end).Scan(&assignment.PersonID, &assignment.Role, &assignment.Start, &assignment.End)
	if err != nil {
		return RoleAssignment{}, fmt.Errorf("assign role: %w", err)
	}
	return assignment, nil
}

// RevokeRole removes [start, end] from every assignment of role held by the
// person, keeping the parts outside the interval.
func (r *Repo) RevokeRole(ctx context.Context, personID uuid.UUID, role string, start, end time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		WITH overlap AS (
			DELETE FROM rollen_zuordnung
			WHERE
				person_id = $1 AND
				rolle = $2 AND
				anfangsdatum <= ($4::timestamptz AT TIME ZONE 'UTC')::date AND
				ablaufdatum >= ($3::timestamptz AT TIME ZONE 'UTC')::date
			RETURNING *
		)
		INSERT INTO rollen_zuordnung (person_id, rolle, anfangsdatum, ablaufdatum)
		SELECT o.person_id, o.rolle, o.anfangsdatum, (($3::timestamptz AT TIME ZONE 'UTC')::date - 1)
		FROM overlap o
		WHERE o.anfangsdatum < ($3::timestamptz AT TIME ZONE 'UTC')::date
		UNION ALL
		SELECT o.person_id, o.rolle, (($4::timestamptz AT TIME ZONE 'UTC')::date + 1), o.ablaufdatum
		FROM overlap o
		WHERE o.ablaufdatum > ($4::timestamptz AT TIME ZONE 'UTC')::date
	`, personID, role, start, end)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

func (r *Repo) RolesByPerson(ctx context.Context, personID uuid.UUID) ([]RoleAssignment, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT person_id, rolle, anfangsdatum, ablaufdatum
		FROM rollen_zuordnung
		WHERE person_id = $1
		ORDER BY anfangsdatum ASC, rolle ASC
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("roles by person: %w", err)
	}
	defer rows.Close()

	items := make([]RoleAssignment, 0)
	for rows.Next() {
		var item RoleAssignment
		if err := rows.Scan(&item.PersonID, &item.Role, &item.Start, &item.End); err != nil {
			return nil, fmt.Errorf("scan role assignment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roles by person: %w", err)
	}
	return items, nil
}
