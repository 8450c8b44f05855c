package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const personColumns = `id, name, first_name, last_name, user_name, matrix_id`

func scanPerson(row scanner) (Person, error) {
	var person Person
	var matrixID sql.NullString
	if err := row.Scan(&person.ID, &person.Name, &person.FirstName, &person.LastName, &person.UserName, &matrixID); err != nil {
		return Person{}, err
	}
	if matrixID.Valid {
		person.MatrixID = &matrixID.String
	}
	return person, nil
}

func (r *Repo) queryPersons(ctx context.Context, op, query string, args ...any) ([]Person, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]Person, 0)
	for rows.Next() {
		person, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		items = append(items, person)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return items, nil
}

func (r *Repo) CreatePerson(ctx context.Context, input NewPerson) (Person, error) {
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO person (name, first_name, last_name, user_name, matrix_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+personColumns,
		input.Name, input.FirstName, input.LastName, input.UserName, input.MatrixID,
	)
	person, err := scanPerson(row)
	if err != nil {
		return Person{}, fmt.Errorf("insert person: %w", err)
	}
	return person, nil
}

// UpsertPersonByUserName creates the person on first login and refreshes the
// display name on later ones.
func (r *Repo) UpsertPersonByUserName(ctx context.Context, input NewPerson) (Person, error) {
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO person (name, first_name, last_name, user_name, matrix_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_name) DO UPDATE SET name = EXCLUDED.name
		RETURNING `+personColumns,
		input.Name, input.FirstName, input.LastName, input.UserName, input.MatrixID,
	)
	person, err := scanPerson(row)
	if err != nil {
		return Person{}, fmt.Errorf("upsert person: %w", err)
	}
	return person, nil
}

func (r *Repo) Persons(ctx context.Context) ([]Person, error) {
	return r.queryPersons(ctx, "list persons", `SELECT `+personColumns+` FROM person ORDER BY name ASC`)
}

func (r *Repo) PersonByID(ctx context.Context, id uuid.UUID) (Person, error) {
	person, err := scanPerson(r.q.QueryRowContext(ctx, `SELECT `+personColumns+` FROM person WHERE id = $1`, id))
	if err != nil {
		return Person{}, wrapNotFound("person by id", err)
	}
	return person, nil
}

func (r *Repo) PersonByUserName(ctx context.Context, userName string) (Person, error) {
	person, err := scanPerson(r.q.QueryRowContext(ctx, `SELECT `+personColumns+` FROM person WHERE user_name = $1`, userName))
	if err != nil {
		return Person{}, wrapNotFound("person by user name", err)
	}
	return person, nil
}

func (r *Repo) PersonByMatrixID(ctx context.Context, matrixID string) (Person, error) {
	person, err := scanPerson(r.q.QueryRowContext(ctx, `SELECT `+personColumns+` FROM person WHERE matrix_id = $1`, matrixID))
	if err != nil {
		return Person{}, wrapNotFound("person by matrix id", err)
	}
	return person, nil
}

// PersonsWithRole lists persons holding role on day; both interval ends count.
func (r *Repo) PersonsWithRole(ctx context.Context, role string, day time.Time) ([]Person, error) {
	return r.queryPersons(ctx, "persons with role", `
		SELECT DISTINCT p.id, p.name, p.first_name, p.last_name, p.user_name, p.matrix_id
		FROM person p
		JOIN rollen_zuordnung rz ON rz.person_id = p.id
		WHERE rz.rolle = $1
			AND rz.anfangsdatum <= ($2::timestamptz AT TIME ZONE 'UTC')::date
			AND rz.ablaufdatum >= ($2::timestamptz AT TIME ZONE 'UTC')::date
		ORDER BY p.name ASC
	`, role, day)
}

func (r *Repo) UpdatePerson(ctx context.Context, id uuid.UUID, patch PersonPatch) (Person, error) {
	row := r.q.QueryRowContext(ctx, `
		UPDATE person
		SET
			name = COALESCE($2, name),
			first_name = COALESCE($3, first_name),
			last_name = COALESCE($4, last_name),
			user_name = COALESCE($5, user_name),
			matrix_id = COALESCE($6, matrix_id)
		WHERE id = $1
		RETURNING `+personColumns,
		id, patch.Name, patch.FirstName, patch.LastName, patch.UserName, patch.MatrixID,
	)
	person, err := scanPerson(row)
	if err != nil {
		return Person{}, wrapNotFound("update person", err)
	}
	return person, nil
}

func (r *Repo) DeletePerson(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM person WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	return expectAffected("delete person", result)
}

func expectAffected(op string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
