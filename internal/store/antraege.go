package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const antragColumns = `id, titel, antragstext, begruendung, created_at`

func scanAntrag(row scanner) (Antrag, error) {
	var item Antrag
	if err := row.Scan(&item.ID, &item.Titel, &item.Antragstext, &item.Begruendung, &item.CreatedAt); err != nil {
		return Antrag{}, err
	}
	return item, nil
}

// queryAntraege loads motion rows and then fills authors and attachments.
func (r *Repo) queryAntraege(ctx context.Context, op, query string, args ...any) ([]Antrag, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	items := make([]Antrag, 0)
	for rows.Next() {
		item, err := scanAntrag(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rows.Close()

	// rows must be closed first: a single connection cannot interleave result sets
	for i := range items {
		if err := r.fillAntrag(ctx, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (r *Repo) fillAntrag(ctx context.Context, item *Antrag) error {
	ersteller, err := r.uuidList(ctx, "antrag ersteller", `
		SELECT person_id FROM antragsstellende WHERE antrag_id = $1 ORDER BY person_id
	`, item.ID)
	if err != nil {
		return err
	}
	anhaenge, err := r.uuidList(ctx, "antrag anhaenge", `
		SELECT attachment_id FROM attachment_mapping WHERE antrag_id = $1 ORDER BY attachment_id
	`, item.ID)
	if err != nil {
		return err
	}
	item.Ersteller = ersteller
	item.Anhaenge = anhaenge
	return nil
}

func (r *Repo) uuidList(ctx context.Context, op, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return items, nil
}

// CreateAntrag inserts the motion and one authorship row per author. An empty
// author list is valid. Run inside a transaction so a failing author insert
// leaves no motion behind.
func (r *Repo) CreateAntrag(ctx context.Context, ersteller []uuid.UUID, titel, begruendung, antragstext string) (Antrag, error) {
	item, err := scanAntrag(r.q.QueryRowContext(ctx, `
		INSERT INTO antraege (titel, antragstext, begruendung)
		VALUES ($1, $2, $3)
		RETURNING `+antragColumns,
		titel, antragstext, begruendung,
	))
	if err != nil {
		return Antrag{}, fmt.Errorf("insert antrag: %w", err)
	}

	if err := r.insertErsteller(ctx, item.ID, ersteller); err != nil {
		return Antrag{}, err
	}
	item.Ersteller = dedupe(ersteller)
	item.Anhaenge = []uuid.UUID{}
	return item, nil
}

func (r *Repo) insertErsteller(ctx context.Context, antragID uuid.UUID, ersteller []uuid.UUID) error {
	for _, personID := range dedupe(ersteller) {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO antragsstellende (antrag_id, person_id)
			VALUES ($1, $2)
		`, antragID, personID); err != nil {
			return fmt.Errorf("insert antragsstellende: %w", err)
		}
	}
	return nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (r *Repo) Antraege(ctx context.Context) ([]Antrag, error) {
	return r.queryAntraege(ctx, "list antraege", `SELECT `+antragColumns+` FROM antraege ORDER BY created_at DESC`)
}

func (r *Repo) AntragByID(ctx context.Context, id uuid.UUID) (Antrag, error) {
	item, err := scanAntrag(r.q.QueryRowContext(ctx, `SELECT `+antragColumns+` FROM antraege WHERE id = $1`, id))
	if err != nil {
		return Antrag{}, wrapNotFound("antrag by id", err)
	}
	if err := r.fillAntrag(ctx, &item); err != nil {
		return Antrag{}, err
	}
	return item, nil
}

// UpdateAntrag applies a partial update. When patch.Ersteller is set the
// author set is replaced, not merged.
func (r *Repo) UpdateAntrag(ctx context.Context, id uuid.UUID, patch AntragPatch) (Antrag, error) {
	item, err := scanAntrag(r.q.QueryRowContext(ctx, `
		UPDATE antraege
		SET
			titel = COALESCE($2, titel),
			antragstext = COALESCE($3, antragstext),
			begruendung = COALESCE($4, begruendung)
		WHERE id = $1
		RETURNING `+antragColumns,
		id, patch.Titel, patch.Antragstext, patch.Begruendung,
	))
	if err != nil {
		return Antrag{}, wrapNotFound("update antrag", err)
	}

	if patch.Ersteller != nil {
		if _, err := r.q.ExecContext(ctx, `DELETE FROM antragsstellende WHERE antrag_id = $1`, id); err != nil {
			return Antrag{}, fmt.Errorf("clear antragsstellende: %w", err)
		}
		if err := r.insertErsteller(ctx, id, *patch.Ersteller); err != nil {
			return Antrag{}, err
		}
	}

	if err := r.fillAntrag(ctx, &item); err != nil {
		return Antrag{}, err
	}
	return item, nil
}

// DeleteAntrag removes agenda links, authors and attachment links before the
// motion itself. Attachment rows are returned so the caller can drop the
// stored files after commit.
func (r *Repo) DeleteAntrag(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	attachments, err := r.uuidList(ctx, "antrag anhaenge", `
		SELECT attachment_id FROM attachment_mapping WHERE antrag_id = $1
	`, id)
	if err != nil {
		return nil, err
	}

	statements := []struct {
		op    string
		query string
	}{
		{"delete antrag antragstop", `DELETE FROM antragstop WHERE antrag_id = $1`},
		{"delete antrag antragsstellende", `DELETE FROM antragsstellende WHERE antrag_id = $1`},
		{"delete antrag attachments", `DELETE FROM attachments WHERE id IN (SELECT attachment_id FROM attachment_mapping WHERE antrag_id = $1)`},
	}
	for _, stmt := range statements {
		if _, err := r.q.ExecContext(ctx, stmt.query, id); err != nil {
			return nil, fmt.Errorf("%s: %w", stmt.op, err)
		}
	}

	result, err := r.q.ExecContext(ctx, `DELETE FROM antraege WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("delete antrag: %w", err)
	}
	if err := expectAffected("delete antrag", result); err != nil {
		return nil, err
	}
	return attachments, nil
}
