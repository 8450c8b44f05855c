package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// AttachAntragToTop links a motion to a top. Attaching an existing pair is a
// no-op and returns nil.
func (r *Repo) AttachAntragToTop(ctx context.Context, antragID, topID uuid.UUID) (*AntragTopMapping, error) {
	var mapping AntragTopMapping
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO antragstop (antrag_id, top_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
		RETURNING antrag_id, top_id
	`, antragID, topID).Scan(&mapping.AntragID, &mapping.TopID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("attach antrag to top: %w", err)
	}
	return &mapping, nil
}

// DetachAntragFromTop removes the link and returns it, or nil when the pair
// was not linked.
func (r *Repo) DetachAntragFromTop(ctx context.Context, antragID, topID uuid.UUID) (*AntragTopMapping, error) {
	var mapping AntragTopMapping
	err := r.q.QueryRowContext(ctx, `
		DELETE FROM antragstop
		WHERE antrag_id = $1 AND top_id = $2
		RETURNING antrag_id, top_id
	`, antragID, topID).Scan(&mapping.AntragID, &mapping.TopID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("detach antrag from top: %w", err)
	}
	return &mapping, nil
}

// OrphanAntraege lists motions that are not on any agenda.
func (r *Repo) OrphanAntraege(ctx context.Context) ([]Antrag, error) {
	return r.queryAntraege(ctx, "orphan antraege", `
		SELECT a.id, a.titel, a.antragstext, a.begruendung, a.created_at
		FROM antraege a
		LEFT JOIN antragstop atp ON a.id = atp.antrag_id
		WHERE atp.antrag_id IS NULL
		ORDER BY a.created_at DESC
	`)
}

func (r *Repo) AntraegeByTop(ctx context.Context, topID uuid.UUID) ([]Antrag, error) {
	return r.queryAntraege(ctx, "antraege by top", `
		SELECT a.id, a.titel, a.antragstext, a.begruendung, a.created_at
		FROM antraege a
		JOIN antragstop atp ON a.id = atp.antrag_id
		WHERE atp.top_id = $1
		ORDER BY a.created_at ASC
	`, topID)
}

func (r *Repo) TopsByAntrag(ctx context.Context, antragID uuid.UUID) ([]Top, error) {
	return r.queryTops(ctx, "tops by antrag", `
		SELECT t.id, t.sitzung_id, t.name, t.weight, t.inhalt, t.kind
		FROM tops t
		JOIN antragstop atp ON t.id = atp.top_id
		WHERE atp.antrag_id = $1
		ORDER BY t.weight ASC
	`, antragID)
}
