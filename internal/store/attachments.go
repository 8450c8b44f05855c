package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateAttachment stores attachment metadata and links it to the motion. The
// file bytes live in the file store under the returned id.
func (r *Repo) CreateAttachment(ctx context.Context, antragID uuid.UUID, filename string) (Attachment, error) {
	var item Attachment
	if err := r.q.QueryRowContext(ctx, `
		INSERT INTO attachments (filename)
		VALUES ($1)
		RETURNING id, filename
	`, filename).Scan(&item.ID, &item.Filename); err != nil {
		return Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO attachment_mapping (attachment_id, antrag_id)
		VALUES ($1, $2)
	`, item.ID, antragID); err != nil {
		return Attachment{}, fmt.Errorf("link attachment: %w", err)
	}
	return item, nil
}

func (r *Repo) AttachmentByID(ctx context.Context, id uuid.UUID) (Attachment, error) {
	var item Attachment
	err := r.q.QueryRowContext(ctx, `SELECT id, filename FROM attachments WHERE id = $1`, id).Scan(&item.ID, &item.Filename)
	if err != nil {
		return Attachment{}, wrapNotFound("attachment by id", err)
	}
	return item, nil
}

// AntragAttachment returns the attachment only if it belongs to the motion.
func (r *Repo) AntragAttachment(ctx context.Context, antragID, attachmentID uuid.UUID) (Attachment, error) {
	var item Attachment
	err := r.q.QueryRowContext(ctx, `
		SELECT a.id, a.filename
		FROM attachments a
		JOIN attachment_mapping m ON m.attachment_id = a.id
		WHERE m.antrag_id = $1 AND a.id = $2
	`, antragID, attachmentID).Scan(&item.ID, &item.Filename)
	if err != nil {
		return Attachment{}, wrapNotFound("antrag attachment", err)
	}
	return item, nil
}

func (r *Repo) DeleteAntragAttachment(ctx context.Context, antragID, attachmentID uuid.UUID) (Attachment, error) {
	item, err := r.AntragAttachment(ctx, antragID, attachmentID)
	if err != nil {
		return Attachment{}, err
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM attachments WHERE id = $1`, attachmentID); err != nil {
		return Attachment{}, fmt.Errorf("delete attachment: %w", err)
	}
	return item, nil
}
