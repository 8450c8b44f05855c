package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (r *Repo) Templates(ctx context.Context) ([]Template, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT name, inhalt FROM templates ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]Template, 0)
	for rows.Next() {
		var item Template
		if err := rows.Scan(&item.Name, &item.Inhalt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return items, nil
}

func (r *Repo) TemplateByName(ctx context.Context, name string) (Template, error) {
	var item Template
	err := r.q.QueryRowContext(ctx, `SELECT name, inhalt FROM templates WHERE name = $1`, name).Scan(&item.Name, &item.Inhalt)
	if err != nil {
		return Template{}, wrapNotFound("template by name", err)
	}
	return item, nil
}

func (r *Repo) CreateTemplate(ctx context.Context, item Template) (Template, error) {
	var created Template
	if err := r.q.QueryRowContext(ctx, `
		INSERT INTO templates (name, inhalt)
		VALUES ($1, $2)
		RETURNING name, inhalt
	`, item.Name, item.Inhalt).Scan(&created.Name, &created.Inhalt); err != nil {
		return Template{}, fmt.Errorf("insert template: %w", err)
	}
	return created, nil
}

func (r *Repo) UpdateTemplate(ctx context.Context, name, inhalt string) (Template, error) {
	var item Template
	err := r.q.QueryRowContext(ctx, `
		UPDATE templates
		SET inhalt = $2
		WHERE name = $1
		RETURNING name, inhalt
	`, name, inhalt).Scan(&item.Name, &item.Inhalt)
	if err != nil {
		return Template{}, wrapNotFound("update template", err)
	}
	return item, nil
}

// DeleteTemplate returns the deleted template, or nil if none existed.
func (r *Repo) DeleteTemplate(ctx context.Context, name string) (*Template, error) {
	var item Template
	err := r.q.QueryRowContext(ctx, `
		DELETE FROM templates
		WHERE name = $1
		RETURNING name, inhalt
	`, name).Scan(&item.Name, &item.Inhalt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete template: %w", err)
	}
	return &item, nil
}
