package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"fachschaft/api/internal/export"
	"fachschaft/api/internal/gitrepo"
	"fachschaft/api/internal/store"
)

type TemplateInput struct {
	Name   string `json:"name"`
	Inhalt string `json:"inhalt"`
}

const defaultHistoryLimit = 50

func (s *Service) ListTemplates(ctx context.Context) ([]store.Template, error) {
	var out []store.Template
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.Templates(ctx)
		return err
	})
	return out, err
}

func (s *Service) GetTemplate(ctx context.Context, name string) (store.Template, error) {
	var out store.Template
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.TemplateByName(ctx, name)
		return err
	})
	return out, err
}

// CreateTemplate stores a template after checking that it parses.
func (s *Service) CreateTemplate(ctx context.Context, actor Actor, input TemplateInput) (store.Template, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Template{}, errValidation("name is required", nil)
	}
	if _, err := export.Parse(name, input.Inhalt); err != nil {
		return store.Template{}, err
	}
	var out store.Template
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.CreateTemplate(ctx, store.Template{Name: name, Inhalt: input.Inhalt})
		return err
	})
	if err != nil {
		return store.Template{}, err
	}
	s.templateChanged(out.Name)
	s.recordTemplate(actor, out, "create")
	return out, nil
}

func (s *Service) UpdateTemplate(ctx context.Context, actor Actor, name, inhalt string) (store.Template, error) {
	if _, err := export.Parse(name, inhalt); err != nil {
		return store.Template{}, err
	}
	var out store.Template
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.UpdateTemplate(ctx, name, inhalt)
		return err
	})
	if err != nil {
		return store.Template{}, err
	}
	s.templateChanged(name)
	s.recordTemplate(actor, out, "update")
	return out, nil
}

func (s *Service) DeleteTemplate(ctx context.Context, actor Actor, name string) (store.Template, error) {
	var deleted *store.Template
	err := s.write(ctx, func(repo repository) error {
		var err error
		deleted, err = repo.DeleteTemplate(ctx, name)
		return err
	})
	if err != nil {
		return store.Template{}, err
	}
	if deleted == nil {
		return store.Template{}, errNotFound("template")
	}
	s.templateChanged(name)
	if s.history != nil {
		if _, err := s.history.RemoveTemplate(name, actor.displayName(), "delete template "+name); err != nil {
			s.logger.Warn().Err(err).Str("template", name).Msg("could not record template removal")
		}
	}
	return *deleted, nil
}

func (s *Service) TemplateHistory(ctx context.Context, name string, limit int) ([]gitrepo.CommitInfo, error) {
	if s.history == nil {
		return nil, errUnavailable("template history")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.history.History(name, limit)
}

// TemplateRevision is the content of a template at one commit.
type TemplateRevision struct {
	Name   string `json:"name"`
	Hash   string `json:"hash"`
	Inhalt string `json:"inhalt"`
}

func (s *Service) TemplateRevision(ctx context.Context, name, hash string) (TemplateRevision, error) {
	if s.history == nil {
		return TemplateRevision{}, errUnavailable("template history")
	}
	if err := ctx.Err(); err != nil {
		return TemplateRevision{}, err
	}
	inhalt, err := s.history.ContentAt(name, hash)
	if err != nil {
		return TemplateRevision{}, err
	}
	return TemplateRevision{Name: name, Hash: hash, Inhalt: inhalt}, nil
}

// RenderProtocol renders a meeting through the named template. Data is read
// on one connection which is released before rendering starts.
func (s *Service) RenderProtocol(ctx context.Context, sitzungID uuid.UUID, templateName string, format export.Format) (*export.Result, error) {
	if s.exporter == nil {
		return nil, errUnavailable("protocol export")
	}
	var snap protocolSnapshot
	err := s.read(ctx, func(repo repository) error {
		var err error
		if snap.sitzung, err = repo.SitzungWithTops(ctx, sitzungID); err != nil {
			return err
		}
		if snap.persons, err = repo.Persons(ctx); err != nil {
			return err
		}
		snap.template, snap.templateErr = repo.TemplateByName(ctx, templateName)
		if snap.templateErr != nil && !errors.Is(snap.templateErr, store.ErrNotFound) {
			return snap.templateErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, snap, export.Request{SitzungID: sitzungID, TemplateName: templateName, Format: format})
}

func (s *Service) templateChanged(name string) {
	if s.exporter != nil {
		s.exporter.Engine().Forget(name)
	}
}

func (s *Service) recordTemplate(actor Actor, item store.Template, verb string) {
	if s.history == nil {
		return
	}
	message := fmt.Sprintf("%s template %s", verb, item.Name)
	if _, err := s.history.CommitTemplate(item.Name, item.Inhalt, actor.displayName(), message); err != nil {
		s.logger.Warn().Err(err).Str("template", item.Name).Msg("could not record template revision")
	}
}

// protocolSnapshot serves export data already read from the database.
type protocolSnapshot struct {
	sitzung     store.SitzungWithTops
	persons     []store.Person
	template    store.Template
	templateErr error
}

func (p protocolSnapshot) SitzungWithTops(_ context.Context, id uuid.UUID) (store.SitzungWithTops, error) {
	if id != p.sitzung.ID {
		return store.SitzungWithTops{}, store.ErrNotFound
	}
	return p.sitzung, nil
}

func (p protocolSnapshot) Persons(context.Context) ([]store.Person, error) {
	return p.persons, nil
}

func (p protocolSnapshot) TemplateByName(_ context.Context, name string) (store.Template, error) {
	if p.templateErr != nil {
		return store.Template{}, p.templateErr
	}
	if name != p.template.Name {
		return store.Template{}, store.ErrNotFound
	}
	return p.template, nil
}
