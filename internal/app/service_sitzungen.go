package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"fachschaft/api/internal/store"
)

type SitzungInput struct {
	Datetime            time.Time  `json:"datetime"`
	Location            string     `json:"location"`
	Kind                string     `json:"kind"`
	Antragsfrist        *time.Time `json:"antragsfrist"`
	LegislativePeriodID *uuid.UUID `json:"legislativePeriodId"`
}

type SitzungPatchInput struct {
	Datetime            *time.Time `json:"datetime"`
	Location            *string    `json:"location"`
	Kind                *string    `json:"kind"`
	Antragsfrist        *time.Time `json:"antragsfrist"`
	LegislativePeriodID *uuid.UUID `json:"legislativePeriodId"`
}

type TopInput struct {
	Name   string `json:"name"`
	Inhalt string `json:"inhalt"`
	Kind   string `json:"kind"`
}

type TopPatchInput struct {
	Name   *string `json:"name"`
	Inhalt *string `json:"inhalt"`
	Kind   *string `json:"kind"`
	Weight *int64  `json:"weight"`
}

const maxSitzungenAfter = 100

func (s *Service) ListLegislativePeriods(ctx context.Context) ([]store.LegislativePeriod, error) {
	var out []store.LegislativePeriod
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.LegislativePeriods(ctx)
		return err
	})
	return out, err
}

func (s *Service) GetLegislativePeriod(ctx context.Context, id uuid.UUID) (store.LegislativePeriod, error) {
	var out store.LegislativePeriod
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.LegislativePeriodByID(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) LegislativePeriodSitzungen(ctx context.Context, id uuid.UUID) ([]store.SitzungWithTops, error) {
	var out []store.SitzungWithTops
	err := s.read(ctx, func(repo repository) error {
		if _, err := repo.LegislativePeriodByID(ctx, id); err != nil {
			return err
		}
		var err error
		out, err = repo.LegislativePeriodSitzungen(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) CreateLegislativePeriod(ctx context.Context, name string) (store.LegislativePeriod, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.LegislativePeriod{}, errValidation("name is required", nil)
	}
	var out store.LegislativePeriod
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.CreateLegislativePeriod(ctx, name)
		return err
	})
	return out, err
}

func (s *Service) RenameLegislativePeriod(ctx context.Context, id uuid.UUID, name string) (store.LegislativePeriod, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.LegislativePeriod{}, errValidation("name is required", nil)
	}
	var out store.LegislativePeriod
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.RenameLegislativePeriod(ctx, id, name)
		return err
	})
	return out, err
}

func (s *Service) DeleteLegislativePeriod(ctx context.Context, id uuid.UUID) (store.LegislativePeriod, error) {
	var out store.LegislativePeriod
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.DeleteLegislativePeriod(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) ListSitzungen(ctx context.Context) ([]store.Sitzung, error) {
	var out []store.Sitzung
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.Sitzungen(ctx)
		return err
	})
	return out, err
}

func (s *Service) GetSitzung(ctx context.Context, id uuid.UUID) (store.SitzungWithTops, error) {
	var out store.SitzungWithTops
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.SitzungWithTops(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) FirstSitzungAfter(ctx context.Context, ts time.Time) (store.SitzungWithTops, error) {
	var out store.SitzungWithTops
	err := s.read(ctx, func(repo repository) error {
		next, err := repo.FirstSitzungAfter(ctx, ts)
		if err != nil {
			return err
		}
		out, err = repo.SitzungWithTops(ctx, next.ID)
		return err
	})
	return out, err
}

func (s *Service) SitzungenAfter(ctx context.Context, ts time.Time, limit int) ([]store.Sitzung, error) {
	if limit <= 0 || limit > maxSitzungenAfter {
		limit = maxSitzungenAfter
	}
	var out []store.Sitzung
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.SitzungenAfter(ctx, ts, limit)
		return err
	})
	return out, err
}

func (s *Service) SitzungenBetween(ctx context.Context, start, end time.Time) ([]store.Sitzung, error) {
	if end.Before(start) {
		return nil, errValidation("end must not be before start", nil)
	}
	var out []store.Sitzung
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.SitzungenBetween(ctx, start, end)
		return err
	})
	return out, err
}

func (s *Service) AbmeldungenBySitzung(ctx context.Context, id uuid.UUID) ([]store.Abmeldung, error) {
	var out []store.Abmeldung
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.AbmeldungenBySitzung(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) CreateSitzung(ctx context.Context, input SitzungInput) (store.Sitzung, error) {
	if input.Datetime.IsZero() {
		return store.Sitzung{}, errValidation("datetime is required", nil)
	}
	kind := store.SitzungNormal
	if input.Kind != "" {
		parsed, err := store.ParseSitzungKind(input.Kind)
		if err != nil {
			return store.Sitzung{}, errValidation(err.Error(), nil)
		}
		kind = parsed
	}
	var out store.Sitzung
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.CreateSitzung(ctx, store.NewSitzung{
			Datetime:            input.Datetime,
			Location:            strings.TrimSpace(input.Location),
			Kind:                kind,
			Antragsfrist:        input.Antragsfrist,
			LegislativePeriodID: input.LegislativePeriodID,
		})
		return err
	})
	return out, err
}

func (s *Service) UpdateSitzung(ctx context.Context, id uuid.UUID, input SitzungPatchInput) (store.Sitzung, error) {
	patch := store.SitzungPatch{
		Datetime:            input.Datetime,
		Location:            input.Location,
		Antragsfrist:        input.Antragsfrist,
		LegislativePeriodID: input.LegislativePeriodID,
	}
	if input.Kind != nil {
		kind, err := store.ParseSitzungKind(*input.Kind)
		if err != nil {
			return store.Sitzung{}, errValidation(err.Error(), nil)
		}
		patch.Kind = &kind
	}
	var out store.Sitzung
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.UpdateSitzung(ctx, id, patch)
		return err
	})
	return out, err
}

func (s *Service) DeleteSitzung(ctx context.Context, id uuid.UUID) (store.Sitzung, error) {
	var out store.Sitzung
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.DeleteSitzung(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) TopsBySitzung(ctx context.Context, sitzungID uuid.UUID) ([]store.Top, error) {
	var out []store.Top
	err := s.read(ctx, func(repo repository) error {
		if _, err := repo.SitzungByID(ctx, sitzungID); err != nil {
			return err
		}
		var err error
		out, err = repo.TopsBySitzung(ctx, sitzungID)
		return err
	})
	return out, err
}

// CreateTop appends a top to the meeting. The store assigns the next weight
// within the top kind.
func (s *Service) CreateTop(ctx context.Context, sitzungID uuid.UUID, input TopInput) (store.Top, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Top{}, errValidation("name is required", nil)
	}
	kind := store.TopNormal
	if input.Kind != "" {
		parsed, err := store.ParseTopKind(input.Kind)
		if err != nil {
			return store.Top{}, errValidation(err.Error(), nil)
		}
		kind = parsed
	}
	var out store.Top
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.CreateTop(ctx, sitzungID, name, input.Inhalt, kind)
		return err
	})
	return out, err
}

func (s *Service) UpdateTop(ctx context.Context, sitzungID, topID uuid.UUID, input TopPatchInput) (store.Top, error) {
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return store.Top{}, errValidation("name must not be empty", nil)
	}
	if input.Weight != nil && *input.Weight < 1 {
		return store.Top{}, errValidation("weight must be positive", nil)
	}
	patch := store.TopPatch{Name: input.Name, Inhalt: input.Inhalt, Weight: input.Weight}
	if input.Kind != nil {
		kind, err := store.ParseTopKind(*input.Kind)
		if err != nil {
			return store.Top{}, errValidation(err.Error(), nil)
		}
		patch.Kind = &kind
	}
	var out store.Top
	err := s.write(ctx, func(repo repository) error {
		if _, err := topInSitzung(ctx, repo, sitzungID, topID); err != nil {
			return err
		}
		var err error
		out, err = repo.UpdateTop(ctx, topID, patch)
		return err
	})
	return out, err
}

func (s *Service) DeleteTop(ctx context.Context, sitzungID, topID uuid.UUID) (store.Top, error) {
	var out store.Top
	err := s.write(ctx, func(repo repository) error {
		if _, err := topInSitzung(ctx, repo, sitzungID, topID); err != nil {
			return err
		}
		var err error
		out, err = repo.DeleteTop(ctx, topID)
		return err
	})
	return out, err
}

func (s *Service) AntraegeByTop(ctx context.Context, sitzungID, topID uuid.UUID) ([]store.Antrag, error) {
	var out []store.Antrag
	err := s.read(ctx, func(repo repository) error {
		if _, err := topInSitzung(ctx, repo, sitzungID, topID); err != nil {
			return err
		}
		var err error
		out, err = repo.AntraegeByTop(ctx, topID)
		return err
	})
	return out, err
}

// AttachAntrag links a motion to a top. Linking twice is a no-op that
// returns nil.
func (s *Service) AttachAntrag(ctx context.Context, sitzungID, topID, antragID uuid.UUID) (*store.AntragTopMapping, error) {
	var out *store.AntragTopMapping
	err := s.write(ctx, func(repo repository) error {
		if _, err := topInSitzung(ctx, repo, sitzungID, topID); err != nil {
			return err
		}
		if _, err := repo.AntragByID(ctx, antragID); err != nil {
			return err
		}
		var err error
		out, err = repo.AttachAntragToTop(ctx, antragID, topID)
		return err
	})
	return out, err
}

func (s *Service) DetachAntrag(ctx context.Context, sitzungID, topID, antragID uuid.UUID) (*store.AntragTopMapping, error) {
	var out *store.AntragTopMapping
	err := s.write(ctx, func(repo repository) error {
		if _, err := topInSitzung(ctx, repo, sitzungID, topID); err != nil {
			return err
		}
		var err error
		out, err = repo.DetachAntragFromTop(ctx, antragID, topID)
		return err
	})
	return out, err
}

// topInSitzung loads a top and hides tops of other meetings.
func topInSitzung(ctx context.Context, repo repository, sitzungID, topID uuid.UUID) (store.Top, error) {
	top, err := repo.TopByID(ctx, topID)
	if err != nil {
		return store.Top{}, err
	}
	if top.SitzungID != sitzungID {
		return store.Top{}, errNotFound("top")
	}
	return top, nil
}
