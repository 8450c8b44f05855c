package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"fachschaft/api/internal/rbac"
	"fachschaft/api/internal/store"
)

type PersonInput struct {
	Name      string  `json:"name"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	UserName  string  `json:"userName"`
	MatrixID  *string `json:"matrixId"`
}

type PersonPatchInput struct {
	Name      *string `json:"name"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	UserName  *string `json:"userName"`
	MatrixID  *string `json:"matrixId"`
}

type IntervalInput struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (in IntervalInput) validate() error {
	if in.Start.IsZero() || in.End.IsZero() {
		return errValidation("start and end are required", nil)
	}
	if in.End.Before(in.Start) {
		return errValidation("end must not be before start", map[string]any{"start": in.Start, "end": in.End})
	}
	return nil
}

type RoleAssignmentInput struct {
	Role string `json:"role"`
	IntervalInput
}

func (in RoleAssignmentInput) validate() error {
	if strings.TrimSpace(in.Role) == "" {
		return errValidation("role is required", nil)
	}
	return in.IntervalInput.validate()
}

func (s *Service) ListPersons(ctx context.Context) ([]store.Person, error) {
	var out []store.Person
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.Persons(ctx)
		return err
	})
	return out, err
}

func (s *Service) GetPerson(ctx context.Context, id uuid.UUID) (store.Person, error) {
	var out store.Person
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.PersonByID(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) PersonByUserName(ctx context.Context, userName string) (store.Person, error) {
	var out store.Person
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.PersonByUserName(ctx, userName)
		return err
	})
	return out, err
}

func (s *Service) PersonByMatrixID(ctx context.Context, matrixID string) (store.Person, error) {
	var out store.Person
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.PersonByMatrixID(ctx, matrixID)
		return err
	})
	return out, err
}

func (s *Service) PersonsWithRole(ctx context.Context, role string, day time.Time) ([]store.Person, error) {
	if strings.TrimSpace(role) == "" {
		return nil, errValidation("role is required", nil)
	}
	var out []store.Person
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.PersonsWithRole(ctx, role, day)
		return err
	})
	return out, err
}

func (s *Service) CreatePerson(ctx context.Context, input PersonInput) (store.Person, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.Person{}, errValidation("name is required", nil)
	}
	var out store.Person
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.CreatePerson(ctx, store.NewPerson{
			Name:      strings.TrimSpace(input.Name),
			FirstName: input.FirstName,
			LastName:  input.LastName,
			UserName:  input.UserName,
			MatrixID:  input.MatrixID,
		})
		return err
	})
	return out, err
}

func (s *Service) UpdatePerson(ctx context.Context, id uuid.UUID, input PersonPatchInput) (store.Person, error) {
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return store.Person{}, errValidation("name must not be empty", nil)
	}
	var out store.Person
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.UpdatePerson(ctx, id, store.PersonPatch{
			Name:      input.Name,
			FirstName: input.FirstName,
			LastName:  input.LastName,
			UserName:  input.UserName,
			MatrixID:  input.MatrixID,
		})
		return err
	})
	return out, err
}

func (s *Service) DeletePerson(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(repo repository) error {
		return repo.DeletePerson(ctx, id)
	})
}

func (s *Service) ListRoles(ctx context.Context) ([]string, error) {
	var out []string
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.Roles(ctx)
		return err
	})
	return out, err
}

func (s *Service) CreateRole(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errValidation("name is required", nil)
	}
	var out string
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.CreateRole(ctx, name)
		return err
	})
	return out, err
}

func (s *Service) DeleteRole(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errValidation("name is required", nil)
	}
	return s.write(ctx, func(repo repository) error {
		return repo.DeleteRole(ctx, name)
	})
}

func (s *Service) RolesByPerson(ctx context.Context, personID uuid.UUID) ([]store.RoleAssignment, error) {
	var out []store.RoleAssignment
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.RolesByPerson(ctx, personID)
		return err
	})
	return out, err
}

func (s *Service) AssignRole(ctx context.Context, personID uuid.UUID, input RoleAssignmentInput) (store.RoleAssignment, error) {
	if err := input.validate(); err != nil {
		return store.RoleAssignment{}, err
	}
	var out store.RoleAssignment
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.AssignRole(ctx, personID, input.Role, input.Start, input.End)
		return err
	})
	return out, err
}

func (s *Service) RevokeRole(ctx context.Context, personID uuid.UUID, input RoleAssignmentInput) error {
	if err := input.validate(); err != nil {
		return err
	}
	return s.write(ctx, func(repo repository) error {
		return repo.RevokeRole(ctx, personID, input.Role, input.Start, input.End)
	})
}

func (s *Service) AbmeldungenByPerson(ctx context.Context, personID uuid.UUID) ([]store.Abmeldung, error) {
	var out []store.Abmeldung
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.AbmeldungenByPerson(ctx, personID)
		return err
	})
	return out, err
}

// AbmeldungenAt lists absences covering day.
func (s *Service) AbmeldungenAt(ctx context.Context, day time.Time) ([]store.Abmeldung, error) {
	var out []store.Abmeldung
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.AbmeldungenAt(ctx, day)
		return err
	})
	return out, err
}

// CreateAbmeldung records an absence. Persons may register their own; anyone
// else needs ManagePersons.
func (s *Service) CreateAbmeldung(ctx context.Context, actor Actor, personID uuid.UUID, input IntervalInput) (store.Abmeldung, error) {
	if !actor.Authenticated() {
		return store.Abmeldung{}, errUnauthorized()
	}
	if err := input.validate(); err != nil {
		return store.Abmeldung{}, err
	}
	var out store.Abmeldung
	err := s.write(ctx, func(repo repository) error {
		if err := s.requireSelfOr(ctx, repo, actor, personID, rbac.ManagePersons); err != nil {
			return err
		}
		var err error
		out, err = repo.CreateAbmeldung(ctx, personID, input.Start, input.End)
		return err
	})
	return out, err
}

func (s *Service) RevokeAbmeldung(ctx context.Context, actor Actor, personID uuid.UUID, input IntervalInput) error {
	if !actor.Authenticated() {
		return errUnauthorized()
	}
	if err := input.validate(); err != nil {
		return err
	}
	return s.write(ctx, func(repo repository) error {
		if err := s.requireSelfOr(ctx, repo, actor, personID, rbac.ManagePersons); err != nil {
			return err
		}
		return repo.RevokeAbmeldung(ctx, personID, input.Start, input.End)
	})
}

func (s *Service) requireSelfOr(ctx context.Context, repo repository, actor Actor, personID uuid.UUID, capability rbac.Capability) error {
	if s.Can(actor, capability) {
		return nil
	}
	self, err := s.actorPerson(ctx, repo, actor)
	if errors.Is(err, store.ErrNotFound) {
		return errUnauthorized()
	}
	if err != nil {
		return err
	}
	if self.ID != personID {
		return errUnauthorized()
	}
	return nil
}
