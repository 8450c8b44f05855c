package app

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"fachschaft/api/internal/files"
	"fachschaft/api/internal/rbac"
	"fachschaft/api/internal/search"
	"fachschaft/api/internal/store"
)

type AntragInput struct {
	Ersteller   []uuid.UUID `json:"ersteller"`
	Titel       string      `json:"titel"`
	Begruendung string      `json:"begruendung"`
	Antragstext string      `json:"antragstext"`
}

type AntragPatchInput struct {
	Ersteller   *[]uuid.UUID `json:"ersteller"`
	Titel       *string      `json:"titel"`
	Begruendung *string      `json:"begruendung"`
	Antragstext *string      `json:"antragstext"`
}

type AttachmentUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func (s *Service) ListAntraege(ctx context.Context) ([]store.Antrag, error) {
	var out []store.Antrag
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.Antraege(ctx)
		return err
	})
	return out, err
}

func (s *Service) GetAntrag(ctx context.Context, id uuid.UUID) (store.Antrag, error) {
	var out store.Antrag
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.AntragByID(ctx, id)
		return err
	})
	return out, err
}

// OrphanAntraege lists motions that are not linked to any top.
func (s *Service) OrphanAntraege(ctx context.Context) ([]store.Antrag, error) {
	var out []store.Antrag
	err := s.read(ctx, func(repo repository) error {
		var err error
		out, err = repo.OrphanAntraege(ctx)
		return err
	})
	return out, err
}

func (s *Service) TopsByAntrag(ctx context.Context, id uuid.UUID) ([]store.Top, error) {
	var out []store.Top
	err := s.read(ctx, func(repo repository) error {
		if _, err := repo.AntragByID(ctx, id); err != nil {
			return err
		}
		var err error
		out, err = repo.TopsByAntrag(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) SearchAntraege(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) CreateAntrag(ctx context.Context, input AntragInput) (store.Antrag, error) {
	if err := validateAntrag(input.Titel, input.Antragstext); err != nil {
		return store.Antrag{}, err
	}
	var out store.Antrag
	err := s.write(ctx, func(repo repository) error {
		var err error
		out, err = repo.CreateAntrag(ctx, input.Ersteller, strings.TrimSpace(input.Titel), input.Begruendung, input.Antragstext)
		return err
	})
	if err != nil {
		return store.Antrag{}, err
	}
	s.indexAntrag(out)
	return out, nil
}

// UpdateAntrag is allowed for authors of the motion and for ManageAntraege.
// Provided authors replace the whole author set.
func (s *Service) UpdateAntrag(ctx context.Context, actor Actor, id uuid.UUID, input AntragPatchInput) (store.Antrag, error) {
	if !actor.Authenticated() {
		return store.Antrag{}, errUnauthorized()
	}
	if input.Titel != nil && strings.TrimSpace(*input.Titel) == "" {
		return store.Antrag{}, errValidation("titel must not be empty", nil)
	}
	patch := store.AntragPatch{
		Titel:       input.Titel,
		Begruendung: input.Begruendung,
		Antragstext: input.Antragstext,
		Ersteller:   input.Ersteller,
	}
	var out store.Antrag
	err := s.write(ctx, func(repo repository) error {
		if _, err := s.requireAuthorOrManager(ctx, repo, actor, id); err != nil {
			return err
		}
		var err error
		out, err = repo.UpdateAntrag(ctx, id, patch)
		return err
	})
	if err != nil {
		return store.Antrag{}, err
	}
	s.indexAntrag(out)
	return out, nil
}

func (s *Service) DeleteAntrag(ctx context.Context, actor Actor, id uuid.UUID) error {
	if !actor.Authenticated() {
		return errUnauthorized()
	}
	var attachments []uuid.UUID
	err := s.write(ctx, func(repo repository) error {
		if _, err := s.requireAuthorOrManager(ctx, repo, actor, id); err != nil {
			return err
		}
		var err error
		attachments, err = repo.DeleteAntrag(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteAntrag(id.String())
	}
	for _, attachmentID := range attachments {
		s.removeFile(ctx, attachmentID)
	}
	return nil
}

// UploadAttachment stores the bytes inside the metadata transaction so a
// failed upload leaves no row behind. A failed commit removes the object.
func (s *Service) UploadAttachment(ctx context.Context, actor Actor, antragID uuid.UUID, upload AttachmentUpload) (store.Attachment, error) {
	if !actor.Authenticated() {
		return store.Attachment{}, errUnauthorized()
	}
	if s.files == nil {
		return store.Attachment{}, errUnavailable("attachment storage")
	}
	filename := path.Base(strings.ReplaceAll(strings.TrimSpace(upload.Filename), "\\", "/"))
	if filename == "" || filename == "." || filename == "/" {
		return store.Attachment{}, errValidation("filename is required", nil)
	}
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var (
		out    store.Attachment
		stored bool
	)
	err := s.write(ctx, func(repo repository) error {
		if _, err := s.requireAuthorOrManager(ctx, repo, actor, antragID); err != nil {
			return err
		}
		var err error
		out, err = repo.CreateAttachment(ctx, antragID, filename)
		if err != nil {
			return err
		}
		if err := s.files.Put(ctx, out.ID, filename, contentType, upload.Body, upload.Size); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		if stored {
			s.removeFile(ctx, out.ID)
		}
		return store.Attachment{}, err
	}
	return out, nil
}

// OpenAttachment returns the metadata and the stored bytes. The caller closes
// the object.
func (s *Service) OpenAttachment(ctx context.Context, antragID, attachmentID uuid.UUID) (store.Attachment, *files.Object, error) {
	if s.files == nil {
		return store.Attachment{}, nil, errUnavailable("attachment storage")
	}
	var meta store.Attachment
	err := s.read(ctx, func(repo repository) error {
		var err error
		meta, err = repo.AntragAttachment(ctx, antragID, attachmentID)
		return err
	})
	if err != nil {
		return store.Attachment{}, nil, err
	}
	object, err := s.files.Get(ctx, attachmentID)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	return meta, object, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, actor Actor, antragID, attachmentID uuid.UUID) (store.Attachment, error) {
	if !actor.Authenticated() {
		return store.Attachment{}, errUnauthorized()
	}
	var out store.Attachment
	err := s.write(ctx, func(repo repository) error {
		if _, err := s.requireAuthorOrManager(ctx, repo, actor, antragID); err != nil {
			return err
		}
		var err error
		out, err = repo.DeleteAntragAttachment(ctx, antragID, attachmentID)
		return err
	})
	if err != nil {
		return store.Attachment{}, err
	}
	s.removeFile(ctx, attachmentID)
	return out, nil
}

// requireAuthorOrManager loads the motion in the caller's transaction. A
// missing motion is NotFound regardless of the actor.
func (s *Service) requireAuthorOrManager(ctx context.Context, repo repository, actor Actor, id uuid.UUID) (store.Antrag, error) {
	antrag, err := repo.AntragByID(ctx, id)
	if err != nil {
		return store.Antrag{}, err
	}
	if s.Can(actor, rbac.ManageAntraege) {
		return antrag, nil
	}
	person, err := s.actorPerson(ctx, repo, actor)
	if errors.Is(err, store.ErrNotFound) {
		return store.Antrag{}, errUnauthorized()
	}
	if err != nil {
		return store.Antrag{}, err
	}
	if !antrag.HasAuthor(person.ID) {
		return store.Antrag{}, errUnauthorized()
	}
	return antrag, nil
}

func (s *Service) indexAntrag(antrag store.Antrag) {
	if s.search == nil {
		return
	}
	s.search.IndexAntrag(search.AntragRecord{
		ID:          antrag.ID.String(),
		Titel:       antrag.Titel,
		Antragstext: antrag.Antragstext,
		Begruendung: antrag.Begruendung,
		CreatedAt:   antrag.CreatedAt.Unix(),
	})
}

func (s *Service) removeFile(ctx context.Context, id uuid.UUID) {
	if s.files == nil {
		return
	}
	if err := s.files.Delete(ctx, id); err != nil && !errors.Is(err, files.ErrNotFound) {
		s.logger.Warn().Err(err).Str("attachment", id.String()).Msg("could not remove attachment object")
	}
}

func validateAntrag(titel, antragstext string) error {
	missing := make([]string, 0, 2)
	if strings.TrimSpace(titel) == "" {
		missing = append(missing, "titel")
	}
	if strings.TrimSpace(antragstext) == "" {
		missing = append(missing, "antragstext")
	}
	if len(missing) > 0 {
		return errValidation("missing required fields", map[string]any{"fields": missing})
	}
	return nil
}
