package app

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"fachschaft/api/internal/rbac"
	"fachschaft/api/internal/search"
)

func (s *HTTPServer) handleAntraege(w http.ResponseWriter, r *http.Request, actor Actor, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			antraege, err := s.service.ListAntraege(ctx)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, antraege)
		case http.MethodPost:
			if !s.allow(w, r, actor, rbac.CreateAntrag) {
				return
			}
			var body AntragInput
			if !readBody(w, r, &body) {
				return
			}
			antrag, err := s.service.CreateAntrag(ctx, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, antrag)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 1 && parts[0] == "orphans" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		antraege, err := s.service.OrphanAntraege(ctx)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, antraege)
		return
	}

	if len(parts) == 1 && parts[0] == "search" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		query := search.Query{
			Text:   r.URL.Query().Get("q"),
			Limit:  queryInt(r, "limit", 0),
			Offset: queryInt(r, "offset", 0),
		}
		writeJSON(w, http.StatusOK, s.service.SearchAntraege(ctx, query))
		return
	}

	antragID, ok := parseID(w, parts[0], "antrag")
	if !ok {
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			antrag, err := s.service.GetAntrag(ctx, antragID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, antrag)
		case http.MethodPatch:
			if !actor.Authenticated() {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			var body AntragPatchInput
			if !readBody(w, r, &body) {
				return
			}
			antrag, err := s.service.UpdateAntrag(ctx, actor, antragID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, antrag)
		case http.MethodDelete:
			if !actor.Authenticated() {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			if err := s.service.DeleteAntrag(ctx, actor, antragID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "tops" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		tops, err := s.service.TopsByAntrag(ctx, antragID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tops)
		return
	}

	if parts[1] != "attachments" || len(parts) > 3 {
		notFound(w)
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !actor.Authenticated() {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		s.handleUpload(w, r, actor, antragID)
		return
	}

	attachmentID, ok := parseID(w, parts[2], "attachment")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		meta, object, err := s.service.OpenAttachment(ctx, antragID, attachmentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		defer object.Close()
		contentType := object.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": meta.Filename}))
		if object.Size >= 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(object.Size, 10))
		}
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, object); err != nil {
			s.logger.Warn().Err(err).Str("attachment", attachmentID.String()).Msg("attachment download interrupted")
		}
	case http.MethodDelete:
		if !actor.Authenticated() {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		attachment, err := s.service.DeleteAttachment(ctx, actor, antragID, attachmentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, attachment)
	default:
		methodNotAllowed(w)
	}
}

// handleUpload accepts one multipart "file" part.
func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, actor Actor, antragID uuid.UUID) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Upload too large", map[string]any{"limit": s.maxUploadBytes})
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected multipart form", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	defer file.Close()

	attachment, err := s.service.UploadAttachment(r.Context(), actor, antragID, AttachmentUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, attachment)
}
