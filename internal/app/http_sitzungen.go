package app

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"fachschaft/api/internal/export"
	"fachschaft/api/internal/rbac"
)

func (s *HTTPServer) handleLegislativePeriods(w http.ResponseWriter, r *http.Request, actor Actor, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			periods, err := s.service.ListLegislativePeriods(ctx)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, periods)
		case http.MethodPost:
			if !s.allow(w, r, actor, rbac.ManageSitzungen) {
				return
			}
			var body struct {
				Name string `json:"name"`
			}
			if !readBody(w, r, &body) {
				return
			}
			period, err := s.service.CreateLegislativePeriod(ctx, body.Name)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, period)
		default:
			methodNotAllowed(w)
		}
		return
	}

	periodID, ok := parseID(w, parts[0], "legislative period")
	if !ok {
		return
	}

	if len(parts) == 2 && parts[1] == "sitzungen" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		sitzungen, err := s.service.LegislativePeriodSitzungen(ctx, periodID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sitzungen)
		return
	}

	if len(parts) != 1 {
		notFound(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		period, err := s.service.GetLegislativePeriod(ctx, periodID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, period)
	case http.MethodPatch:
		if !s.allow(w, r, actor, rbac.ManageSitzungen) {
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		if !readBody(w, r, &body) {
			return
		}
		period, err := s.service.RenameLegislativePeriod(ctx, periodID, body.Name)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, period)
	case http.MethodDelete:
		if !s.allow(w, r, actor, rbac.ManageSitzungen) {
			return
		}
		period, err := s.service.DeleteLegislativePeriod(ctx, periodID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, period)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleSitzungen(w http.ResponseWriter, r *http.Request, actor Actor, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			sitzungen, err := s.service.ListSitzungen(ctx)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, sitzungen)
		case http.MethodPost:
			if !s.allow(w, r, actor, rbac.ManageSitzungen) {
				return
			}
			var body SitzungInput
			if !readBody(w, r, &body) {
				return
			}
			sitzung, err := s.service.CreateSitzung(ctx, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, sitzung)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 1 && (parts[0] == "after" || parts[0] == "between" || parts[0] == "next") {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleSitzungenQuery(w, r, parts[0])
		return
	}

	sitzungID, ok := parseID(w, parts[0], "sitzung")
	if !ok {
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			sitzung, err := s.service.GetSitzung(ctx, sitzungID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, sitzung)
		case http.MethodPatch:
			if !s.allow(w, r, actor, rbac.ManageSitzungen) {
				return
			}
			var body SitzungPatchInput
			if !readBody(w, r, &body) {
				return
			}
			sitzung, err := s.service.UpdateSitzung(ctx, sitzungID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, sitzung)
		case http.MethodDelete:
			if !s.allow(w, r, actor, rbac.ManageSitzungen) {
				return
			}
			sitzung, err := s.service.DeleteSitzung(ctx, sitzungID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, sitzung)
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch parts[1] {
	case "abmeldungen":
		if len(parts) != 2 || r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		items, err := s.service.AbmeldungenBySitzung(ctx, sitzungID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case "tops":
		s.handleTops(w, r, actor, sitzungID, parts[2:])
	case "protocol":
		if len(parts) != 3 || r.Method != http.MethodGet {
			notFound(w)
			return
		}
		s.handleProtocol(w, r, sitzungID, parts[2])
	default:
		notFound(w)
	}
}

func (s *HTTPServer) handleSitzungenQuery(w http.ResponseWriter, r *http.Request, kind string) {
	ctx := r.Context()
	switch kind {
	case "next":
		ts, ok := queryTime(w, r, "timestamp", nowPtr())
		if !ok {
			return
		}
		sitzung, err := s.service.FirstSitzungAfter(ctx, ts)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sitzung)
	case "after":
		ts, ok := queryTime(w, r, "timestamp", nowPtr())
		if !ok {
			return
		}
		sitzungen, err := s.service.SitzungenAfter(ctx, ts, queryInt(r, "limit", 0))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sitzungen)
	case "between":
		start, ok := queryTime(w, r, "start", nil)
		if !ok {
			return
		}
		end, ok := queryTime(w, r, "end", nil)
		if !ok {
			return
		}
		sitzungen, err := s.service.SitzungenBetween(ctx, start, end)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sitzungen)
	}
}

func (s *HTTPServer) handleTops(w http.ResponseWriter, r *http.Request, actor Actor, sitzungID uuid.UUID, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			tops, err := s.service.TopsBySitzung(ctx, sitzungID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, tops)
		case http.MethodPost:
			if !s.allow(w, r, actor, rbac.ManageSitzungen) {
				return
			}
			var body TopInput
			if !readBody(w, r, &body) {
				return
			}
			top, err := s.service.CreateTop(ctx, sitzungID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, top)
		default:
			methodNotAllowed(w)
		}
		return
	}

	topID, ok := parseID(w, parts[0], "top")
	if !ok {
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPatch:
			if !s.allow(w, r, actor, rbac.ManageSitzungen) {
				return
			}
			var body TopPatchInput
			if !readBody(w, r, &body) {
				return
			}
			top, err := s.service.UpdateTop(ctx, sitzungID, topID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, top)
		case http.MethodDelete:
			if !s.allow(w, r, actor, rbac.ManageSitzungen) {
				return
			}
			top, err := s.service.DeleteTop(ctx, sitzungID, topID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, top)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "antraege" && r.Method == http.MethodGet {
		antraege, err := s.service.AntraegeByTop(ctx, sitzungID, topID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, antraege)
		return
	}

	if len(parts) == 2 && parts[1] == "assoc" {
		if r.Method != http.MethodPatch && r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if !s.allow(w, r, actor, rbac.ManageSitzungen) {
			return
		}
		var body struct {
			AntragID uuid.UUID `json:"antragId"`
		}
		if !readBody(w, r, &body) {
			return
		}
		if body.AntragID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "antragId is required", nil)
			return
		}
		change := s.service.AttachAntrag
		if r.Method == http.MethodDelete {
			change = s.service.DetachAntrag
		}
		mapping, err := change(ctx, sitzungID, topID, body.AntragID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"changed": mapping != nil, "mapping": mapping})
		return
	}

	notFound(w)
}

func (s *HTTPServer) handleProtocol(w http.ResponseWriter, r *http.Request, sitzungID uuid.UUID, templateName string) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.RenderProtocol(r.Context(), sitzungID, templateName, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", "inline; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}
