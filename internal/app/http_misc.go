package app

import (
	"net/http"

	"fachschaft/api/internal/rbac"
)

func (s *HTTPServer) handleAbmeldungen(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 0 {
		notFound(w)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	day, ok := queryTime(w, r, "date", nowPtr())
	if !ok {
		return
	}
	items, err := s.service.AbmeldungenAt(r.Context(), day)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *HTTPServer) handleDoorState(w http.ResponseWriter, r *http.Request, actor Actor, parts []string) {
	ctx := r.Context()

	if len(parts) == 1 && parts[0] == "between" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		start, ok := queryTime(w, r, "start", nil)
		if !ok {
			return
		}
		end, ok := queryTime(w, r, "end", nil)
		if !ok {
			return
		}
		states, err := s.service.DoorStatesBetween(ctx, start, end)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, states)
		return
	}

	if len(parts) != 0 {
		notFound(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		at, ok := queryTime(w, r, "timestamp", nowPtr())
		if !ok {
			return
		}
		state, err := s.service.DoorStateAt(ctx, at)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	case http.MethodPost:
		if !s.allow(w, r, actor, rbac.ManageDoor) {
			return
		}
		var body DoorStateInput
		if !readBody(w, r, &body) {
			return
		}
		state, err := s.service.RecordDoorState(ctx, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, state)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, r *http.Request, actor Actor, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			templates, err := s.service.ListTemplates(ctx)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, templates)
		case http.MethodPost:
			if !s.allow(w, r, actor, rbac.ManageSitzungen) {
				return
			}
			var body TemplateInput
			if !readBody(w, r, &body) {
				return
			}
			item, err := s.service.CreateTemplate(ctx, actor, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, item)
		default:
			methodNotAllowed(w)
		}
		return
	}

	name := parts[0]

	if len(parts) == 3 && parts[1] == "history" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		revision, err := s.service.TemplateRevision(ctx, name, parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, revision)
		return
	}

	if len(parts) == 2 && parts[1] == "history" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		history, err := s.service.TemplateHistory(ctx, name, queryInt(r, "limit", 0))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
		return
	}

	if len(parts) != 1 {
		notFound(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		item, err := s.service.GetTemplate(ctx, name)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodPatch:
		if !s.allow(w, r, actor, rbac.ManageSitzungen) {
			return
		}
		var body struct {
			Inhalt string `json:"inhalt"`
		}
		if !readBody(w, r, &body) {
			return
		}
		item, err := s.service.UpdateTemplate(ctx, actor, name, body.Inhalt)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodDelete:
		if !s.allow(w, r, actor, rbac.ManageSitzungen) {
			return
		}
		item, err := s.service.DeleteTemplate(ctx, actor, name)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	switch len(parts) {
	case 0:
		events, err := s.service.AllCalendarEvents(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	case 1:
		events, err := s.service.CalendarEvents(r.Context(), parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	default:
		notFound(w)
	}
}
