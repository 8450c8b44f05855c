package app

import (
	"net/http"

	"fachschaft/api/internal/rbac"
)

func (s *HTTPServer) handlePersons(w http.ResponseWriter, r *http.Request, actor Actor, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			persons, err := s.service.ListPersons(ctx)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, persons)
		case http.MethodPut:
			if !s.allow(w, r, actor, rbac.ManagePersons) {
				return
			}
			var body PersonInput
			if !readBody(w, r, &body) {
				return
			}
			person, err := s.service.CreatePerson(ctx, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, person)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 1 && parts[0] == "by-role" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		day, ok := queryTime(w, r, "date", nowPtr())
		if !ok {
			return
		}
		persons, err := s.service.PersonsWithRole(ctx, r.URL.Query().Get("role"), day)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, persons)
		return
	}

	if len(parts) == 2 && (parts[0] == "by-username" || parts[0] == "by-matrix-id") {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		lookup := s.service.PersonByUserName
		if parts[0] == "by-matrix-id" {
			lookup = s.service.PersonByMatrixID
		}
		person, err := lookup(ctx, parts[1])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, person)
		return
	}

	personID, ok := parseID(w, parts[0], "person")
	if !ok {
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			person, err := s.service.GetPerson(ctx, personID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, person)
		case http.MethodPatch:
			if !s.allow(w, r, actor, rbac.ManagePersons) {
				return
			}
			var body PersonPatchInput
			if !readBody(w, r, &body) {
				return
			}
			person, err := s.service.UpdatePerson(ctx, personID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, person)
		case http.MethodDelete:
			if !s.allow(w, r, actor, rbac.ManagePersons) {
				return
			}
			if err := s.service.DeletePerson(ctx, personID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "roles" {
		switch r.Method {
		case http.MethodGet:
			roles, err := s.service.RolesByPerson(ctx, personID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, roles)
		case http.MethodPut:
			if !s.allow(w, r, actor, rbac.ManagePersons) {
				return
			}
			var body RoleAssignmentInput
			if !readBody(w, r, &body) {
				return
			}
			assignment, err := s.service.AssignRole(ctx, personID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, assignment)
		case http.MethodDelete:
			if !s.allow(w, r, actor, rbac.ManagePersons) {
				return
			}
			var body RoleAssignmentInput
			if !readBody(w, r, &body) {
				return
			}
			if err := s.service.RevokeRole(ctx, personID, body); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "abmeldungen" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.AbmeldungenByPerson(ctx, personID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, items)
		case http.MethodPut:
			if !actor.Authenticated() {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			var body IntervalInput
			if !readBody(w, r, &body) {
				return
			}
			item, err := s.service.CreateAbmeldung(ctx, actor, personID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, item)
		case http.MethodDelete:
			if !actor.Authenticated() {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			var body IntervalInput
			if !readBody(w, r, &body) {
				return
			}
			if err := s.service.RevokeAbmeldung(ctx, actor, personID, body); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			methodNotAllowed(w)
		}
		return
	}

	notFound(w)
}

func (s *HTTPServer) handleRoles(w http.ResponseWriter, r *http.Request, actor Actor, parts []string) {
	ctx := r.Context()
	if len(parts) > 1 {
		notFound(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if len(parts) != 0 {
			methodNotAllowed(w)
			return
		}
		roles, err := s.service.ListRoles(ctx)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, roles)
	case http.MethodPut:
		if !s.allow(w, r, actor, rbac.ManagePersons) {
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		if !readBody(w, r, &body) {
			return
		}
		role, err := s.service.CreateRole(ctx, body.Name)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": role})
	case http.MethodDelete:
		if !s.allow(w, r, actor, rbac.ManagePersons) {
			return
		}
		name := ""
		if len(parts) == 1 {
			name = parts[0]
		} else {
			var body struct {
				Name string `json:"name"`
			}
			if !readBody(w, r, &body) {
				return
			}
			name = body.Name
		}
		if err := s.service.DeleteRole(ctx, name); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		methodNotAllowed(w)
	}
}
