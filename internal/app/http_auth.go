package app

import (
	"net/http"
)

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	target, err := s.service.BeginLogin(r.Context(), r.URL.Query().Get("redirect"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Login was not completed", map[string]any{"reason": providerErr})
		return
	}
	resolution, redirectTo, err := s.service.CompleteLogin(r.Context(), query.Get("state"), query.Get("code"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for _, cookie := range resolution.Cookies {
		http.SetCookie(w, cookie)
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	for _, cookie := range s.service.Logout(r.Context(), actorFrom(r.Context())) {
		http.SetCookie(w, cookie)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if !actor.Authenticated() {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "identity": nil, "capabilities": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"identity":      actor.Identity,
		"capabilities":  s.service.Capabilities(actor),
	})
}
