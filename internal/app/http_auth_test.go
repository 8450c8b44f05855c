package app

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"fachschaft/api/internal/auth"
	"fachschaft/api/internal/session"
	"fachschaft/api/internal/store"
)

func TestSessionReportsAnonymous(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/api/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeJSON(t, rr)
	if payload["authenticated"] != false || payload["identity"] != nil {
		t.Fatalf("unexpected session %v", payload)
	}
	if caps, ok := payload["capabilities"].([]any); !ok || len(caps) != 0 {
		t.Fatalf("expected empty capabilities, got %v", payload["capabilities"])
	}
}

func TestSessionListsCapabilities(t *testing.T) {
	env := newTestEnv(t)
	env.as("chair", "vorstand", "mitglied")
	rr := env.do(http.MethodGet, "/api/session", "")
	payload := decodeJSON(t, rr)
	if payload["authenticated"] != true {
		t.Fatalf("expected authenticated session, got %v", payload)
	}
	caps := map[string]bool{}
	for _, c := range payload["capabilities"].([]any) {
		caps[c.(string)] = true
	}
	for _, want := range []string{"ManageSitzungen", "ManagePersons", "CreateAntrag"} {
		if !caps[want] {
			t.Fatalf("missing capability %s in %v", want, caps)
		}
	}
	if caps["ManageDoor"] {
		t.Fatal("unexpected ManageDoor")
	}
}

func TestRenewedCookiesAreWritten(t *testing.T) {
	env := newTestEnv(t)
	env.as("chair")
	env.resolver.resolution.Source = auth.SourceRefresh
	env.resolver.resolution.Cookies = []*http.Cookie{{Name: auth.CookieUser, Value: "renewed"}}

	rr := env.do(http.MethodGet, "/api/session", "")
	if got := rr.Header().Get("Set-Cookie"); !strings.Contains(got, "user=renewed") {
		t.Fatalf("expected renewed cookie, got %q", got)
	}
}

func TestLoginStoresStateAndRedirects(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/api/auth/login?redirect=/sitzungen", "")
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}
	location, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	state := location.Query().Get("state")
	if state == "" {
		t.Fatal("expected state in provider url")
	}
	saved, ok := env.logins.states[state]
	if !ok {
		t.Fatal("state was not stored")
	}
	if saved.RedirectTo != "/sitzungen" {
		t.Fatalf("redirect = %q", saved.RedirectTo)
	}
}

func TestCallbackCreatesPersonAndSession(t *testing.T) {
	env := newTestEnv(t)
	env.logins.states = map[string]session.LoginState{"s1": {RedirectTo: "/antraege", CreatedAt: time.Now()}}
	env.resolver.established = auth.Resolution{
		Identity: &auth.Identity{Sub: "abc", Name: "Erika Musterfrau"},
		Source:   auth.SourceClaim,
		Cookies:  []*http.Cookie{{Name: auth.CookieUser, Value: "signed"}},
	}
	var upserted store.NewPerson
	env.repo.upsertPersonFn = func(_ context.Context, input store.NewPerson) (store.Person, error) {
		upserted = input
		return store.Person{ID: uuid.New(), Name: input.Name, UserName: input.UserName}, nil
	}

	rr := env.do(http.MethodGet, "/api/auth/callback?state=s1&code=good", "")
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Location"); got != "/antraege" {
		t.Fatalf("location = %q", got)
	}
	if !strings.Contains(rr.Header().Get("Set-Cookie"), "user=signed") {
		t.Fatal("session cookie missing")
	}
	if upserted.UserName != "keycloak-abc" || upserted.Name != "Erika Musterfrau" {
		t.Fatalf("unexpected person %+v", upserted)
	}
	if env.oauth.exchanged != "good" {
		t.Fatalf("exchanged code %q", env.oauth.exchanged)
	}
	if _, ok := env.logins.states["s1"]; ok {
		t.Fatal("state must be single use")
	}
}

func TestCallbackRejections(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCode   string
	}{
		{name: "unknown state", query: "state=nope&code=good", wantStatus: http.StatusBadRequest, wantCode: "INVALID_STATE"},
		{name: "missing code", query: "state=s1", wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
		{name: "provider error", query: "error=access_denied", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "exchange fails", query: "state=s1&code=bad", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.logins.states = map[string]session.LoginState{"s1": {RedirectTo: "/"}}
			rr := env.do(http.MethodGet, "/api/auth/callback?"+tc.query, "")
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d body=%s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			if code := decodeJSON(t, rr)["code"]; code != tc.wantCode {
				t.Fatalf("code = %v, want %s", code, tc.wantCode)
			}
			if env.unit.opened() != 0 {
				t.Fatal("failed login must not write a person")
			}
		})
	}
}

func TestCallbackEstablishFailureIsServerError(t *testing.T) {
	env := newTestEnv(t)
	env.logins.states = map[string]session.LoginState{"s1": {RedirectTo: "/"}}
	env.resolver.establishErr = errors.New("sign claim: boom")
	rr := env.do(http.MethodGet, "/api/auth/callback?state=s1&code=good", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestLogoutRevokesClaim(t *testing.T) {
	env := newTestEnv(t)
	env.as("chair")
	expires := env.resolver.resolution.ClaimExpiresAt

	rr := env.do(http.MethodPost, "/api/auth/logout", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got, ok := env.logins.revoked["jti-chair"]; !ok || !got.Equal(expires) {
		t.Fatalf("claim not revoked until expiry: %v", env.logins.revoked)
	}
	if !strings.Contains(rr.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Fatalf("expected cleared cookie, got %q", rr.Header().Get("Set-Cookie"))
	}
}

func TestLogoutWithoutSessionOnlyClearsCookies(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPost, "/api/auth/logout", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(env.logins.revoked) != 0 {
		t.Fatalf("nothing to revoke, got %v", env.logins.revoked)
	}
}

func TestSafeRedirect(t *testing.T) {
	s := New(Deps{PostLoginRedirect: "/start"})
	tests := []struct {
		target string
		want   string
	}{
		{"", "/start"},
		{"/sitzungen", "/sitzungen"},
		{"/antraege?offen=1", "/antraege?offen=1"},
		{"//evil.example", "/start"},
		{"https://evil.example/", "/start"},
		{"/\\evil.example", "/start"},
		{"sitzungen", "/start"},
	}
	for _, tc := range tests {
		if got := s.safeRedirect(tc.target); got != tc.want {
			t.Errorf("safeRedirect(%q) = %q, want %q", tc.target, got, tc.want)
		}
	}
}

func TestLoginUnavailableWithoutProvider(t *testing.T) {
	env := newTestEnv(t)
	env.service.oauth = nil
	rr := env.do(http.MethodGet, "/api/auth/login", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
