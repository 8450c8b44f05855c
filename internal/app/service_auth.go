package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fachschaft/api/internal/auth"
	"fachschaft/api/internal/session"
	"fachschaft/api/internal/store"
)

const loginStateTTL = 10 * time.Minute

// ResolveActor identifies the caller. Renewed cookies must be written to the
// response.
func (s *Service) ResolveActor(ctx context.Context, r *http.Request) (Actor, auth.Resolution) {
	if s.resolver == nil {
		return Actor{}, auth.Resolution{Source: auth.SourceAnonymous}
	}
	resolution := s.resolver.Resolve(ctx, r)
	return Actor{
		Identity:       resolution.Identity,
		ClaimID:        resolution.ClaimID,
		ClaimExpiresAt: resolution.ClaimExpiresAt,
	}, resolution
}

// BeginLogin stores a one-time state and returns the provider URL to
// redirect the browser to.
func (s *Service) BeginLogin(ctx context.Context, redirectTo string) (string, error) {
	if s.oauth == nil || s.logins == nil {
		return "", errUnavailable("login")
	}
	state, err := randomState()
	if err != nil {
		return "", err
	}
	data := session.LoginState{RedirectTo: s.safeRedirect(redirectTo), CreatedAt: s.now().UTC()}
	if err := s.logins.SaveLoginState(ctx, state, data, loginStateTTL); err != nil {
		return "", err
	}
	return s.oauth.AuthCodeURL(state), nil
}

// CompleteLogin exchanges the authorization code, issues the session cookies
// and makes sure a person row exists for the identity.
func (s *Service) CompleteLogin(ctx context.Context, state, code string) (auth.Resolution, string, error) {
	if s.oauth == nil || s.logins == nil || s.resolver == nil {
		return auth.Resolution{}, "", errUnavailable("login")
	}
	if state == "" || code == "" {
		return auth.Resolution{}, "", errValidation("state and code are required", nil)
	}
	loginState, err := s.logins.ConsumeLoginState(ctx, state)
	if errors.Is(err, session.ErrStateNotFound) {
		return auth.Resolution{}, "", domainError(http.StatusBadRequest, "INVALID_STATE", "Login state expired or unknown", nil)
	}
	if err != nil {
		return auth.Resolution{}, "", err
	}

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.logger.Info().Err(err).Msg("authorization code exchange failed")
		return auth.Resolution{}, "", errUnauthorized()
	}
	resolution, err := s.resolver.Establish(ctx, token)
	if err != nil {
		return auth.Resolution{}, "", fmt.Errorf("establish session: %w", err)
	}

	identity := resolution.Identity
	err = s.write(ctx, func(repo repository) error {
		_, err := repo.UpsertPersonByUserName(ctx, store.NewPerson{
			Name:     Actor{Identity: identity}.displayName(),
			UserName: s.userName(identity),
		})
		return err
	})
	if err != nil {
		return auth.Resolution{}, "", err
	}
	return resolution, s.safeRedirect(loginState.RedirectTo), nil
}

// Logout revokes the current claim until it would expire and returns the
// cookies that clear the session.
func (s *Service) Logout(ctx context.Context, actor Actor) []*http.Cookie {
	if s.logins != nil && actor.ClaimID != "" {
		if err := s.logins.RevokeClaim(ctx, actor.ClaimID, actor.ClaimExpiresAt); err != nil {
			s.logger.Warn().Err(err).Msg("could not revoke claim")
		}
	}
	if s.resolver == nil {
		return nil
	}
	return s.resolver.ClearCookies()
}

// safeRedirect accepts same-origin paths only.
func (s *Service) safeRedirect(target string) string {
	target = strings.TrimSpace(target)
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return s.postLoginRedirect
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host != "" || parsed.Scheme != "" {
		return s.postLoginRedirect
	}
	return target
}

func randomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate login state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
