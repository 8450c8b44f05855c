package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	CookieUser         = "user"
	CookieAccessToken  = "access_token"
	CookieRefreshToken = "refresh_token"

	CookieMaxAge = 30 * 24 * time.Hour
)

// Source names how a request was authenticated.
type Source string

const (
	SourceAnonymous   Source = "anonymous"
	SourceClaim       Source = "claim"
	SourceRefresh     Source = "refresh"
	SourceBearer      Source = "bearer"
	SourceAccessToken Source = "access_token"
)

// RevocationChecker reports revoked claim ids. Optional.
type RevocationChecker interface {
	IsClaimRevoked(ctx context.Context, jti string) (bool, error)
}

// Resolution is the outcome of resolving one request. Cookies must be
// written to the response when non-empty.
type Resolution struct {
	Identity *Identity
	Source   Source
	ClaimID  string
	// ClaimExpiresAt is set when the identity came from or produced a claim.
	ClaimExpiresAt time.Time
	Cookies        []*http.Cookie
}

func (r Resolution) Authenticated() bool {
	return r.Identity != nil
}

type ResolverConfig struct {
	Secret  []byte
	Timeout time.Duration
	// Insecure drops the Secure cookie attribute for local development.
	Insecure bool
	Now      func() time.Time
}

// Resolver turns cookies and headers into an identity, refreshing through
// the identity provider when the short-lived claim runs out.
type Resolver struct {
	provider IdentityProvider
	sealer   *Sealer
	revoked  RevocationChecker
	secret   []byte
	timeout  time.Duration
	secure   bool
	now      func() time.Time
	logger   zerolog.Logger
}

func NewResolver(provider IdentityProvider, sealer *Sealer, revoked RevocationChecker, cfg ResolverConfig, logger zerolog.Logger) *Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		provider: provider,
		sealer:   sealer,
		revoked:  revoked,
		secret:   cfg.Secret,
		timeout:  timeout,
		secure:   !cfg.Insecure,
		now:      now,
		logger:   logger,
	}
}

// Resolve applies, first match wins: a fresh claim; a stale claim refreshed
// with the refresh cookie; a bearer header; a refresh cookie; an access
// token cookie. Anything else, and every failure, is anonymous.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) Resolution {
	anonymous := Resolution{Source: SourceAnonymous}
	now := r.now()

	if raw := cookieValue(req, CookieUser); raw != "" {
		claims, err := ParseUserToken(r.secret, raw, now)
		switch {
		case err == nil && !claims.NearExpiry(now, RefreshSkew):
			if r.isRevoked(ctx, claims.ID) {
				return anonymous
			}
			identity := claims.Identity()
			return Resolution{Identity: &identity, Source: SourceClaim, ClaimID: claims.ID, ClaimExpiresAt: claims.ExpiresAt.Time}
		case err == nil || errors.Is(err, ErrExpiredToken):
			if err == nil && r.isRevoked(ctx, claims.ID) {
				return anonymous
			}
			return r.refresh(ctx, req)
		}
		// an unreadable claim counts as no claim
	}

	if token, ok := BearerToken(req.Header.Get("Authorization")); ok {
		return r.fromAccessToken(ctx, token, SourceBearer)
	}
	if cookieValue(req, CookieRefreshToken) != "" {
		return r.refresh(ctx, req)
	}
	if sealed := cookieValue(req, CookieAccessToken); sealed != "" {
		token, err := r.sealer.Open(CookieAccessToken, sealed)
		if err != nil {
			return anonymous
		}
		return r.fromAccessToken(ctx, token, SourceAccessToken)
	}
	return anonymous
}

func (r *Resolver) isRevoked(ctx context.Context, jti string) bool {
	if r.revoked == nil {
		return false
	}
	revoked, err := r.revoked.IsClaimRevoked(ctx, jti)
	if err != nil {
		r.logger.Warn().Err(err).Msg("revocation check failed")
		return false
	}
	return revoked
}

func (r *Resolver) fromAccessToken(ctx context.Context, accessToken string, source Source) Resolution {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	identity, err := r.provider.UserInfo(ctx, accessToken)
	if err != nil {
		r.logger.Debug().Err(err).Str("source", string(source)).Msg("userinfo lookup failed")
		return Resolution{Source: SourceAnonymous}
	}
	identity.Exp = r.now().Add(ClaimTTL).Unix()
	return Resolution{Identity: &identity, Source: source}
}

// refresh performs one token exchange and one userinfo call, no retries.
func (r *Resolver) refresh(ctx context.Context, req *http.Request) Resolution {
	anonymous := Resolution{Source: SourceAnonymous}
	sealed := cookieValue(req, CookieRefreshToken)
	if sealed == "" {
		return anonymous
	}
	refreshToken, err := r.sealer.Open(CookieRefreshToken, sealed)
	if err != nil {
		return anonymous
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	token, err := r.provider.Refresh(ctx, refreshToken)
	if err != nil {
		r.logger.Info().Err(err).Msg("token refresh failed")
		return anonymous
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	resolution, err := r.Establish(ctx, token)
	if err != nil {
		r.logger.Info().Err(err).Msg("token refresh failed")
		return anonymous
	}
	resolution.Source = SourceRefresh
	return resolution
}

// Establish resolves the identity behind a fresh provider token and builds
// the claim and token cookies for it. Used after refresh and after login.
func (r *Resolver) Establish(ctx context.Context, token *oauth2.Token) (Resolution, error) {
	identity, err := r.provider.UserInfo(ctx, token.AccessToken)
	if err != nil {
		return Resolution{}, err
	}
	signed, claims, err := IssueUserToken(r.secret, identity, r.now(), ClaimTTL)
	if err != nil {
		return Resolution{}, err
	}
	identity = claims.Identity()

	access, err := r.sealer.Seal(CookieAccessToken, token.AccessToken)
	if err != nil {
		return Resolution{}, err
	}
	cookies := []*http.Cookie{
		r.cookie(CookieUser, signed, CookieMaxAge),
		r.cookie(CookieAccessToken, access, CookieMaxAge),
	}
	if token.RefreshToken != "" {
		refresh, err := r.sealer.Seal(CookieRefreshToken, token.RefreshToken)
		if err != nil {
			return Resolution{}, err
		}
		cookies = append(cookies, r.cookie(CookieRefreshToken, refresh, CookieMaxAge))
	}

	return Resolution{
		Identity:       &identity,
		Source:         SourceClaim,
		ClaimID:        claims.ID,
		ClaimExpiresAt: claims.ExpiresAt.Time,
		Cookies:        cookies,
	}, nil
}

// ClearCookies expires every auth cookie.
func (r *Resolver) ClearCookies() []*http.Cookie {
	return []*http.Cookie{
		r.cookie(CookieUser, "", -1),
		r.cookie(CookieAccessToken, "", -1),
		r.cookie(CookieRefreshToken, "", -1),
	}
}

func (r *Resolver) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	age := int(maxAge / time.Second)
	if maxAge < 0 {
		age = -1
	}
	sameSite := http.SameSiteNoneMode
	if !r.secure {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   age,
		HttpOnly: name != CookieUser,
		Secure:   r.secure,
		SameSite: sameSite,
	}
}

func cookieValue(req *http.Request, name string) string {
	cookie, err := req.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// BearerToken extracts the token from an "Authorization: Bearer x" header.
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}
