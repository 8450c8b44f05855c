package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var ErrUserInfo = errors.New("userinfo request failed")

// IdentityProvider is the OAuth2/OIDC surface the API depends on.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, accessToken string) (Identity, error)
}

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string
	Timeout      time.Duration
}

// OAuthProvider talks to the identity provider with a bounded HTTP client.
type OAuthProvider struct {
	config      *oauth2.Config
	userInfoURL string
	client      *http.Client
}

func NewOAuthProvider(cfg OAuthConfig) *OAuthProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile"}
	}
	return &OAuthProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      scopes,
		},
		userInfoURL: cfg.UserInfoURL,
		client:      &http.Client{Timeout: timeout},
	}
}

func (p *OAuthProvider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

func (p *OAuthProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *OAuthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(p.withClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return token, nil
}

// Refresh performs a single refresh-token grant. There is no retry.
func (p *OAuthProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := p.config.TokenSource(p.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return token, nil
}

func (p *OAuthProvider) UserInfo(ctx context.Context, accessToken string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Identity{}, fmt.Errorf("%w: status %d", ErrUserInfo, resp.StatusCode)
	}

	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return Identity{}, fmt.Errorf("%w: decode: %v", ErrUserInfo, err)
	}
	if strings.TrimSpace(identity.Sub) == "" {
		return Identity{}, fmt.Errorf("%w: missing sub", ErrUserInfo)
	}
	// exp is assigned by the caller when the claim is issued
	identity.Exp = 0
	return identity, nil
}
