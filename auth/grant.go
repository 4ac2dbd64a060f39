package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/goliatone/go-fiware-sync/core"
)

// Grant exchanges credentials with the identity server. Returned tokens have
// ExpiresAt set only when the server reported expires_in.
type Grant interface {
	PasswordGrant(ctx context.Context, creds core.Credentials) (core.Token, error)
	RefreshGrant(ctx context.Context, creds core.Credentials, refreshToken string) (core.Token, error)
}

type OAuth2GrantOption func(*OAuth2Grant)

func WithHTTPClient(client *http.Client) OAuth2GrantOption {
	return func(g *OAuth2Grant) {
		if client != nil {
			g.httpClient = client
		}
	}
}

func WithScopes(scopes ...string) OAuth2GrantOption {
	return func(g *OAuth2Grant) {
		g.scopes = append([]string(nil), scopes...)
	}
}

// OAuth2Grant runs the password and refresh_token grants with client
// credentials sent as a Basic authorization header.
type OAuth2Grant struct {
	httpClient *http.Client
	scopes     []string
}

func NewOAuth2Grant(timeout time.Duration, opts ...OAuth2GrantOption) *OAuth2Grant {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	grant := &OAuth2Grant{httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(grant)
		}
	}
	return grant
}

func (g *OAuth2Grant) PasswordGrant(ctx context.Context, creds core.Credentials) (core.Token, error) {
	cfg, err := g.config(creds)
	if err != nil {
		return core.Token{}, err
	}
	if creds.Username == "" {
		return core.Token{}, core.NewAuthError("auth: username is required", nil)
	}
	tok, err := cfg.PasswordCredentialsToken(g.clientContext(ctx), creds.Username, creds.Password)
	if err != nil {
		return core.Token{}, grantError("password grant", err)
	}
	return fromOAuth2Token(tok)
}

func (g *OAuth2Grant) RefreshGrant(ctx context.Context, creds core.Credentials, refreshToken string) (core.Token, error) {
	cfg, err := g.config(creds)
	if err != nil {
		return core.Token{}, err
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.Token{}, core.NewAuthError("auth: refresh token is required", nil)
	}
	tok, err := cfg.TokenSource(g.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return core.Token{}, grantError("refresh grant", err)
	}
	return fromOAuth2Token(tok)
}

func (g *OAuth2Grant) config(creds core.Credentials) (*oauth2.Config, error) {
	creds = creds.Normalize()
	if creds.TokenEndpoint == "" {
		return nil, core.NewAuthError("auth: token endpoint is required", nil)
	}
	if creds.ClientID == "" {
		return nil, core.NewAuthError("auth: client id is required", nil)
	}
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       g.scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  creds.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}, nil
}

func (g *OAuth2Grant) clientContext(ctx context.Context) context.Context {
	if g.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

func fromOAuth2Token(tok *oauth2.Token) (core.Token, error) {
	if tok == nil || strings.TrimSpace(tok.AccessToken) == "" {
		return core.Token{}, core.NewAuthError("auth: token response has no access_token", nil)
	}
	return core.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    firstNonEmpty(tok.TokenType, "Bearer"),
		ExpiresAt:    tok.Expiry.UTC(),
	}, nil
}

func grantError(operation string, err error) error {
	metadata := map[string]any{"operation": operation}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil {
			metadata["status_code"] = retrieveErr.Response.StatusCode
		}
		if retrieveErr.ErrorCode != "" {
			metadata["oauth_error"] = retrieveErr.ErrorCode
		}
	}
	return core.NewAuthError(fmt.Sprintf("auth: %s failed", operation), err, metadata)
}

var _ Grant = (*OAuth2Grant)(nil)
