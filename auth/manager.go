package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-fiware-sync/core"
)

const (
	flightKey = "token"

	defaultExpiryMargin = 30 * time.Second
	defaultTokenTTL     = time.Hour
)

type Option func(*TokenManager)

func WithClock(now func() time.Time) Option {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithExpiryMargin(margin time.Duration) Option {
	return func(m *TokenManager) {
		if margin >= 0 {
			m.margin = margin
		}
	}
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *TokenManager) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(m *TokenManager) {
		m.observer.Logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(m *TokenManager) {
		if metrics != nil {
			m.observer.Metrics = metrics
		}
	}
}

func WithTokenStore(store *TokenStore) Option {
	return func(m *TokenManager) {
		if store != nil {
			m.store = store
		}
	}
}

// TokenManager hands out valid access tokens. Every grant runs under one
// singleflight key, so concurrent callers share a single network exchange.
type TokenManager struct {
	grant      Grant
	store      *TokenStore
	flight     singleflight.Group
	now        func() time.Time
	margin     time.Duration
	defaultTTL time.Duration
	observer   core.Observer

	credsMu sync.RWMutex
	creds   core.Credentials
}

func NewTokenManager(creds core.Credentials, grant Grant, opts ...Option) *TokenManager {
	manager := &TokenManager{
		grant:      grant,
		store:      NewTokenStore(),
		now:        func() time.Time { return time.Now().UTC() },
		margin:     defaultExpiryMargin,
		defaultTTL: defaultTokenTTL,
		observer:   core.NewObserver(nil, nil),
		creds:      creds.Normalize(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	return manager
}

func (m *TokenManager) Store() *TokenStore {
	return m.store
}

// Authenticate runs the password grant and replaces the stored token. A
// non-empty creds replaces the credentials used for later re-authentication.
func (m *TokenManager) Authenticate(ctx context.Context, creds core.Credentials) error {
	if normalized := creds.Normalize(); normalized != (core.Credentials{}) {
		m.credsMu.Lock()
		m.creds = normalized
		m.credsMu.Unlock()
	}
	_, err := m.do(ctx, func(ctx context.Context) (core.Token, error) {
		return m.authenticate(ctx)
	})
	return err
}

// Refresh runs the refresh_token grant and falls back to a full
// authentication when the refresh is rejected.
func (m *TokenManager) Refresh(ctx context.Context) error {
	_, err := m.do(ctx, m.refresh)
	return err
}

func (m *TokenManager) GetValidToken(ctx context.Context) (string, error) {
	if current := m.store.Load(); current.ValidAt(m.now(), m.margin) {
		return current.AccessToken, nil
	}
	token, err := m.do(ctx, func(ctx context.Context) (core.Token, error) {
		if current := m.store.Load(); current.ValidAt(m.now(), m.margin) {
			return current, nil
		}
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// ForceRefresh is called after the broker rejected the given token. When
// another caller already replaced it, the stored token is returned as is.
func (m *TokenManager) ForceRefresh(ctx context.Context, rejected string) (string, error) {
	rejected = strings.TrimSpace(rejected)
	replaced := func() (core.Token, bool) {
		current := m.store.Load()
		if current.AccessToken != rejected && current.ValidAt(m.now(), 0) {
			return current, true
		}
		return core.Token{}, false
	}
	if current, ok := replaced(); ok {
		return current.AccessToken, nil
	}
	token, err := m.do(ctx, func(ctx context.Context) (core.Token, error) {
		if current, ok := replaced(); ok {
			return current, nil
		}
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// do runs fn as the single in-flight grant. The flight is detached from the
// caller's cancellation so one impatient caller cannot fail the others.
func (m *TokenManager) do(ctx context.Context, fn func(context.Context) (core.Token, error)) (core.Token, error) {
	if m.grant == nil {
		return core.Token{}, core.NewAuthError("auth: token grant is not configured", nil)
	}
	flightCtx := context.WithoutCancel(ctx)
	result := m.flight.DoChan(flightKey, func() (any, error) {
		return fn(flightCtx)
	})
	select {
	case <-ctx.Done():
		return core.Token{}, core.NewAuthError("auth: token request abandoned", ctx.Err())
	case res := <-result:
		if res.Err != nil {
			return core.Token{}, res.Err
		}
		return res.Val.(core.Token), nil
	}
}

func (m *TokenManager) authenticate(ctx context.Context) (token core.Token, err error) {
	startedAt := time.Now()
	defer func() {
		m.observer.ObserveOperation(ctx, startedAt, "auth authenticate", err, m.tokenFields(token))
	}()

	token, err = m.grant.PasswordGrant(ctx, m.credentials())
	if err != nil {
		m.store.Clear()
		return core.Token{}, err
	}
	token = m.withExpiry(token)
	m.store.Replace(token)
	return token, nil
}

func (m *TokenManager) refresh(ctx context.Context) (token core.Token, err error) {
	refreshToken := m.store.Load().RefreshToken
	if strings.TrimSpace(refreshToken) == "" {
		return m.authenticate(ctx)
	}

	startedAt := time.Now()
	token, err = m.grant.RefreshGrant(ctx, m.credentials(), refreshToken)
	m.observer.ObserveOperation(ctx, startedAt, "auth refresh", err, m.tokenFields(token))
	if err != nil {
		m.observer.Warn(ctx, "refresh grant rejected, re-authenticating", map[string]any{
			"error": err.Error(),
		})
		return m.authenticate(ctx)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	token = m.withExpiry(token)
	m.store.Replace(token)
	return token, nil
}

// withExpiry fills ExpiresAt from the JWT exp claim or the default TTL when
// the server did not report expires_in.
func (m *TokenManager) withExpiry(token core.Token) core.Token {
	if !token.ExpiresAt.IsZero() {
		return token
	}
	if exp, ok := jwtExpiry(token.AccessToken); ok {
		token.ExpiresAt = exp
		return token
	}
	token.ExpiresAt = m.now().Add(m.defaultTTL)
	return token
}

func (m *TokenManager) credentials() core.Credentials {
	m.credsMu.RLock()
	defer m.credsMu.RUnlock()
	return m.creds
}

func (m *TokenManager) tokenFields(token core.Token) map[string]any {
	creds := m.credentials()
	fields := map[string]any{
		"token_endpoint": creds.TokenEndpoint,
		"client_id":      creds.ClientID,
	}
	if !token.IsZero() {
		fields["token_id"] = tokenFingerprint(token.AccessToken)
		fields["expires_at"] = token.ExpiresAt.Format(time.RFC3339)
	}
	return fields
}

var _ core.TokenProvider = (*TokenManager)(nil)
