package security

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-fiware-sync/core"
)

const (
	EnvRefPrefix               = "env:"
	FileRefPrefix              = "file:"
	AWSSecretsManagerRefPrefix = "aws-sm:"

	// AppKeyEnv names the variable holding the key for enc: references.
	AppKeyEnv = "FIWARE_SYNC_APP_KEY"
)

type ResolverOption func(*RefResolver)

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) ResolverOption {
	return func(r *RefResolver) {
		if fn != nil {
			r.lookupEnv = fn
		}
	}
}

func WithReadFile(fn func(string) ([]byte, error)) ResolverOption {
	return func(r *RefResolver) {
		if fn != nil {
			r.readFile = fn
		}
	}
}

func WithAWSSecretsManager(resolver *AWSSecretsManagerResolver) ResolverOption {
	return func(r *RefResolver) {
		r.aws = resolver
	}
}

func WithAppKeyProvider(provider *AppKeySecretProvider) ResolverOption {
	return func(r *RefResolver) {
		r.appKey = provider
	}
}

// RefResolver expands secret references in configuration values. Values
// without a known prefix are returned unchanged.
type RefResolver struct {
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
	aws       *AWSSecretsManagerResolver
	appKey    *AppKeySecretProvider

	newAWS func(ctx context.Context) (*AWSSecretsManagerResolver, error)
}

func NewRefResolver(opts ...ResolverOption) *RefResolver {
	r := &RefResolver{
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
		newAWS: func(ctx context.Context) (*AWSSecretsManagerResolver, error) {
			return NewAWSSecretsManagerResolver(ctx, "")
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *RefResolver) Resolve(ctx context.Context, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(trimmed, EnvRefPrefix):
		name := strings.TrimPrefix(trimmed, EnvRefPrefix)
		resolved, ok := r.lookupEnv(name)
		if !ok {
			return "", core.NewInternalError(fmt.Sprintf("security: environment variable %q is not set", name), nil)
		}
		return resolved, nil

	case strings.HasPrefix(trimmed, FileRefPrefix):
		path := strings.TrimPrefix(trimmed, FileRefPrefix)
		data, err := r.readFile(path)
		if err != nil {
			return "", core.NewInternalError(fmt.Sprintf("security: read secret file %q", path), err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil

	case strings.HasPrefix(trimmed, AWSSecretsManagerRefPrefix):
		if r.aws == nil {
			resolver, err := r.newAWS(ctx)
			if err != nil {
				return "", err
			}
			r.aws = resolver
		}
		return r.aws.Resolve(ctx, strings.TrimPrefix(trimmed, AWSSecretsManagerRefPrefix))

	case strings.HasPrefix(trimmed, EncryptedRefPrefix):
		provider, err := r.appKeyProvider()
		if err != nil {
			return "", err
		}
		return provider.DecryptRef(ctx, trimmed)
	}
	return value, nil
}

// ResolveCredentials expands the secret-bearing credential fields.
func (r *RefResolver) ResolveCredentials(ctx context.Context, creds core.Credentials) (core.Credentials, error) {
	var err error
	if creds.ClientSecret, err = r.Resolve(ctx, creds.ClientSecret); err != nil {
		return core.Credentials{}, err
	}
	if creds.Password, err = r.Resolve(ctx, creds.Password); err != nil {
		return core.Credentials{}, err
	}
	return creds, nil
}

// ResolveConfig returns cfg with every secret reference expanded. Store DSNs
// are left alone since sqlite uses the file: scheme.
func (r *RefResolver) ResolveConfig(ctx context.Context, cfg core.Config) (core.Config, error) {
	fields := []struct {
		name  string
		value *string
	}{
		{"auth.client_secret", &cfg.Auth.ClientSecret},
		{"auth.password", &cfg.Auth.Password},
		{"source.api_key", &cfg.Source.APIKey},
	}
	for _, field := range fields {
		resolved, err := r.Resolve(ctx, *field.value)
		if err != nil {
			return core.Config{}, fmt.Errorf("resolve %s: %w", field.name, err)
		}
		*field.value = resolved
	}
	return cfg, nil
}

func (r *RefResolver) appKeyProvider() (*AppKeySecretProvider, error) {
	if r.appKey != nil {
		return r.appKey, nil
	}
	key, ok := r.lookupEnv(AppKeyEnv)
	if !ok || strings.TrimSpace(key) == "" {
		return nil, core.NewInternalError(fmt.Sprintf("security: %s is required for encrypted values", AppKeyEnv), nil)
	}
	provider, err := NewAppKeySecretProviderFromString(key)
	if err != nil {
		return nil, err
	}
	r.appKey = provider
	return provider, nil
}
