package source

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-fiware-sync/core"
	"github.com/goliatone/go-fiware-sync/transport"
)

// New builds the fetcher selected by cfg.Kind.
func New(cfg core.SourceConfig, client transport.HTTPDoer) (core.SourceFetcher, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Kind)) {
	case "", core.SourceKindHTTP:
		return NewHTTPSource(cfg, client)
	case core.SourceKindFile:
		return NewFileSource(cfg)
	default:
		return nil, fmt.Errorf("source: unsupported kind %q", cfg.Kind)
	}
}
