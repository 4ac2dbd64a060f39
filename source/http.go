package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-fiware-sync/core"
	"github.com/goliatone/go-fiware-sync/transport"
)

// HTTPSource fetches a JSON document with a GET request.
type HTTPSource struct {
	adapter      *transport.RESTAdapter
	url          string
	apiKeyHeader string
	apiKey       string
	recordsPath  string
	idField      string
	timeout      time.Duration
}

func NewHTTPSource(cfg core.SourceConfig, client transport.HTTPDoer) (*HTTPSource, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("source: url is required")
	}
	apiKeyHeader := strings.TrimSpace(cfg.APIKeyHeader)
	if apiKeyHeader == "" && cfg.APIKey != "" {
		apiKeyHeader = "X-API-Key"
	}
	return &HTTPSource{
		adapter:      transport.NewRESTAdapter(client),
		url:          strings.TrimSpace(cfg.URL),
		apiKeyHeader: apiKeyHeader,
		apiKey:       cfg.APIKey,
		recordsPath:  cfg.RecordsPath,
		idField:      cfg.IDField,
		timeout:      cfg.RequestTimeout(),
	}, nil
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]core.SourceRecord, error) {
	headers := map[string]string{"Accept": "application/json"}
	if s.apiKey != "" {
		headers[s.apiKeyHeader] = s.apiKey
	}
	res, err := s.adapter.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     s.url,
		Headers: headers,
		Timeout: s.timeout,
	})
	if err != nil {
		return nil, err
	}
	switch res.Class() {
	case transport.ClassSuccess:
	case transport.ClassTransient:
		return nil, core.NewTransientError(
			fmt.Sprintf("source: %s returned %d", s.url, res.StatusCode), nil,
			map[string]any{"status_code": res.StatusCode},
		)
	default:
		return nil, core.NewPermanentError(
			fmt.Sprintf("source: %s returned %d", s.url, res.StatusCode), nil,
			map[string]any{"status_code": res.StatusCode, "response": transport.Snippet(res.Body)},
		)
	}

	var document any
	if err := json.Unmarshal(res.Body, &document); err != nil {
		return nil, core.NewPermanentError("source: decode response", err, map[string]any{"url": s.url})
	}
	return extractRecords(document, s.recordsPath, s.idField)
}

var _ core.SourceFetcher = (*HTTPSource)(nil)
