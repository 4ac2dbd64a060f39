package source

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-fiware-sync/core"
)

// FileSource re-reads a JSON or YAML document on every fetch.
type FileSource struct {
	path        string
	recordsPath string
	idField     string
}

func NewFileSource(cfg core.SourceConfig) (*FileSource, error) {
	path := strings.TrimSpace(cfg.FilePath)
	if path == "" {
		return nil, fmt.Errorf("source: file path is required")
	}
	return &FileSource{path: path, recordsPath: cfg.RecordsPath, idField: cfg.IDField}, nil
}

func (s *FileSource) Fetch(ctx context.Context) ([]core.SourceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, core.NewTransientError("source: read file", err, map[string]any{"path": s.path})
	}
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, core.NewPermanentError("source: decode file", err, map[string]any{"path": s.path})
	}
	return extractRecords(document, s.recordsPath, s.idField)
}

var _ core.SourceFetcher = (*FileSource)(nil)
