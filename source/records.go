package source

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-fiware-sync/core"
)

// extractRecords walks recordsPath to the record array and turns every object
// in it into a SourceRecord keyed by idField.
func extractRecords(document any, recordsPath string, idField string) ([]core.SourceRecord, error) {
	node := document
	recordsPath = strings.TrimSpace(recordsPath)
	if recordsPath != "" {
		for _, part := range strings.Split(recordsPath, ".") {
			object, ok := node.(map[string]any)
			if !ok {
				return nil, core.NewPermanentError(
					fmt.Sprintf("source: records path %q does not resolve to an object at %q", recordsPath, part),
					nil,
					map[string]any{"records_path": recordsPath},
				)
			}
			next, exists := object[part]
			if !exists {
				return nil, core.NewPermanentError(
					fmt.Sprintf("source: records path %q not found", recordsPath),
					nil,
					map[string]any{"records_path": recordsPath},
				)
			}
			node = next
		}
	}

	items, ok := node.([]any)
	if !ok {
		return nil, core.NewPermanentError(fmt.Sprintf("source: expected a record array, got %T", node), nil)
	}
	records := make([]core.SourceRecord, 0, len(items))
	for i, item := range items {
		attributes, ok := normalizeObject(item)
		if !ok {
			return nil, core.NewPermanentError(
				fmt.Sprintf("source: record %d is not an object", i),
				nil,
				map[string]any{"record_index": i},
			)
		}
		records = append(records, core.SourceRecord{
			ID:         recordID(attributes, idField),
			Attributes: attributes,
		})
	}
	return records, nil
}

func recordID(attributes map[string]any, idField string) string {
	idField = strings.TrimSpace(idField)
	if idField == "" {
		idField = "id"
	}
	value, ok := attributes[idField]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case json.Number:
		return typed.String()
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}

// normalizeObject converts map[any]any nodes into map[string]any recursively.
func normalizeObject(value any) (map[string]any, bool) {
	switch typed := normalizeValue(value).(type) {
	case map[string]any:
		return typed, true
	default:
		return nil, false
	}
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, nested := range typed {
			out[key] = normalizeValue(nested)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, nested := range typed {
			out[fmt.Sprint(key)] = normalizeValue(nested)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, nested := range typed {
			out[i] = normalizeValue(nested)
		}
		return out
	default:
		return value
	}
}
