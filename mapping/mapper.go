package mapping

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/go-fiware-sync/core"
)

const (
	maxEntityIDLength = 256
	forbiddenIDChars  = "<>\"'=;()"

	placeholderType = "{type}"
	placeholderID   = "{id}"
)

type compiledRule struct {
	name      string
	source    string
	ngsiType  string
	transform string
	required  bool
	fallback  any
	metadata  map[string]any
}

// Mapper turns source records into broker entities. It holds no mutable
// state, so a single Mapper is safe for concurrent use.
type Mapper struct {
	entityType string
	idField    string
	idTemplate string
	rules      []compiledRule
}

// Compile validates cfg and prepares a Mapper. With no attribute rules the
// mapper runs in passthrough mode.
func Compile(cfg core.MappingConfig) (*Mapper, error) {
	entityType := strings.TrimSpace(cfg.EntityType)
	if entityType == "" {
		return nil, fmt.Errorf("mapping: entity_type is required")
	}
	if err := validateName(entityType); err != nil {
		return nil, fmt.Errorf("mapping: entity_type: %w", err)
	}
	template := strings.TrimSpace(cfg.IDTemplate)
	if template == "" {
		template = placeholderID
	}
	if !strings.Contains(template, placeholderID) {
		return nil, fmt.Errorf("mapping: id_template %q must contain %s", template, placeholderID)
	}

	mapper := &Mapper{
		entityType: entityType,
		idField:    strings.TrimSpace(cfg.IDField),
		idTemplate: template,
		rules:      make([]compiledRule, 0, len(cfg.Attributes)),
	}
	seen := make(map[string]struct{}, len(cfg.Attributes))
	for _, rule := range cfg.Attributes {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return nil, fmt.Errorf("mapping: attribute name is required")
		}
		if name == "id" || name == "type" {
			return nil, fmt.Errorf("mapping: attribute name %q is reserved", name)
		}
		if err := validateName(name); err != nil {
			return nil, fmt.Errorf("mapping: attribute %q: %w", name, err)
		}
		if _, duplicate := seen[name]; duplicate {
			return nil, fmt.Errorf("mapping: duplicate attribute %q", name)
		}
		seen[name] = struct{}{}

		if !isSupportedTransform(rule.Transform) {
			return nil, fmt.Errorf("mapping: attribute %q: unsupported transform %q", name, rule.Transform)
		}
		source := strings.TrimSpace(rule.Source)
		if source == "" {
			source = name
		}
		ngsiType := strings.TrimSpace(rule.Type)
		if ngsiType == "" {
			ngsiType = transformedType(rule.Transform)
		}
		mapper.rules = append(mapper.rules, compiledRule{
			name:      name,
			source:    source,
			ngsiType:  ngsiType,
			transform: normalizeTransform(rule.Transform),
			required:  rule.Required,
			fallback:  deepCopy(rule.Default),
			metadata:  copyMap(rule.Metadata),
		})
	}
	sort.SliceStable(mapper.rules, func(i, j int) bool {
		return mapper.rules[i].name < mapper.rules[j].name
	})
	return mapper, nil
}

func (m *Mapper) EntityType() string {
	if m == nil {
		return ""
	}
	return m.entityType
}

func (m *Mapper) Passthrough() bool {
	return m != nil && len(m.rules) == 0
}

func (m *Mapper) MapToEntity(record core.SourceRecord) (core.Entity, error) {
	if m == nil {
		return core.Entity{}, core.NewMappingError("mapping: mapper is not configured", nil)
	}
	id, err := m.entityID(record)
	if err != nil {
		return core.Entity{}, err
	}

	entity := core.Entity{
		ID:         id,
		Type:       m.entityType,
		Attributes: map[string]core.Attribute{},
	}
	if m.Passthrough() {
		if err := m.mapPassthrough(record, &entity); err != nil {
			return core.Entity{}, err
		}
		return entity, nil
	}

	for _, rule := range m.rules {
		raw, found := lookupPathValue(record.Attributes, rule.source)
		if !found || raw == nil {
			if rule.required {
				return core.Entity{}, core.NewMappingError(
					fmt.Sprintf("mapping: record %q missing required attribute %q", record.ID, rule.source),
					nil,
					map[string]any{"record_id": record.ID, "attribute": rule.name},
				)
			}
			if rule.fallback == nil {
				continue
			}
			raw = rule.fallback
		}

		value, err := applyTransform(rule.transform, deepCopy(raw))
		if err != nil {
			return core.Entity{}, core.NewMappingError(
				fmt.Sprintf("mapping: record %q attribute %q", record.ID, rule.name),
				err,
				map[string]any{"record_id": record.ID, "attribute": rule.name, "transform": rule.transform},
			)
		}
		ngsiType := rule.ngsiType
		if ngsiType == "" {
			ngsiType = inferType(value)
		}
		entity.Attributes[rule.name] = core.Attribute{
			Type:     ngsiType,
			Value:    value,
			Metadata: copyMap(rule.metadata),
		}
	}
	return entity, nil
}

func (m *Mapper) mapPassthrough(record core.SourceRecord, entity *core.Entity) error {
	skip := map[string]struct{}{"id": {}, "type": {}}
	var idRoot string
	var idRest []string
	if m.idField != "" {
		parts := strings.Split(m.idField, ".")
		if len(parts) == 1 {
			skip[parts[0]] = struct{}{}
		} else {
			idRoot, idRest = parts[0], parts[1:]
		}
	}
	for name, raw := range record.Attributes {
		if _, ok := skip[name]; ok {
			continue
		}
		value := deepCopy(raw)
		if name == idRoot {
			// Nested id fields are removed from their parent object only.
			var keep bool
			if value, keep = withoutPath(value, idRest); !keep {
				continue
			}
		}
		if err := validateName(name); err != nil {
			return core.NewMappingError(
				fmt.Sprintf("mapping: record %q attribute %q", record.ID, name),
				err,
				map[string]any{"record_id": record.ID, "attribute": name},
			)
		}
		entity.Attributes[name] = core.Attribute{
			Type:     inferType(value),
			Value:    value,
			Metadata: map[string]any{},
		}
	}
	return nil
}

func (m *Mapper) entityID(record core.SourceRecord) (string, error) {
	raw := strings.TrimSpace(record.ID)
	if m.idField != "" {
		value, found := lookupPathValue(record.Attributes, m.idField)
		if !found || value == nil {
			return "", core.NewMappingError(
				fmt.Sprintf("mapping: record missing id field %q", m.idField),
				nil,
				map[string]any{"record_id": record.ID, "attribute": m.idField},
			)
		}
		raw = strings.TrimSpace(scalarString(value))
	}
	if raw == "" {
		return "", core.NewMappingError("mapping: record has no id", nil)
	}

	id := strings.ReplaceAll(m.idTemplate, placeholderType, m.entityType)
	id = strings.ReplaceAll(id, placeholderID, raw)
	if err := validateEntityID(id); err != nil {
		return "", core.NewMappingError(
			fmt.Sprintf("mapping: invalid entity id %q", id),
			err,
			map[string]any{"record_id": record.ID},
		)
	}
	return id, nil
}

func validateEntityID(id string) error {
	if id == "" {
		return fmt.Errorf("id is empty")
	}
	if len(id) > maxEntityIDLength {
		return fmt.Errorf("id exceeds %d characters", maxEntityIDLength)
	}
	return validateName(id)
}

// validateName applies the broker's restrictions on ids, types and attribute names.
func validateName(name string) error {
	for _, r := range name {
		if r <= ' ' || r == 0x7f {
			return fmt.Errorf("contains whitespace or control characters")
		}
		if strings.ContainsRune(forbiddenIDChars, r) {
			return fmt.Errorf("contains forbidden character %q", r)
		}
	}
	return nil
}

func inferType(value any) string {
	switch value.(type) {
	case nil:
		return "None"
	case bool:
		return "Boolean"
	case string:
		return "Text"
	case []any, map[string]any:
		return "StructuredValue"
	}
	if _, ok := toNumber(value); ok {
		return "Number"
	}
	return "StructuredValue"
}

func scalarString(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case json.Number:
		return typed.String()
	default:
		return fmt.Sprint(value)
	}
}

func lookupPathValue(root map[string]any, path string) (any, bool) {
	if root == nil {
		return nil, false
	}
	path = strings.TrimSpace(path)
	if value, ok := root[path]; ok {
		return value, true
	}
	current := any(root)
	for _, part := range strings.Split(path, ".") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, false
		}
		switch typed := current.(type) {
		case map[string]any:
			next, exists := typed[part]
			if !exists {
				return nil, false
			}
			current = next
		case []any:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 || index >= len(typed) {
				return nil, false
			}
			current = typed[index]
		default:
			return nil, false
		}
	}
	return current, true
}

// withoutPath deletes the leaf at path from a copied object. It reports false
// when nothing but the leaf was left.
func withoutPath(value any, path []string) (any, bool) {
	object, ok := value.(map[string]any)
	if !ok || len(path) == 0 {
		return value, true
	}
	if len(path) == 1 {
		delete(object, path[0])
		return object, len(object) > 0
	}
	child, found := object[path[0]]
	if !found {
		return object, true
	}
	if trimmed, keep := withoutPath(child, path[1:]); keep {
		object[path[0]] = trimmed
	} else {
		delete(object, path[0])
	}
	return object, len(object) > 0
}

func deepCopy(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return copyMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return value
	}
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = deepCopy(value)
	}
	return out
}

var _ core.EntityMapper = (*Mapper)(nil)
