package mapping

import (
	"reflect"
	"strings"
	"testing"

	"github.com/goliatone/go-fiware-sync/core"
)

func TestMapToEntity_PassthroughInfersTypes(t *testing.T) {
	mapper, err := Compile(core.MappingConfig{EntityType: "StreetLight"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	record := core.SourceRecord{
		ID: "light-1",
		Attributes: map[string]any{
			"id":     "light-1",
			"coords": []any{61.5, 23.8},
		},
	}

	entity, err := mapper.MapToEntity(record)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if entity.ID != "light-1" || entity.Type != "StreetLight" {
		t.Fatalf("unexpected identity %q/%q", entity.ID, entity.Type)
	}
	if len(entity.Attributes) != 1 {
		t.Fatalf("expected only coords attribute, got %v", entity.AttributeNames())
	}
	coords := entity.Attributes["coords"]
	if coords.Type != "StructuredValue" {
		t.Fatalf("expected StructuredValue, got %q", coords.Type)
	}
	if !reflect.DeepEqual(coords.Value, []any{61.5, 23.8}) {
		t.Fatalf("unexpected coords value %v", coords.Value)
	}
}

func TestMapToEntity_PassthroughDropsOnlyNestedIDField(t *testing.T) {
	mapper, err := Compile(core.MappingConfig{EntityType: "StreetLight", IDField: "meta.id"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	record := core.SourceRecord{
		ID: "row-7",
		Attributes: map[string]any{
			"meta":   map[string]any{"id": "light-7", "vendor": "acme"},
			"status": "on",
		},
	}

	entity, err := mapper.MapToEntity(record)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if entity.ID != "light-7" {
		t.Fatalf("expected id from nested field, got %q", entity.ID)
	}
	meta, ok := entity.Attributes["meta"]
	if !ok || !reflect.DeepEqual(meta.Value, map[string]any{"vendor": "acme"}) {
		t.Fatalf("expected meta without id, got %+v", meta)
	}
	if _, ok := entity.Attributes["status"]; !ok {
		t.Fatalf("expected status attribute, got %v", entity.AttributeNames())
	}
	if record.Attributes["meta"].(map[string]any)["id"] != "light-7" {
		t.Fatalf("expected source record left untouched")
	}

	only := core.SourceRecord{ID: "row-8", Attributes: map[string]any{"meta": map[string]any{"id": "light-8"}}}
	entity, err = mapper.MapToEntity(only)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if _, ok := entity.Attributes["meta"]; ok {
		t.Fatalf("expected object holding only the id to be dropped")
	}
}

func TestMapToEntity_DoesNotMutateInput(t *testing.T) {
	mapper, err := Compile(core.MappingConfig{EntityType: "StreetLight"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	coords := []any{61.5, 23.8}
	record := core.SourceRecord{ID: "light-1", Attributes: map[string]any{"coords": coords}}

	entity, err := mapper.MapToEntity(record)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	entity.Attributes["coords"].Value.([]any)[0] = 0.0
	if coords[0] != 61.5 {
		t.Fatalf("expected source record to stay untouched, got %v", coords)
	}

	again, err := mapper.MapToEntity(record)
	if err != nil {
		t.Fatalf("second map: %v", err)
	}
	if !reflect.DeepEqual(again.Attributes["coords"].Value, []any{61.5, 23.8}) {
		t.Fatalf("expected deterministic output, got %v", again.Attributes["coords"].Value)
	}
}

func TestMapToEntity_RulesTransformsAndDefaults(t *testing.T) {
	mapper, err := Compile(core.MappingConfig{
		EntityType: "Streetlight",
		IDField:    "device.serial",
		IDTemplate: "urn:ngsi-ld:{type}:{id}",
		Attributes: []core.AttributeRule{
			{Name: "location", Source: "coords", Transform: "geo_point", Required: true},
			{Name: "status", Source: "state", Transform: "lowercase"},
			{Name: "power", Source: "watts", Transform: "to_float", Type: "Number"},
			{Name: "dateObserved", Source: "ts", Transform: "unix_time_to_rfc3339"},
			{Name: "owner", Default: "city", Metadata: map[string]any{"source": map[string]any{"type": "Text", "value": "config"}}},
			{Name: "note"},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	record := core.SourceRecord{
		ID: "ignored",
		Attributes: map[string]any{
			"device": map[string]any{"serial": 42.0},
			"coords": []any{61.5, 23.8},
			"state":  "ON",
			"watts":  "35.5",
			"ts":     1700000000,
		},
	}

	entity, err := mapper.MapToEntity(record)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if entity.ID != "urn:ngsi-ld:Streetlight:42" {
		t.Fatalf("unexpected id %q", entity.ID)
	}

	location := entity.Attributes["location"]
	if location.Type != "geo:json" {
		t.Fatalf("expected geo:json, got %q", location.Type)
	}
	point := location.Value.(map[string]any)
	if point["type"] != "Point" || !reflect.DeepEqual(point["coordinates"], []any{23.8, 61.5}) {
		t.Fatalf("expected [lon, lat] point, got %v", point)
	}
	if got := entity.Attributes["status"]; got.Value != "on" || got.Type != "Text" {
		t.Fatalf("unexpected status %+v", got)
	}
	if got := entity.Attributes["power"]; got.Value != 35.5 {
		t.Fatalf("unexpected power %+v", got)
	}
	if got := entity.Attributes["dateObserved"]; got.Type != "DateTime" || got.Value != "2023-11-14T22:13:20Z" {
		t.Fatalf("unexpected dateObserved %+v", got)
	}
	owner := entity.Attributes["owner"]
	if owner.Value != "city" || owner.Metadata["source"] == nil {
		t.Fatalf("expected default owner with metadata, got %+v", owner)
	}
	if _, ok := entity.Attributes["note"]; ok {
		t.Fatalf("expected missing optional attribute to be omitted")
	}
}

func TestMapToEntity_MappingErrors(t *testing.T) {
	mapper, err := Compile(core.MappingConfig{
		EntityType: "Streetlight",
		Attributes: []core.AttributeRule{
			{Name: "location", Source: "coords", Transform: "geo_point", Required: true},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cases := map[string]core.SourceRecord{
		"missing required": {ID: "a", Attributes: map[string]any{}},
		"bad transform":    {ID: "a", Attributes: map[string]any{"coords": "nowhere"}},
		"out of range":     {ID: "a", Attributes: map[string]any{"coords": []any{123.0, 10.0}}},
		"missing id":       {Attributes: map[string]any{"coords": []any{1.0, 2.0}}},
		"bad id":           {ID: "light one", Attributes: map[string]any{"coords": []any{1.0, 2.0}}},
		"long id":          {ID: strings.Repeat("x", 257), Attributes: map[string]any{"coords": []any{1.0, 2.0}}},
	}
	for name, record := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := mapper.MapToEntity(record)
			if err == nil {
				t.Fatalf("expected mapping error")
			}
			if !core.IsMappingError(err) {
				t.Fatalf("expected MappingError, got %v", err)
			}
		})
	}
}

func TestCompile_RejectsInvalidRules(t *testing.T) {
	cases := map[string]core.MappingConfig{
		"no type":        {},
		"reserved name":  {EntityType: "T", Attributes: []core.AttributeRule{{Name: "type"}}},
		"duplicate name": {EntityType: "T", Attributes: []core.AttributeRule{{Name: "a"}, {Name: "a"}}},
		"transform":      {EntityType: "T", Attributes: []core.AttributeRule{{Name: "a", Transform: "rot13"}}},
		"template":       {EntityType: "T", IDTemplate: "{type}"},
		"bad attr name":  {EntityType: "T", Attributes: []core.AttributeRule{{Name: "a(b)"}}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Compile(cfg); err == nil {
				t.Fatalf("expected compile error")
			}
		})
	}
}

func TestGeoPoint_AcceptsObjectInput(t *testing.T) {
	value, err := applyTransform("geo_point", map[string]any{"lat": "61.5", "lng": 23.8})
	if err != nil {
		t.Fatalf("geo point: %v", err)
	}
	point := value.(map[string]any)
	if !reflect.DeepEqual(point["coordinates"], []any{23.8, 61.5}) {
		t.Fatalf("unexpected coordinates %v", point["coordinates"])
	}
}

func TestTransforms_Conversions(t *testing.T) {
	cases := []struct {
		transform string
		input     any
		want      any
	}{
		{"to_int", "12", int64(12)},
		{"to_int", 12.9, int64(12)},
		{"to_float", 3, 3.0},
		{"to_bool", "on", true},
		{"to_bool", 0, false},
		{"to_string", 1.5, "1.5"},
		{"trim", "  a ", "a"},
		{"uppercase", "a", "A"},
	}
	for _, tc := range cases {
		got, err := applyTransform(tc.transform, tc.input)
		if err != nil {
			t.Fatalf("%s(%v): %v", tc.transform, tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("%s(%v): expected %v (%T), got %v (%T)", tc.transform, tc.input, tc.want, tc.want, got, got)
		}
	}
	if _, err := applyTransform("trim", 1); err == nil {
		t.Fatalf("expected strict string transform to reject numbers")
	}
}
