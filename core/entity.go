package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type Attribute struct {
	Type     string         `json:"type"`
	Value    any            `json:"value"`
	Metadata map[string]any `json:"metadata"`
}

// Entity is the NGSI-v2 normalized representation: id and type are plain
// strings and every other key is an attribute object.
type Entity struct {
	ID         string
	Type       string
	Attributes map[string]Attribute
}

func (e Entity) AttributeNames() []string {
	names := make([]string, 0, len(e.Attributes))
	for name := range e.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AttributesPayload is the body used for attribute append/update requests.
func (e Entity) AttributesPayload() map[string]Attribute {
	out := make(map[string]Attribute, len(e.Attributes))
	for name, attr := range e.Attributes {
		out[name] = attr.normalized()
	}
	return out
}

func (e Entity) MarshalJSON() ([]byte, error) {
	payload := make(map[string]any, len(e.Attributes)+2)
	for name, attr := range e.Attributes {
		payload[name] = attr.normalized()
	}
	payload["id"] = e.ID
	payload["type"] = e.Type
	return json.Marshal(payload)
}

func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Entity{Attributes: map[string]Attribute{}}
	for key, value := range raw {
		switch key {
		case "id":
			if err := json.Unmarshal(value, &out.ID); err != nil {
				return fmt.Errorf("core: decode entity id: %w", err)
			}
		case "type":
			if err := json.Unmarshal(value, &out.Type); err != nil {
				return fmt.Errorf("core: decode entity type: %w", err)
			}
		default:
			var attr Attribute
			if err := json.Unmarshal(value, &attr); err != nil {
				return fmt.Errorf("core: decode attribute %q: %w", key, err)
			}
			out.Attributes[key] = attr.normalized()
		}
	}
	*e = out
	return nil
}

func (a Attribute) normalized() Attribute {
	out := Attribute{
		Type:     strings.TrimSpace(a.Type),
		Value:    a.Value,
		Metadata: a.Metadata,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return out
}
