// domain/schema.go
package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldAccess says who may write a field and when.
type FieldAccess int

const (
	// FieldSystem fields are written by the service only.
	FieldSystem FieldAccess = iota
	// FieldImmutable fields are set by the client at creation and never changed.
	FieldImmutable
	// FieldMutable fields are set by the client at creation and may be updated later.
	FieldMutable
)

type Field struct {
	Name   string
	Access FieldAccess
	// Aliases are older client spellings accepted on input and rewritten to
	// Name.
	Aliases []string
}

// Schema is the single field table for an entity. Every mutation path filters
// client input through it.
type Schema struct {
	Entity string
	Fields []Field
}

// VideoSchema describes the video record.
var VideoSchema = Schema{
	Entity: "video",
	Fields: []Field{
		{Name: "id", Access: FieldSystem},
		{Name: "ownerId", Access: FieldSystem, Aliases: []string{"userID"}},
		{Name: "uploadStatus", Access: FieldSystem},
		{Name: "storageKey", Access: FieldSystem, Aliases: []string{"videoURL"}},
		{Name: "jobEnqueuedAt", Access: FieldSystem},
		{Name: "createdAt", Access: FieldSystem},
		{Name: "updatedAt", Access: FieldSystem},
		{Name: "contentType", Access: FieldImmutable},
		{Name: "title", Access: FieldMutable, Aliases: []string{"videoTitle"}},
		{Name: "description", Access: FieldMutable, Aliases: []string{"desc"}},
		{Name: "tags", Access: FieldMutable},
		{Name: "thumbnailUrl", Access: FieldMutable, Aliases: []string{"imgURL"}},
	},
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// lookup resolves a client key to its field. The bool result reports whether
// key is the canonical name.
func (s Schema) lookup(key string) (Field, bool, bool) {
	for _, f := range s.Fields {
		if f.Name == key {
			return f, true, true
		}
		for _, alias := range f.Aliases {
			if alias == key {
				return f, false, true
			}
		}
	}
	return Field{}, false, false
}

// canonical rewrites aliased keys to field names, keeping the canonical
// spelling when a client sends both. Unknown keys are dropped.
func (s Schema) canonical(input map[string]json.RawMessage) map[string]Field {
	fields := make(map[string]Field, len(input))
	keys := make(map[string]string, len(input))
	for key := range input {
		f, isName, ok := s.lookup(key)
		if !ok {
			continue
		}
		if prev, seen := keys[f.Name]; seen {
			if prev == f.Name || !isName {
				continue
			}
			delete(fields, prev)
		}
		keys[f.Name] = key
		fields[key] = f
	}
	return fields
}

// Filter keeps only the fields a client may set at creation, keyed by field
// name. Unknown and system fields are dropped without error.
func (s Schema) Filter(input map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(input))
	for key, f := range s.canonical(input) {
		if f.Access != FieldSystem {
			out[f.Name] = input[key]
		}
	}
	return out
}

// CheckUpdate rejects an update that touches anything but mutable fields.
// Unknown fields are dropped like in Filter.
func (s Schema) CheckUpdate(input map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(input))
	var denied []string
	for key, f := range s.canonical(input) {
		if f.Access != FieldMutable {
			denied = append(denied, f.Name)
			continue
		}
		out[f.Name] = input[key]
	}
	if len(denied) > 0 {
		sort.Strings(denied)
		return nil, fmt.Errorf("%s: fields %s cannot be modified: %w", s.Entity, strings.Join(denied, ", "), ErrInvalidArgument)
	}
	return out, nil
}

// ApplyUpdate merges a client update into current and validates the result.
// A JSON null clears a field.
func ApplyUpdate(current VideoMetadata, input map[string]json.RawMessage) (VideoMetadata, error) {
	fields, err := VideoSchema.CheckUpdate(input)
	if err != nil {
		return current, err
	}
	if len(fields) == 0 {
		return current, fmt.Errorf("update carries no modifiable field: %w", ErrInvalidArgument)
	}

	b, err := json.Marshal(current)
	if err != nil {
		return current, fmt.Errorf("metadata: %v: %w", err, ErrInvalidArgument)
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &merged); err != nil {
		return current, fmt.Errorf("metadata: %v: %w", err, ErrInvalidArgument)
	}
	for name, raw := range fields {
		merged[name] = raw
	}

	next, err := decodeMetadata(merged)
	if err != nil {
		return current, err
	}
	return next, nil
}

// DecodeMetadata filters input through the video schema and returns the
// validated metadata together with the requested content type.
func DecodeMetadata(input map[string]json.RawMessage) (VideoMetadata, string, error) {
	fields := VideoSchema.Filter(input)

	var contentType string
	if raw, ok := fields["contentType"]; ok {
		if err := json.Unmarshal(raw, &contentType); err != nil {
			return VideoMetadata{}, "", fmt.Errorf("contentType: %v: %w", err, ErrInvalidArgument)
		}
		delete(fields, "contentType")
	}

	meta, err := decodeMetadata(fields)
	if err != nil {
		return meta, "", err
	}
	return meta, contentType, nil
}

func decodeMetadata(fields map[string]json.RawMessage) (VideoMetadata, error) {
	var meta VideoMetadata
	b, err := json.Marshal(fields)
	if err != nil {
		return meta, fmt.Errorf("metadata: %v: %w", err, ErrInvalidArgument)
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return meta, fmt.Errorf("metadata: %v: %w", err, ErrInvalidArgument)
	}
	if err := validate.Struct(meta); err != nil {
		return meta, fmt.Errorf("metadata: %v: %w", err, ErrInvalidArgument)
	}
	return meta, nil
}
