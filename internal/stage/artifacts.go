package stage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Artifacts holds the values a caller has on hand, keyed by the field that
// carries them. FieldCode means source text here; generated code is never
// stored in an Artifacts set.
//
// Values are raw JSON and are forwarded byte for byte.
type Artifacts map[Field]json.RawMessage

// SourceArtifacts returns a set containing only the encoded source text.
func SourceArtifacts(source string) (Artifacts, error) {
	raw, err := EncodeSource(source)
	if err != nil {
		return nil, err
	}
	return Artifacts{FieldCode: raw}, nil
}

// Has reports whether field holds a usable value.
func (a Artifacts) Has(field Field) bool {
	if a == nil {
		return false
	}
	return Present(a[field])
}

// Get returns the value stored under field.
func (a Artifacts) Get(field Field) (json.RawMessage, bool) {
	if !a.Has(field) {
		return nil, false
	}
	return a[field], true
}

// Clone returns a shallow copy; raw values are shared but never mutated.
func (a Artifacts) Clone() Artifacts {
	out := make(Artifacts, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Present reports whether raw is a non-empty, non-null JSON value.
func Present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	return !bytes.Equal(trimmed, []byte("null"))
}

// ErrInvalidUTF8 reports source text that cannot travel as a JSON string
// without being altered.
var ErrInvalidUTF8 = errors.New("source is not valid UTF-8")

// EncodeSource turns source text into the JSON string sent as `code`.
// Source that is not valid UTF-8 is rejected rather than repaired.
func EncodeSource(source string) (json.RawMessage, error) {
	if !utf8.ValidString(source) {
		return nil, fmt.Errorf("encode source: %w", ErrInvalidUTF8)
	}
	raw, err := json.Marshal(source)
	if err != nil {
		return nil, fmt.Errorf("encode source: %w", err)
	}
	return raw, nil
}

// DecodeCode extracts generated code from the raw `code` member.
func DecodeCode(raw json.RawMessage) (string, error) {
	var code string
	if err := json.Unmarshal(raw, &code); err != nil {
		return "", fmt.Errorf("code is not a JSON string: %w", err)
	}
	return code, nil
}
