// Package bundle persists stage artifacts between single-stage runs.
//
// A bundle is a msgpack file holding the source text and every intermediate
// artifact collected so far, so `kururi stage` can pick up where a previous
// invocation stopped.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"kururi/internal/stage"
)

// Current schema version - increment when the Bundle layout changes.
const schemaVersion uint16 = 1

// ErrSchema reports a bundle written by an incompatible version.
var ErrSchema = errors.New("bundle schema mismatch")

// Bundle is the on-disk form of a set of artifacts.
//
// Fields holds stage inputs only; its "code" member is the source text.
// Generated code lives in Generated so it can never replace the source.
type Bundle struct {
	Schema uint16 `msgpack:"schema"`
	// SourceHash is the hex SHA-256 of the source the artifacts came from.
	SourceHash string            `msgpack:"source_hash"`
	Fields     map[string][]byte `msgpack:"fields"`
	Generated  []byte            `msgpack:"generated,omitempty"`
	UpdatedAt  time.Time         `msgpack:"updated_at"`
}

// FromArtifacts captures a. The source hash is taken from the code member
// when present.
func FromArtifacts(a stage.Artifacts) *Bundle {
	b := &Bundle{
		Schema: schemaVersion,
		Fields: make(map[string][]byte, len(a)),
	}
	for f, raw := range a {
		if stage.Present(raw) {
			b.Fields[string(f)] = append([]byte(nil), raw...)
		}
	}
	b.rehash()
	return b
}

// Artifacts returns the stored artifacts.
func (b *Bundle) Artifacts() stage.Artifacts {
	out := make(stage.Artifacts, len(b.Fields))
	for f, raw := range b.Fields {
		out[stage.Field(f)] = json.RawMessage(raw)
	}
	return out
}

// Put stores raw under field, replacing any previous value.
func (b *Bundle) Put(field stage.Field, raw json.RawMessage) {
	if b.Fields == nil {
		b.Fields = make(map[string][]byte)
	}
	b.Fields[string(field)] = append([]byte(nil), raw...)
	if field == stage.FieldCode {
		b.rehash()
	}
}

// PutOutput records what stage name returned. Codegen output goes to
// Generated; every other output is stored under its contract field.
func (b *Bundle) PutOutput(name stage.Name, raw json.RawMessage) error {
	c, ok := stage.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown stage %q", name)
	}
	if c.Output == stage.FieldCode {
		b.Generated = append([]byte(nil), raw...)
		return nil
	}
	b.Put(c.Output, raw)
	return nil
}

// GeneratedCode returns the stored codegen output.
func (b *Bundle) GeneratedCode() (json.RawMessage, bool) {
	if !stage.Present(b.Generated) {
		return nil, false
	}
	return json.RawMessage(b.Generated), true
}

// FieldNames lists the stored fields in sorted order.
func (b *Bundle) FieldNames() []string {
	names := make([]string, 0, len(b.Fields))
	for f := range b.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return names
}

func (b *Bundle) rehash() {
	raw, ok := b.Fields[string(stage.FieldCode)]
	if !ok {
		b.SourceHash = ""
		return
	}
	sum := sha256.Sum256(raw)
	b.SourceHash = hex.EncodeToString(sum[:])
}

// Save writes b to path atomically: the bundle is encoded into a temporary
// file in the same directory and renamed over path.
func Save(path string, b *Bundle) (err error) {
	if b == nil {
		return errors.New("nil bundle")
	}
	b.Schema = schemaVersion
	b.UpdatedAt = time.Now().UTC()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".bundle-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err = msgpack.NewEncoder(f).Encode(b); err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads the bundle at path. A missing file reports (nil, false, nil).
func Load(path string) (*Bundle, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var b Bundle
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, false, fmt.Errorf("decode bundle %s: %w", path, err)
	}
	if b.Schema != schemaVersion {
		return nil, false, fmt.Errorf("%s: %w (got %d, want %d)", path, ErrSchema, b.Schema, schemaVersion)
	}
	if b.Fields == nil {
		b.Fields = make(map[string][]byte)
	}
	return &b, true, nil
}
