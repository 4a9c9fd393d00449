package store

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"cinmatch/internal/keytable"
)

// Format is a snapshot encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// ErrInvalidSnapshot is returned when a snapshot fails schema validation.
var ErrInvalidSnapshot = errors.New("invalid table snapshot")

// ParseFormat parses "json" or "yaml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return FormatJSON, fmt.Errorf("unknown snapshot format: %s", s)
	}
}

// FormatFromPath picks the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Snapshot is the interchange form of a built table.
type Snapshot struct {
	Name     string            `json:"name" yaml:"name"`
	Alphabet string            `json:"alphabet,omitempty" yaml:"alphabet,omitempty"`
	Keynames map[string]string `json:"keynames,omitempty" yaml:"keynames,omitempty"`
	Entries  []SnapshotEntry   `json:"entries" yaml:"entries"`
}

// SnapshotEntry is one key with its fragments in rank order.
type SnapshotEntry struct {
	Key    string   `json:"key" yaml:"key"`
	Values []string `json:"values" yaml:"values"`
}

//go:embed snapshot.schema.json
var snapshotSchemaJSON []byte

const snapshotSchemaURL = "snapshot.schema.json"

var (
	snapshotSchema     *jsonschema.Schema
	snapshotSchemaErr  error
	snapshotSchemaOnce sync.Once
)

func compiledSchema() (*jsonschema.Schema, error) {
	snapshotSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(snapshotSchemaURL, bytes.NewReader(snapshotSchemaJSON)); err != nil {
			snapshotSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		snapshotSchema, snapshotSchemaErr = compiler.Compile(snapshotSchemaURL)
	})
	return snapshotSchema, snapshotSchemaErr
}

// ReadSnapshot decodes, validates, and builds a table from r.
func ReadSnapshot(r io.Reader, format Format) (*keytable.Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var instance any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &instance); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
		instance = normalizeYAML(instance)
	default:
		if err := json.Unmarshal(data, &instance); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	var snap Snapshot
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &snap)
	default:
		err = json.Unmarshal(data, &snap)
	}
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	return snap.Build()
}

// Build turns the snapshot into a table.
func (s *Snapshot) Build() (*keytable.Table, error) {
	b := keytable.NewBuilder(s.Name)
	if s.Alphabet != "" {
		b.Alphabet(s.Alphabet)
	}
	for c, display := range s.Keynames {
		if len(c) != 1 {
			return nil, fmt.Errorf("%w: keyname %q is not a single key", ErrInvalidSnapshot, c)
		}
		b.Keyname(c[0], display)
	}
	for _, e := range s.Entries {
		b.Add(e.Key, e.Values...)
	}
	return b.Build()
}

// SnapshotOf captures t in interchange form.
func SnapshotOf(t *keytable.Table) *Snapshot {
	snap := &Snapshot{
		Name:     t.Name(),
		Alphabet: string(t.Alphabet()),
	}
	if names := t.Keynames(); len(names) > 0 {
		snap.Keynames = make(map[string]string, len(names))
		for c, display := range names {
			snap.Keynames[string([]byte{c})] = display
		}
	}
	for e := range t.Entries() {
		snap.Entries = append(snap.Entries, SnapshotEntry{Key: e.Key, Values: e.Fragments})
	}
	return snap
}

// WriteSnapshot encodes t to w.
func WriteSnapshot(w io.Writer, t *keytable.Table, format Format) error {
	snap := SnapshotOf(t)
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
		return nil
	}
}

// normalizeYAML converts YAML-decoded values into the shapes the schema
// validator expects: string-keyed maps and float64 numbers.
func normalizeYAML(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = normalizeYAML(val)
		}
		return x
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return m
	case []any:
		for i, val := range x {
			x[i] = normalizeYAML(val)
		}
		return x
	case int:
		return float64(x)
	case uint64:
		return float64(x)
	default:
		return v
	}
}
