package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Artifact encodings.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Run statuses; a partial artifact comes from a cancelled run.
const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
)

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func artifactSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("artifact.json", strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("report: load schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("artifact.json")
	})
	return schema, schemaErr
}

// Validate checks raw JSON against the artifact schema.
func Validate(raw []byte) error {
	s, err := artifactSchema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("report: decode: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("report: invalid artifact: %w", err)
	}
	return nil
}

// FormatFor picks the encoding from a file extension, defaulting to json.
func FormatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Encode writes a in the given format.
func Encode(w io.Writer, a *Artifact, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(a); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("report: unknown format %q", format)
	}
}

// Decode reads an artifact. JSON input is checked against the schema
// before it is decoded.
func Decode(r io.Reader, format string) (*Artifact, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var a Artifact
	switch format {
	case FormatJSON, "":
		if err := Validate(raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("report: decode json: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("report: decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("report: unknown format %q", format)
	}
	return &a, nil
}

// Save writes the artifact to path, choosing the format by extension.
func Save(path string, a *Artifact) error {
	var buf bytes.Buffer
	if err := Encode(&buf, a, FormatFor(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

// Load reads an artifact written by Save.
func Load(path string) (*Artifact, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Decode(fh, FormatFor(path))
}
