// Package schema loads and indexes the versioned JSON schemas used to
// validate incoming pings.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// defaultSchema accepts any JSON object. Unknown docTypes and versions
// validate against it so newly introduced pings never block ingestion.
const defaultSchema = `{"type": "object"}`

// Registry indexes compiled schemas by (docType, version). Read-only
// after Load, so concurrent lookups need no synchronization.
type Registry struct {
	schemas  map[string]map[int]*gojsonschema.Schema
	fallback *gojsonschema.Schema
}

func NewRegistry() (*Registry, error) {
	fallback, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(defaultSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile default schema: %w", err)
	}

	return &Registry{
		schemas:  make(map[string]map[int]*gojsonschema.Schema),
		fallback: fallback,
	}, nil
}

// Load scans root for files named <docType>.<version>.schema.json, one
// directory per document type. Any file that fails to parse or compile is
// a configuration error: a broken schema set silently validating
// everything is worse than refusing to start.
func (r *Registry) Load(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("failed to read schema root %s: %w", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to read schema directory %s: %w", dir, err)
		}

		for _, file := range files {
			if file.IsDir() {
				continue
			}
			docType, version, ok := parseSchemaName(file.Name())
			if !ok {
				continue
			}
			if err := r.add(docType, version, filepath.Join(dir, file.Name())); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *Registry) add(docType string, version int, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema file %s: %w", path, err)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", path, err)
	}

	versions, ok := r.schemas[docType]
	if !ok {
		versions = make(map[int]*gojsonschema.Schema)
		r.schemas[docType] = versions
	}
	versions[version] = compiled

	return nil
}

// Lookup returns the schema registered for (docType, version), or the
// process-wide permissive default when either axis misses. It never fails.
func (r *Registry) Lookup(docType string, version int) *gojsonschema.Schema {
	if versions, ok := r.schemas[docType]; ok {
		if s, ok := versions[version]; ok {
			return s
		}
	}
	return r.fallback
}

// Default returns the permissive fallback schema.
func (r *Registry) Default() *gojsonschema.Schema {
	return r.fallback
}

// Len reports how many schemas were loaded, for startup logging.
func (r *Registry) Len() int {
	n := 0
	for _, versions := range r.schemas {
		n += len(versions)
	}
	return n
}

// parseSchemaName extracts (docType, version) from
// "<docType>.<version>.schema.json". Names not matching the convention
// are skipped, not errors, so docs and fixtures can live alongside.
func parseSchemaName(name string) (string, int, bool) {
	if !strings.HasSuffix(name, ".schema.json") {
		return "", 0, false
	}
	base := strings.TrimSuffix(name, ".schema.json")

	i := strings.LastIndex(base, ".")
	if i <= 0 || i == len(base)-1 {
		return "", 0, false
	}

	version, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return "", 0, false
	}

	return base[:i], version, true
}
