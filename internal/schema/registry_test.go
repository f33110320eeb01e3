package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"
)

const mainSchema = `{
	"type": "object",
	"required": ["version", "application"],
	"properties": {
		"version": {"type": "integer"},
		"application": {"type": "object"}
	}
}`

func writeSchema(t *testing.T, root, docType, name, content string) {
	t.Helper()
	dir := filepath.Join(root, docType)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRegistryLoadAndLookup(t *testing.T) {
	root := t.TempDir()
	writeSchema(t, root, "main", "main.4.schema.json", mainSchema)
	writeSchema(t, root, "crash", "crash.1.schema.json", `{"type": "object"}`)

	r, err := NewRegistry()
	require.NoError(t, err)
	require.NoError(t, r.Load(root))
	assert.Equal(t, 2, r.Len())

	s := r.Lookup("main", 4)
	require.NotNil(t, s)
	assert.NotSame(t, r.Default(), s)

	result, err := s.Validate(gojsonschema.NewStringLoader(`{"version": 4, "application": {}}`))
	require.NoError(t, err)
	assert.True(t, result.Valid())

	result, err = s.Validate(gojsonschema.NewStringLoader(`{"version": 4}`))
	require.NoError(t, err)
	assert.False(t, result.Valid())
}

func TestRegistryLookupFallback(t *testing.T) {
	root := t.TempDir()
	writeSchema(t, root, "main", "main.4.schema.json", mainSchema)

	r, err := NewRegistry()
	require.NoError(t, err)
	require.NoError(t, r.Load(root))

	// unknown docType and unknown version both fall back, never fail
	assert.Same(t, r.Default(), r.Lookup("nosuch", 1))
	assert.Same(t, r.Default(), r.Lookup("main", 99))

	result, err := r.Lookup("nosuch", 1).Validate(gojsonschema.NewStringLoader(`{"anything": true}`))
	require.NoError(t, err)
	assert.True(t, result.Valid())
}

func TestRegistryLoadBrokenSchemaIsFatal(t *testing.T) {
	root := t.TempDir()
	writeSchema(t, root, "main", "main.4.schema.json", `{"type": not-json`)

	r, err := NewRegistry()
	require.NoError(t, err)
	assert.Error(t, r.Load(root))
}

func TestRegistrySkipsNonSchemaFiles(t *testing.T) {
	root := t.TempDir()
	writeSchema(t, root, "main", "main.4.schema.json", mainSchema)
	writeSchema(t, root, "main", "README.md", "notes")
	writeSchema(t, root, "main", "main.vNext.schema.json", "draft")

	r, err := NewRegistry()
	require.NoError(t, err)
	require.NoError(t, r.Load(root))
	assert.Equal(t, 1, r.Len())
}

func TestParseSchemaName(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		docType string
		version int
		ok      bool
	}{
		{name: "simple", file: "main.4.schema.json", docType: "main", version: 4, ok: true},
		{name: "dotted docType", file: "saved-session.4.schema.json", docType: "saved-session", version: 4, ok: true},
		{name: "no version", file: "main.schema.json", ok: false},
		{name: "wrong suffix", file: "main.4.json", ok: false},
		{name: "non-numeric version", file: "main.beta.schema.json", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docType, version, ok := parseSchemaName(tt.file)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.docType, docType)
				assert.Equal(t, tt.version, version)
			}
		})
	}
}
