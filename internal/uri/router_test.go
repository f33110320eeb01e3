package uri

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taiga/internal/config"
	"taiga/pkg/errors"
)

func TestRouterDefaultTelemetryRoute(t *testing.T) {
	r := NewRouter(nil)

	sub, err := r.Route("/submit/telemetry/doc-1/main/Firefox/45.0/release/20160101010101")
	require.NoError(t, err)

	assert.Equal(t, "telemetry", sub.Namespace)
	assert.Equal(t, "doc-1", sub.DocumentID)
	assert.Equal(t, map[string]string{
		"docType":          "main",
		"appName":          "Firefox",
		"appVersion":       "45.0",
		"appUpdateChannel": "release",
		"appBuildId":       "20160101010101",
	}, sub.Dimensions)
}

func TestRouterPartialDimensions(t *testing.T) {
	r := NewRouter(nil)

	sub, err := r.Route("/submit/telemetry/doc-1/main")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"docType": "main"}, sub.Dimensions)
}

func TestRouterErrors(t *testing.T) {
	r := NewRouter(nil)

	tests := []struct {
		name string
		uri  string
	}{
		{name: "too few components", uri: "/submit/x"},
		{name: "wrong prefix", uri: "/ingest/telemetry/doc-1"},
		{name: "unknown namespace", uri: "/submit/nosuch/doc-1"},
		{
			name: "too many dimensions",
			uri:  "/submit/telemetry/doc-1/a/b/c/d/e/f",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Route(tt.uri)
			require.Error(t, err)

			de, ok := errors.AsDecode(err)
			require.True(t, ok)
			assert.Equal(t, errors.DecodeURI, de.Kind)
		})
	}
}

func TestRouterPathTooLong(t *testing.T) {
	r := NewRouter(map[string]config.RouteConfig{
		"telemetry": {
			Dimensions:    []string{"docType"},
			MaxPathLength: 64,
		},
	})

	uri := "/submit/telemetry/" + strings.Repeat("x", 128)
	_, err := r.Route(uri)
	require.Error(t, err)

	de, ok := errors.AsDecode(err)
	require.True(t, ok)
	assert.Equal(t, errors.DecodeURI, de.Kind)
	assert.Contains(t, de.Message, "too long")
}

func TestRouterConfiguredNamespace(t *testing.T) {
	r := NewRouter(map[string]config.RouteConfig{
		"pioneer": {Dimensions: []string{"docType", "studyName"}},
	})

	sub, err := r.Route("/submit/pioneer/doc-9/event/study-a")
	require.NoError(t, err)
	assert.Equal(t, "pioneer", sub.Namespace)
	assert.Equal(t, "study-a", sub.Dimensions["studyName"])

	// default telemetry route still present
	_, err = r.Route("/submit/telemetry/doc-1")
	assert.NoError(t, err)
}
