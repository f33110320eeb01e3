package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taiga/pkg/models"
)

func testRecord() *models.CanonicalRecord {
	rec := models.NewCanonicalRecord(0, models.TypeTelemetry, "telemetry")
	rec.Fields["docType"] = "main"
	rec.Fields["appName"] = "Firefox"
	rec.Fields["appUpdateChannel"] = "nightly"
	rec.Fields["normalizedChannel"] = "nightly"
	rec.Fields["sourceVersion"] = "4"
	rec.Fields["geoCountry"] = "DE"
	rec.Fields["sampleId"] = int64(42)
	return rec
}

func TestNewEngineRejectsBadRules(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{name: "syntax error", expr: `docType ==`},
		{name: "unknown variable", expr: `bogus == "x"`},
		{name: "non-bool result", expr: `appName`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine([]string{tt.expr})
			assert.Error(t, err)
		})
	}
}

func TestShouldDropNoRules(t *testing.T) {
	engine, err := NewEngine(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, engine.Len())

	drop, _, err := engine.ShouldDrop(context.Background(), testRecord())
	require.NoError(t, err)
	assert.False(t, drop)
}

func TestShouldDropMatch(t *testing.T) {
	engine, err := NewEngine([]string{
		`docType == "crash" && normalizedChannel == "release"`,
		`appName == "Firefox" && sampleId >= 40`,
	})
	require.NoError(t, err)

	drop, expr, err := engine.ShouldDrop(context.Background(), testRecord())
	require.NoError(t, err)
	assert.True(t, drop)
	assert.Equal(t, `appName == "Firefox" && sampleId >= 40`, expr)
}

func TestShouldDropNoMatch(t *testing.T) {
	engine, err := NewEngine([]string{
		`geoCountry == "US"`,
		`normalizedChannel == "release"`,
	})
	require.NoError(t, err)

	drop, expr, err := engine.ShouldDrop(context.Background(), testRecord())
	require.NoError(t, err)
	assert.False(t, drop)
	assert.Empty(t, expr)
}

func TestShouldDropFieldsMap(t *testing.T) {
	engine, err := NewEngine([]string{
		`"telemetryEnabled" in fields && fields["telemetryEnabled"] == false`,
	})
	require.NoError(t, err)

	rec := testRecord()
	drop, _, err := engine.ShouldDrop(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, drop)

	rec.Fields["telemetryEnabled"] = false
	drop, _, err = engine.ShouldDrop(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, drop)
}

func TestShouldDropEvaluationErrorSkipsRule(t *testing.T) {
	engine, err := NewEngine([]string{
		// type error surfaces only at evaluation time
		`fields["sourceVersion"] == 4`,
		`geoCountry == "DE"`,
	})
	require.NoError(t, err)

	drop, expr, err := engine.ShouldDrop(context.Background(), testRecord())
	assert.True(t, drop, "later rule still evaluated")
	assert.Equal(t, `geoCountry == "DE"`, expr)
	assert.Error(t, err)
}
