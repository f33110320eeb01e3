package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taiga/internal/config"
	"taiga/internal/logger"
	"taiga/pkg/errors"
	"taiga/pkg/models"
)

type published struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct {
	messages []published
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	p.messages = append(p.messages, published{topic: topic, key: key, value: value})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func writeSchemas(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, "main")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "main.4.schema.json"),
		[]byte(`{"type": "object", "required": ["version", "application"]}`), 0o644))
	return root
}

func newTestService(t *testing.T, mutate func(*config.DecoderConfig)) (*Service, *fakeProducer) {
	t.Helper()

	cfg := config.DecoderConfig{
		SchemaPath:   writeSchemas(t),
		ContentField: "content",
		URIField:     "uri",
		Dedupe: config.DedupeConfig{
			Items:        6000,
			Partitions:   4,
			IntervalSize: 1,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	producer := &fakeProducer{}
	svc, err := NewService(cfg, config.KafkaConfig{
		DecodedTopic: "decoded",
		ErrorTopic:   "errors",
		RawCopyTopic: "raw-copy",
	}, producer, logger.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	return svc, producer
}

func rawSubmission(id, uri string, payload []byte) models.RawMessage {
	return models.RawMessage{
		ID:        id,
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).UnixNano(),
		Payload:   payload,
		Fields: map[string]string{
			models.FieldURI:        uri,
			models.FieldHost:       "incoming.example.com",
			models.FieldRemoteAddr: "203.0.113.7:443",
		},
	}
}

func decodeRecord(t *testing.T, value []byte) *models.CanonicalRecord {
	t.Helper()
	var rec models.CanonicalRecord
	require.NoError(t, json.Unmarshal(value, &rec))
	return &rec
}

func TestHandleValidSubmission(t *testing.T) {
	svc, producer := newTestService(t, nil)

	msg := rawSubmission("m1",
		"/submit/telemetry/doc-1/main/Firefox/45.0/release/20160101010101",
		[]byte(`{"version": 4, "application": {"channel": "release"}}`))

	require.NoError(t, svc.Handle(context.Background(), msg))
	require.Len(t, producer.messages, 1)

	pub := producer.messages[0]
	assert.Equal(t, "decoded", pub.topic)
	assert.Equal(t, "doc-1", pub.key)

	rec := decodeRecord(t, pub.value)
	assert.Equal(t, models.TypeTelemetry, rec.Type)
	assert.Equal(t, "telemetry", rec.Logger)
	assert.Equal(t, msg.Timestamp, rec.Timestamp)
	assert.Equal(t, "doc-1", rec.Fields["documentId"])
	assert.Equal(t, "main", rec.Fields["docType"])
	assert.Equal(t, "Firefox", rec.Fields["appName"])
	assert.Equal(t, "release", rec.Fields["appUpdateChannel"])
	assert.Equal(t, "release", rec.Fields["normalizedChannel"])
	assert.Equal(t, "20240601", rec.Fields[models.FieldSubmissionDate])
	assert.Equal(t, "telemetry", rec.Fields[models.FieldSourceName])
	assert.Equal(t, "incoming.example.com", rec.Fields[models.FieldHost])

	// geo disabled in this setup, sentinels still present
	assert.Equal(t, models.UnknownGeo, rec.Fields[models.FieldGeoCountry])
	assert.Equal(t, models.UnknownGeo, rec.Fields[models.FieldGeoCity])

	// client address metadata never reaches the output
	assert.NotContains(t, rec.Fields, models.FieldRemoteAddr)
	assert.NotContains(t, rec.Fields, models.FieldXForwardedFor)
}

func TestHandleMissingDimensionsGetSentinels(t *testing.T) {
	svc, producer := newTestService(t, nil)

	msg := rawSubmission("m1", "/submit/telemetry/doc-1",
		[]byte(`{"unrecognized": true}`))

	require.NoError(t, svc.Handle(context.Background(), msg))
	require.Len(t, producer.messages, 1)

	rec := decodeRecord(t, producer.messages[0].value)
	assert.Equal(t, models.UnknownDim, rec.Fields["docType"])
	assert.Equal(t, models.UnknownDim, rec.Fields["appName"])
	assert.Equal(t, models.UnknownDim, rec.Fields["appBuildId"])
	assert.Equal(t, "1", rec.Fields["sourceVersion"])
}

func TestHandleURIError(t *testing.T) {
	svc, producer := newTestService(t, nil)

	msg := rawSubmission("m1", "/submit/unknown-ns/doc-1", []byte(`{}`))

	require.NoError(t, svc.Handle(context.Background(), msg), "decode failures are terminal")
	require.Len(t, producer.messages, 1)

	pub := producer.messages[0]
	assert.Equal(t, "errors", pub.topic)

	rec := decodeRecord(t, pub.value)
	assert.Equal(t, models.TypeTelemetryError, rec.Type)
	assert.Equal(t, string(errors.DecodeURI), rec.Fields[models.FieldDecodeErrorType])
	assert.NotEmpty(t, rec.Fields[models.FieldDecodeError])
	assert.Equal(t, "20240601", rec.Fields[models.FieldSubmissionDate])
}

func TestHandleJSONError(t *testing.T) {
	svc, producer := newTestService(t, nil)

	msg := rawSubmission("m1", "/submit/telemetry/doc-1/main",
		[]byte(`not a json document`))

	require.NoError(t, svc.Handle(context.Background(), msg))
	require.Len(t, producer.messages, 1)
	assert.Equal(t, "errors", producer.messages[0].topic)

	rec := decodeRecord(t, producer.messages[0].value)
	assert.Equal(t, string(errors.DecodeJSON), rec.Fields[models.FieldDecodeErrorType])
}

func TestHandleSchemaValidationFailure(t *testing.T) {
	svc, producer := newTestService(t, nil)

	// main v4 schema also requires "application"
	msg := rawSubmission("m1", "/submit/telemetry/doc-1/main",
		[]byte(`{"version": 4}`))

	require.NoError(t, svc.Handle(context.Background(), msg))
	require.Len(t, producer.messages, 1)

	rec := decodeRecord(t, producer.messages[0].value)
	assert.Equal(t, string(errors.DecodeSchema), rec.Fields[models.FieldDecodeErrorType])
	assert.Equal(t, "main", rec.Fields["docType"])
}

func TestHandleErrorKeepsOriginalSubmission(t *testing.T) {
	svc, producer := newTestService(t, nil)

	msg := rawSubmission("m1", "/submit/telemetry/doc-1/main", []byte(`{broken`))
	msg.Fields[models.FieldXForwardedFor] = "198.51.100.9"
	msg.Fields[models.FieldDNT] = "1"

	require.NoError(t, svc.Handle(context.Background(), msg))
	require.Len(t, producer.messages, 1)

	var rec struct {
		Fields map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(producer.messages[0].value, &rec))

	assert.Contains(t, rec.Fields, "content", "original payload carried on the diagnostic record")
	assert.Equal(t, "incoming.example.com", rec.Fields[models.FieldHost])
	assert.Equal(t, "1", rec.Fields[models.FieldDNT])
	assert.Equal(t, "/submit/telemetry/doc-1/main", rec.Fields[models.FieldURI])
	assert.NotContains(t, rec.Fields, models.FieldXForwardedFor)
	assert.NotContains(t, rec.Fields, models.FieldRemoteAddr)
}

func TestHandleTransportMetadata(t *testing.T) {
	svc, producer := newTestService(t, nil)

	msg := rawSubmission("m1",
		"/submit/telemetry/doc-1/main/Firefox/45.0/release/20160101010101",
		[]byte(`{"version": 4, "application": {}}`))
	msg.Fields[models.FieldGeoCountry] = "DE"
	msg.Fields[models.FieldGeoCity] = "Berlin"
	msg.Fields[models.FieldEnvVersion] = "0.8"
	msg.Fields[models.FieldHostname] = "edge-7"

	require.NoError(t, svc.Handle(context.Background(), msg))
	require.Len(t, producer.messages, 1)

	rec := decodeRecord(t, producer.messages[0].value)
	assert.Equal(t, "DE", rec.Fields[models.FieldGeoCountry], "transport geo used when no city database is configured")
	assert.Equal(t, "Berlin", rec.Fields[models.FieldGeoCity])
	assert.Equal(t, "0.8", rec.Fields[models.FieldEnvVersion])
	assert.Equal(t, "edge-7", rec.Hostname)
}

func TestHandleInjectRawCopiesSubmission(t *testing.T) {
	svc, producer := newTestService(t, func(cfg *config.DecoderConfig) {
		cfg.InjectRaw = true
	})

	msg := rawSubmission("m1",
		"/submit/telemetry/doc-1/main/Firefox/45.0/release/20160101010101",
		[]byte(`{"version": 4, "application": {}}`))

	require.NoError(t, svc.Handle(context.Background(), msg))
	require.Len(t, producer.messages, 2)

	assert.Equal(t, "decoded", producer.messages[0].topic)

	copyPub := producer.messages[1]
	assert.Equal(t, "raw-copy", copyPub.topic)
	assert.Equal(t, "m1", copyPub.key)

	var raw models.RawMessage
	require.NoError(t, json.Unmarshal(copyPub.value, &raw))
	assert.Equal(t, msg.ID, raw.ID)
	assert.Equal(t, msg.Payload, raw.Payload)
	assert.Equal(t, msg.Fields[models.FieldURI], raw.Fields[models.FieldURI])
}

func TestHandleDuplicate(t *testing.T) {
	svc, producer := newTestService(t, nil)

	uri := "/submit/telemetry/dup-doc/main/Firefox/45.0/release/20160101010101"
	payload := []byte(`{"version": 4, "application": {}}`)

	require.NoError(t, svc.Handle(context.Background(), rawSubmission("m1", uri, payload)))
	require.NoError(t, svc.Handle(context.Background(), rawSubmission("m2", uri, payload)))
	require.Len(t, producer.messages, 2)

	first := decodeRecord(t, producer.messages[0].value)
	assert.Equal(t, models.TypeTelemetry, first.Type)

	second := decodeRecord(t, producer.messages[1].value)
	assert.Equal(t, models.TypeDuplicate, second.Type)

	delta, ok := second.Fields["duplicateDelta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(0), delta["value"])
	assert.Equal(t, "min", delta["representation"])
}

func TestHandleDedupeDisabled(t *testing.T) {
	svc, producer := newTestService(t, func(cfg *config.DecoderConfig) {
		cfg.Dedupe = config.DedupeConfig{}
	})
	assert.Nil(t, svc.Filter())

	uri := "/submit/telemetry/dup-doc/main"
	payload := []byte(`{"version": 4, "application": {}}`)

	require.NoError(t, svc.Handle(context.Background(), rawSubmission("m1", uri, payload)))
	require.NoError(t, svc.Handle(context.Background(), rawSubmission("m2", uri, payload)))
	require.Len(t, producer.messages, 2)

	second := decodeRecord(t, producer.messages[1].value)
	assert.Equal(t, models.TypeTelemetry, second.Type, "no duplicate tagging without a filter")
}

func TestHandleDropRule(t *testing.T) {
	svc, producer := newTestService(t, func(cfg *config.DecoderConfig) {
		cfg.DropRules = []string{`docType == "deletion-request"`}
	})

	keep := rawSubmission("m1", "/submit/telemetry/doc-1/main",
		[]byte(`{"version": 4, "application": {}}`))
	drop := rawSubmission("m2", "/submit/telemetry/doc-2/deletion-request",
		[]byte(`{"version": 4}`))

	require.NoError(t, svc.Handle(context.Background(), keep))
	require.NoError(t, svc.Handle(context.Background(), drop))

	require.Len(t, producer.messages, 1)
	assert.Equal(t, "doc-1", producer.messages[0].key)
}

func TestHandleContentFieldFallback(t *testing.T) {
	svc, producer := newTestService(t, nil)

	msg := models.RawMessage{
		ID:        "m1",
		Timestamp: time.Now().UnixNano(),
		Fields: map[string]string{
			models.FieldURI:     "/submit/telemetry/doc-1/main",
			models.FieldContent: `{"version": 4, "application": {}}`,
		},
	}

	require.NoError(t, svc.Handle(context.Background(), msg))
	require.Len(t, producer.messages, 1)
	assert.Equal(t, "decoded", producer.messages[0].topic)
}

func TestNewServiceRejectsBadDropRules(t *testing.T) {
	cfg := config.DecoderConfig{
		SchemaPath:   writeSchemas(t),
		ContentField: "content",
		URIField:     "uri",
		DropRules:    []string{`nonsense ==`},
	}

	_, err := NewService(cfg, config.KafkaConfig{}, &fakeProducer{}, logger.NopLogger())
	assert.Error(t, err)
}
