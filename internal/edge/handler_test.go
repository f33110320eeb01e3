package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taiga/internal/constants"
	"taiga/internal/logger"
	"taiga/internal/uri"
	"taiga/pkg/models"
)

type published struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct {
	messages []published
	err      error
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{topic: topic, key: key, value: value})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func newTestRouter(producer *fakeProducer) *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := NewHandler(uri.NewRouter(nil), producer, "telemetry_raw", logger.NopLogger())
	engine := gin.New()
	h.RegisterRoutes(engine)
	return engine
}

func TestSubmitAccepted(t *testing.T) {
	producer := &fakeProducer{}
	engine := newTestRouter(producer)

	req := httptest.NewRequest(http.MethodPost,
		"/submit/telemetry/doc-1/main/Firefox/45.0/release",
		bytes.NewReader([]byte(`{"version": 4}`)))
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("DNT", "1")
	req.Host = "incoming.example.com"

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	require.Len(t, producer.messages, 1)
	assert.Equal(t, "telemetry_raw", producer.messages[0].topic)

	var msg models.RawMessage
	require.NoError(t, json.Unmarshal(producer.messages[0].value, &msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, producer.messages[0].key, msg.ID)
	assert.NotZero(t, msg.Timestamp)
	assert.Equal(t, []byte(`{"version": 4}`), msg.Payload)
	assert.Equal(t, "/submit/telemetry/doc-1/main/Firefox/45.0/release", msg.Fields[models.FieldURI])
	assert.Equal(t, "203.0.113.7", msg.Fields[models.FieldXForwardedFor])
	assert.Equal(t, "1", msg.Fields[models.FieldDNT])
	assert.Equal(t, "incoming.example.com", msg.Fields[models.FieldHost])
	assert.NotEmpty(t, msg.Fields[models.FieldRemoteAddr])
}

func TestSubmitUnknownNamespace(t *testing.T) {
	producer := &fakeProducer{}
	engine := newTestRouter(producer)

	req := httptest.NewRequest(http.MethodPost, "/submit/not-a-namespace/doc-1",
		bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, producer.messages)
}

func TestSubmitEmptyBody(t *testing.T) {
	producer := &fakeProducer{}
	engine := newTestRouter(producer)

	req := httptest.NewRequest(http.MethodPost, "/submit/telemetry/doc-1/main", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, producer.messages)
}

func TestSubmitOversizeBody(t *testing.T) {
	producer := &fakeProducer{}
	engine := newTestRouter(producer)

	body := bytes.Repeat([]byte("x"), int(constants.MaxSubmissionBytes)+1)
	req := httptest.NewRequest(http.MethodPost, "/submit/telemetry/doc-1/main",
		bytes.NewReader(body))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, producer.messages)
}

func TestSubmitPublishFailure(t *testing.T) {
	producer := &fakeProducer{err: context.DeadlineExceeded}
	engine := newTestRouter(producer)

	req := httptest.NewRequest(http.MethodPost, "/submit/telemetry/doc-1/main",
		bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
