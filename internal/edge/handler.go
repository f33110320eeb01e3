// Package edge is the HTTP ingestion surface. It accepts submissions,
// stamps them with an id and receive time and hands them to the raw
// topic; all decoding happens downstream.
package edge

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"taiga/internal/broker"
	"taiga/internal/constants"
	"taiga/internal/logger"
	"taiga/internal/uri"
	"taiga/pkg/metrics"
	"taiga/pkg/models"
)

// request headers carried onto the raw message, by field name
var capturedHeaders = map[string]string{
	models.FieldDNT:           "DNT",
	models.FieldDate:          "Date",
	models.FieldPingSenderVer: "X-PingSender-Version",
}

type Handler struct {
	router   *uri.Router
	producer broker.Producer
	topic    string
	logger   logger.Logger
}

func NewHandler(router *uri.Router, producer broker.Producer, topic string, log logger.Logger) *Handler {
	return &Handler{
		router:   router,
		producer: producer,
		topic:    topic,
		logger:   log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/submit/*path", h.Submit)
}

// Submit accepts one ping. The URI is validated here so obvious garbage
// is rejected at the door, but the stored message keeps the raw URI and
// the decoder routes it again itself.
func (h *Handler) Submit(c *gin.Context) {
	uriStr := c.Request.URL.Path

	sub, err := h.router.Route(uriStr)
	if err != nil {
		metrics.EdgeSubmissionsTotal.WithLabelValues("unknown", "rejected").Inc()
		c.String(http.StatusNotFound, "not found")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, constants.MaxSubmissionBytes))
	if err != nil {
		metrics.EdgeSubmissionsTotal.WithLabelValues(sub.Namespace, "oversize").Inc()
		c.String(http.StatusRequestEntityTooLarge, "submission too large")
		return
	}
	if len(body) == 0 {
		metrics.EdgeSubmissionsTotal.WithLabelValues(sub.Namespace, "empty").Inc()
		c.String(http.StatusBadRequest, "empty submission")
		return
	}

	msg := models.RawMessage{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixNano(),
		Payload:   body,
		Fields: map[string]string{
			models.FieldURI:        uriStr,
			models.FieldHost:       c.Request.Host,
			models.FieldRemoteAddr: c.Request.RemoteAddr,
		},
	}
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		msg.Fields[models.FieldXForwardedFor] = xff
	}
	for field, header := range capturedHeaders {
		if v := c.GetHeader(header); v != "" {
			msg.Fields[field] = v
		}
	}

	raw, err := msg.Marshal()
	if err != nil {
		metrics.EdgeSubmissionsTotal.WithLabelValues(sub.Namespace, "error").Inc()
		h.logger.ErrorwCtx(c.Request.Context(), "Failed to marshal raw message",
			"error", err,
		)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.producer.Publish(c.Request.Context(), h.topic, msg.ID, raw); err != nil {
		metrics.EdgeSubmissionsTotal.WithLabelValues(sub.Namespace, "error").Inc()
		h.logger.ErrorwCtx(c.Request.Context(), "Failed to publish submission",
			"error", err,
			"topic", h.topic,
		)
		c.String(http.StatusServiceUnavailable, "try again later")
		return
	}

	metrics.EdgeSubmissionsTotal.WithLabelValues(sub.Namespace, "accepted").Inc()
	metrics.EdgeSubmissionSizeBytes.WithLabelValues(sub.Namespace).Observe(float64(len(body)))

	c.String(http.StatusOK, "OK")
}
