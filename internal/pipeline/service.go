// Package pipeline wires routing, validation, enrichment and dedupe into
// the decoder's message handler.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"taiga/internal/broker"
	"taiga/internal/config"
	"taiga/internal/constants"
	"taiga/internal/dedupe"
	"taiga/internal/geo"
	"taiga/internal/logger"
	"taiga/internal/normalizer"
	"taiga/internal/rules"
	"taiga/internal/schema"
	"taiga/internal/uri"
	"taiga/pkg/errors"
	"taiga/pkg/metrics"
	"taiga/pkg/models"
	"taiga/pkg/tracing"
)

// metadata fields copied verbatim from the submission onto the record
var passthroughFields = []string{
	models.FieldHost,
	models.FieldDNT,
	models.FieldDate,
	models.FieldPingSenderVer,
	models.FieldEnvVersion,
}

// Service decodes raw submissions into canonical records. One instance
// serves all consumer goroutines; the only mutable state lives inside the
// dedupe filter, which locks per partition.
type Service struct {
	cfg        config.DecoderConfig
	router     *uri.Router
	normalizer *normalizer.Normalizer
	enricher   *geo.Enricher
	filter     *dedupe.Filter
	rules      *rules.Engine
	producer   broker.Producer
	topics     config.KafkaConfig
	hostname   string
	logger     logger.Logger
}

func NewService(cfg config.DecoderConfig, kafkaCfg config.KafkaConfig, producer broker.Producer, log logger.Logger) (*Service, error) {
	registry, err := schema.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to create schema registry: %w", err)
	}
	if err := registry.Load(cfg.SchemaPath); err != nil {
		return nil, fmt.Errorf("failed to load schemas from %s: %w", cfg.SchemaPath, err)
	}
	log.Infow("Loaded schemas",
		"path", cfg.SchemaPath,
		"count", registry.Len(),
	)

	engine, err := rules.NewEngine(cfg.DropRules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile drop rules: %w", err)
	}

	s := &Service{
		cfg:        cfg,
		router:     uri.NewRouter(cfg.Namespaces),
		normalizer: normalizer.New(registry),
		rules:      engine,
		producer:   producer,
		topics:     kafkaCfg,
		logger:     log,
	}

	if hostname, err := os.Hostname(); err == nil {
		s.hostname = hostname
	}

	if cfg.CityDBFile != "" {
		enricher, err := geo.NewEnricher(cfg.CityDBFile, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open city database: %w", err)
		}
		s.enricher = enricher
	}

	if cfg.Dedupe.Enabled() {
		s.filter = dedupe.NewFilter(cfg.Dedupe)
		log.Infow("Dedupe filter enabled",
			"partitions", s.filter.Partitions(),
			"interval", s.filter.Interval(),
		)
	}

	return s, nil
}

// Filter exposes the dedupe filter for snapshot wiring. Nil when dedupe
// is disabled.
func (s *Service) Filter() *dedupe.Filter {
	return s.filter
}

func (s *Service) Close() error {
	if s.enricher != nil {
		return s.enricher.Close()
	}
	return nil
}

// Handle is the consumer entry point. Decode failures are terminal: they
// become diagnostic records on the error topic and the message is
// considered handled. Only publish failures propagate, so the broker
// retry policy applies to transport problems and nothing else.
func (s *Service) Handle(ctx context.Context, msg models.RawMessage) error {
	ctx, span := tracing.GetTracer("decoder-service").Start(ctx, "decoder.process")
	defer span.End()

	start := time.Now()

	rec, err := s.decode(msg)
	if err != nil {
		s.emitError(ctx, msg, err)
		metrics.DecodeMessagesTotal.WithLabelValues("error").Inc()
		metrics.ObserveDecodeDuration(time.Since(start), "error")
		return nil
	}

	if s.filter != nil {
		s.checkDuplicate(rec, msg.Time())
	}

	if dropped := s.applyDropRules(ctx, rec); dropped {
		metrics.DecodeMessagesTotal.WithLabelValues("dropped").Inc()
		metrics.ObserveDecodeDuration(time.Since(start), "dropped")
		return nil
	}

	body, err := rec.Marshal()
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to marshal canonical record",
			"error", err,
			"doc_type", rec.StringField("docType"),
		)
		metrics.DecodeMessagesTotal.WithLabelValues("error").Inc()
		return nil
	}

	if err := s.producer.Publish(ctx, s.topics.DecodedTopic, rec.StringField("documentId"), body); err != nil {
		return fmt.Errorf("failed to publish decoded record: %w", err)
	}

	if s.cfg.InjectRaw {
		s.injectRawCopy(ctx, msg)
	}

	status := "success"
	if rec.Type == models.TypeDuplicate {
		status = "duplicate"
	}
	metrics.DecodeMessagesTotal.WithLabelValues(status).Inc()
	metrics.ObserveDecodeDuration(time.Since(start), status)
	return nil
}

// decode runs the terminal stages: route, enrich, normalize. The
// returned record carries every routing dimension, with unknown
// sentinels for whatever could not be resolved.
func (s *Service) decode(msg models.RawMessage) (*models.CanonicalRecord, error) {
	uriStr := msg.Field(s.cfg.URIField)
	sub, err := s.router.Route(uriStr)
	if err != nil {
		return nil, err
	}

	rec := models.NewCanonicalRecord(msg.Timestamp, models.TypeTelemetry, constants.LoggerName)
	rec.Hostname = s.hostname
	if h := msg.Field(models.FieldHostname); h != "" {
		rec.Hostname = h
	}

	rec.Fields[models.FieldURI] = uriStr
	rec.Fields["documentId"] = sub.DocumentID
	rec.Fields[models.FieldSourceName] = sub.Namespace
	for _, dim := range sub.Route.Dimensions {
		rec.Fields[dim] = models.UnknownDim
	}
	for dim, value := range sub.Dimensions {
		rec.Fields[dim] = value
	}

	for _, name := range passthroughFields {
		if v := msg.Field(name); v != "" {
			rec.Fields[name] = v
		}
	}

	s.enrichGeo(msg, rec)

	payload := msg.Payload
	if len(payload) == 0 {
		payload = []byte(msg.Field(s.cfg.ContentField))
	}

	if err := s.normalizer.Normalize(payload, rec); err != nil {
		return nil, err
	}

	rec.Fields[models.FieldSubmissionDate] = models.SubmissionDate(msg.Timestamp)

	metrics.IncSchemaValidation(rec.StringField("docType"), "valid")
	return rec, nil
}

func (s *Service) enrichGeo(msg models.RawMessage, rec *models.CanonicalRecord) {
	country, city := models.UnknownGeo, models.UnknownGeo

	if s.enricher != nil {
		xff := msg.Field(models.FieldXForwardedFor)
		remoteAddr := msg.Field(models.FieldRemoteAddr)
		country = s.enricher.Country(xff, remoteAddr)
		city = s.enricher.City(xff, remoteAddr)

		if country != models.UnknownGeo {
			metrics.IncGeoLookup("hit")
		} else {
			metrics.IncGeoLookup("miss")
		}
	}

	// the transport layer may have resolved geo before the submission
	// reached the broker; its answer fills anything still unknown
	if country == models.UnknownGeo {
		if v := msg.Field(models.FieldGeoCountry); v != "" {
			country = v
		}
	}
	if city == models.UnknownGeo {
		if v := msg.Field(models.FieldGeoCity); v != "" {
			city = v
		}
	}

	rec.Fields[models.FieldGeoCountry] = country
	rec.Fields[models.FieldGeoCity] = city
}

// checkDuplicate retags the record as a duplicate when its document id
// was already seen inside the dedupe window, and attaches the age of the
// first observation in filter intervals.
func (s *Service) checkDuplicate(rec *models.CanonicalRecord, ts time.Time) {
	docID := rec.StringField("documentId")

	fresh, age := s.filter.TestAndInsert(docID, ts)
	if fresh {
		p := dedupe.PartitionIndex(docID, s.filter.Partitions())
		metrics.SetDedupeFilterEntries(p, s.filter.Count(p))
		return
	}

	rec.Type = models.TypeDuplicate
	rec.Fields["duplicateDelta"] = models.DuplicateDelta{
		Value:          int64(age / time.Minute),
		Representation: "min",
	}
	metrics.DuplicatesTotal.Inc()
}

// injectRawCopy republishes the unmodified submission next to its decoded
// record. Best effort: the decoded record is already out, so a failed copy
// is logged rather than retried.
func (s *Service) injectRawCopy(ctx context.Context, msg models.RawMessage) {
	body, err := msg.Marshal()
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to marshal raw copy",
			"error", err,
			"message_id", msg.ID,
		)
		return
	}

	if err := s.producer.Publish(ctx, s.topics.RawCopyTopic, msg.ID, body); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish raw copy",
			"error", err,
			"topic", s.topics.RawCopyTopic,
		)
	}
}

func (s *Service) applyDropRules(ctx context.Context, rec *models.CanonicalRecord) bool {
	if s.rules.Len() == 0 {
		return false
	}

	drop, expr, err := s.rules.ShouldDrop(ctx, rec)
	if err != nil {
		metrics.FallbackUsageTotal.WithLabelValues("decoder", "allow_on_error", "evaluation_error").Inc()
		s.logger.WarnwCtx(ctx, "Drop rule evaluation error",
			"error", err,
		)
	}
	if !drop {
		return false
	}

	metrics.DropRuleMatchesTotal.WithLabelValues(expr).Inc()
	s.logger.DebugwCtx(ctx, "Record discarded by drop rule",
		"rule", expr,
		"doc_type", rec.StringField("docType"),
	)
	return true
}

// emitError publishes a diagnostic record describing why a submission was
// rejected. Best effort: a failure to publish is logged and swallowed, so
// a broken error topic cannot wedge the consumer.
func (s *Service) emitError(ctx context.Context, msg models.RawMessage, decodeErr error) {
	de, ok := errors.AsDecode(decodeErr)
	if !ok {
		de = errors.NewDecodeError(errors.DecodeInject, "%v", decodeErr)
	}

	metrics.DecodeErrorsTotal.WithLabelValues(string(de.Kind)).Inc()
	if de.Kind == errors.DecodeSchema {
		docType, _ := de.Extra["docType"].(string)
		metrics.IncSchemaValidation(docType, "invalid")
	}

	// the diagnostic record is the original submission re-typed; client
	// address fields never leave the decoder
	rec := models.NewCanonicalRecord(msg.Timestamp, models.TypeTelemetryError, constants.LoggerName)
	rec.Hostname = s.hostname
	for name, value := range msg.Fields {
		if name == models.FieldXForwardedFor || name == models.FieldRemoteAddr {
			continue
		}
		rec.Fields[name] = value
	}
	if len(msg.Payload) > 0 {
		rec.Fields[s.cfg.ContentField] = msg.Payload
	}
	rec.Fields[models.FieldDecodeErrorType] = string(de.Kind)
	rec.Fields[models.FieldDecodeError] = de.Message
	for k, v := range de.Extra {
		rec.Fields[k] = v
	}
	rec.Fields[models.FieldSubmissionDate] = models.SubmissionDate(msg.Timestamp)

	body, err := rec.Marshal()
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to marshal diagnostic record",
			"error", err,
		)
		return
	}

	if err := s.producer.Publish(ctx, s.topics.ErrorTopic, msg.ID, body); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish diagnostic record",
			"error", err,
			"topic", s.topics.ErrorTopic,
		)
	}

	s.logger.DebugwCtx(ctx, "Submission rejected",
		"error_type", string(de.Kind),
		"reason", de.Message,
	)
}
