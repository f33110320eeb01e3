// Package normalizer converts the historical ping formats into canonical
// records.
package normalizer

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"taiga/internal/constants"
	"taiga/internal/schema"
	"taiga/pkg/errors"
	"taiga/pkg/models"
)

// environmentSubtrees are the large environment sub-objects pulled out of
// the retained submission body into individually named fields.
var environmentSubtrees = []string{
	"addons", "build", "experiments", "partner", "profile", "settings", "system",
}

// payloadSubtrees are stripped the same way, but only for main and
// saved-session documents where they dominate the payload size.
var payloadSubtrees = []string{
	"addonDetails", "childPayloads", "chromeHangs", "histograms", "info",
	"keyedHistograms", "lateWrites", "log", "simpleMeasurements", "slowSQL",
	"threadHangStats", "UIMeasurements",
}

var gzipMagic = []byte{0x1f, 0x8b}

// Normalizer validates pings against the schema registry and extracts
// their routing dimensions into canonical records. Stateless apart from
// the read-only registry, so safe for concurrent use.
type Normalizer struct {
	registry *schema.Registry
}

func New(registry *schema.Registry) *Normalizer {
	return &Normalizer{registry: registry}
}

// Normalize decodes payload, classifies its shape, validates it against
// the matching schema and populates rec. The caller seeds rec with the
// routing dimensions before the call; Normalize refines them from the
// document body. Failures are typed json or schema decode errors and
// leave no partial extraction guarantees on rec.
func (n *Normalizer) Normalize(payload []byte, rec *models.CanonicalRecord) error {
	payload, err := inflate(payload)
	if err != nil {
		return errors.NewDecodeError(errors.DecodeJSON, "failed to decompress payload: %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return errors.NewDecodeError(errors.DecodeJSON, "invalid JSON payload: %v", err)
	}

	shape := Classify(doc)

	switch shape {
	case ShapeLegacy:
		err = n.normalizeLegacy(payload, doc, rec)
	case ShapeModern:
		err = n.normalizeModern(payload, doc, rec)
	case ShapeAppusage:
		err = n.normalizeAppusage(payload, doc, rec)
	case ShapeCore:
		err = n.normalizeCore(payload, doc, rec)
	default:
		// unrecognized shape: store verbatim under the fixed fallback
		// version, skipping structural validation entirely
		rec.Fields["sourceVersion"] = "1"
		rec.Fields["submission"] = models.RawJSON(payload)
	}
	if err != nil {
		return err
	}

	finalize(rec)
	return nil
}

func (n *Normalizer) normalizeLegacy(payload []byte, doc map[string]interface{}, rec *models.CanonicalRecord) error {
	ver, _ := intFrom(doc["ver"])

	docType := rec.StringField("docType")
	info, _ := doc["info"].(map[string]interface{})
	if ver != 3 {
		if reason := stringFrom(info, "reason"); reason != "" {
			docType = reason
		}
	}

	if err := n.validate(payload, docType, ver); err != nil {
		return err
	}

	rec.Fields["sourceVersion"] = strconv.Itoa(ver)
	rec.Fields["submission"] = models.RawJSON(payload)

	if ver == 3 {
		// minimal ping: raw document only, no dimension extraction
		return nil
	}

	rec.Fields["docType"] = docType
	rec.Fields["appName"] = stringOr(info, "appName", models.UnknownDim)
	rec.Fields["appVersion"] = stringOr(info, "appVersion", models.UnknownDim)
	rec.Fields["appUpdateChannel"] = stringOr(info, "appUpdateChannel", models.UnknownDim)
	rec.Fields["appBuildId"] = stringOr(info, "appBuildID", models.UnknownDim)
	rec.Fields["telemetryEnabled"] = true

	return nil
}

func (n *Normalizer) normalizeModern(payload []byte, doc map[string]interface{}, rec *models.CanonicalRecord) error {
	ver, _ := intFrom(doc["version"])
	docType := rec.StringField("docType")

	if err := n.validate(payload, docType, ver); err != nil {
		return err
	}

	rec.Fields["sourceVersion"] = strconv.Itoa(ver)

	app, _ := doc["application"].(map[string]interface{})
	setIfPresent(rec, app, "name", "appName")
	setIfPresent(rec, app, "version", "appVersion")
	setIfPresent(rec, app, "channel", "appUpdateChannel")
	setIfPresent(rec, app, "buildId", "appBuildId")
	setIfPresent(rec, app, "architecture", "architecture")
	setIfPresent(rec, app, "vendor", "vendor")
	setIfPresent(rec, app, "platformVersion", "platformVersion")
	setIfPresent(rec, app, "xpcomAbi", "xpcomAbi")

	if clientID := stringFrom(doc, "clientId"); clientID != "" {
		rec.Fields["clientId"] = clientID
	}
	if created := stringFrom(doc, "creationDate"); created != "" {
		rec.Fields["creationDate"] = created
	}

	if env, ok := doc["environment"].(map[string]interface{}); ok {
		if system, ok := env["system"].(map[string]interface{}); ok {
			if os, ok := system["os"].(map[string]interface{}); ok {
				if name := stringFrom(os, "name"); name != "" {
					rec.Fields["os"] = name
				}
				if version := stringFrom(os, "version"); version != "" {
					rec.Fields["osVersion"] = version
				}
			}
		}
		if err := stripSubtrees(rec, env, "environment", environmentSubtrees); err != nil {
			return err
		}
	}

	if docType == "main" || docType == "saved-session" {
		if pl, ok := doc["payload"].(map[string]interface{}); ok {
			if err := stripSubtrees(rec, pl, "payload", payloadSubtrees); err != nil {
				return err
			}
		}
	}

	remainder, err := json.Marshal(doc)
	if err != nil {
		return errors.NewDecodeError(errors.DecodeJSON, "failed to re-encode submission: %v", err)
	}
	rec.Fields["submission"] = models.RawJSON(remainder)

	return nil
}

func (n *Normalizer) normalizeAppusage(payload []byte, doc map[string]interface{}, rec *models.CanonicalRecord) error {
	const appusageVersion = 3

	if err := n.validate(payload, "appusage", appusageVersion); err != nil {
		return err
	}

	deviceinfo, _ := doc["deviceinfo"].(map[string]interface{})

	rec.Fields["docType"] = "appusage"
	rec.Fields["sourceVersion"] = strconv.Itoa(appusageVersion)
	rec.Fields["appName"] = "FirefoxOS"
	rec.Fields["appVersion"] = stringOr(deviceinfo, "platform_version", models.UnknownDim)
	rec.Fields["appUpdateChannel"] = stringOr(deviceinfo, "update_channel", models.UnknownDim)
	rec.Fields["appBuildId"] = stringOr(deviceinfo, "platform_build_id", models.UnknownDim)
	rec.Fields["submission"] = models.RawJSON(payload)

	return nil
}

func (n *Normalizer) normalizeCore(payload []byte, doc map[string]interface{}, rec *models.CanonicalRecord) error {
	ver, _ := intFrom(doc["v"])

	if err := n.validate(payload, rec.StringField("docType"), ver); err != nil {
		return err
	}

	rec.Fields["sourceVersion"] = strconv.Itoa(ver)
	if clientID := stringFrom(doc, "clientId"); clientID != "" {
		rec.Fields["clientId"] = clientID
	}
	rec.Fields["submission"] = models.RawJSON(payload)

	return nil
}

func (n *Normalizer) validate(payload []byte, docType string, version int) error {
	compiled := n.registry.Lookup(docType, version)

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return errors.NewDecodeError(errors.DecodeJSON, "schema validation could not run: %v", err)
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		details = append(details, e.String())
	}

	de := errors.NewDecodeError(errors.DecodeSchema,
		"document failed validation for %s version %d", docType, version)
	de.WithExtra("docType", docType)
	de.WithExtra("schemaVersion", version)
	de.WithExtra("validationErrors", strings.Join(details, "; "))
	return de
}

// finalize derives the invariant fields every shape shares: the
// normalized channel is always computed and a present clientId yields the
// stable sampling key.
func finalize(rec *models.CanonicalRecord) {
	rec.Fields["normalizedChannel"] = NormalizeChannel(rec.StringField("appUpdateChannel"))

	if clientID := rec.StringField("clientId"); clientID != "" {
		rec.Fields["sampleId"] = SampleID(clientID)
	}
}

// SampleID hashes a client identifier into one of 100 stable sampling
// buckets so downstream consumers can draw reproducible subsamples.
func SampleID(clientID string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(clientID)) % 100)
}

// stripSubtrees moves the named sub-objects out of parent into
// individually addressed raw-JSON record fields, mutating parent so the
// retained submission body no longer carries them.
func stripSubtrees(rec *models.CanonicalRecord, parent map[string]interface{}, prefix string, names []string) error {
	for _, name := range names {
		sub, ok := parent[name]
		if !ok {
			continue
		}
		b, err := json.Marshal(sub)
		if err != nil {
			return errors.NewDecodeError(errors.DecodeJSON,
				"failed to re-encode %s.%s: %v", prefix, name, err)
		}
		rec.Fields[fmt.Sprintf("%s.%s", prefix, name)] = models.RawJSON(b)
		delete(parent, name)
	}
	return nil
}

// inflate transparently decompresses gzipped payloads; everything else
// passes through untouched.
func inflate(payload []byte) ([]byte, error) {
	if !bytes.HasPrefix(payload, gzipMagic) {
		return payload, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, constants.MaxSubmissionBytes))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func stringFrom(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func stringOr(m map[string]interface{}, key, fallback string) string {
	if s := stringFrom(m, key); s != "" {
		return s
	}
	return fallback
}

func setIfPresent(rec *models.CanonicalRecord, m map[string]interface{}, key, field string) {
	if s := stringFrom(m, key); s != "" {
		rec.Fields[field] = s
	}
}
