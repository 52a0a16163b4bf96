// Package ml holds the feature extractor and the ensemble predictor that
// scores every record before the rule detectors run.
package ml

import (
	"net/netip"
	"regexp"
	"strings"

	"github.com/gridshield/backend/internal/pipeline"
)

// FeatureSet maps feature names to values. All features are float64 so the
// models consume a uniform vector.
type FeatureSet map[string]float64

// attackPatterns are the substring families counted by the text features.
// Iteration uses attackPatternOrder so extraction stays deterministic.
var attackPatterns = map[string][]string{
	"sql_injection":     {"union select", "drop table", "1=1", "or 1=1"},
	"xss":               {"<script", "javascript:", "onerror="},
	"path_traversal":    {"../", `..\`, "/etc/passwd"},
	"command_injection": {";", "|", "&&", "`"},
	"brute_force":       {"failed", "invalid", "unauthorized", "denied"},
}

var attackPatternOrder = []string{
	"sql_injection", "xss", "path_traversal", "command_injection", "brute_force",
}

var (
	specialCharsRe = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
	digitRe        = regexp.MustCompile(`\d`)
	uppercaseRe    = regexp.MustCompile(`[A-Z]`)
	urlRe          = regexp.MustCompile(`https?://`)
	emailRe        = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

var logLevelEncoding = map[string]float64{
	pipeline.LevelDebug:    0,
	pipeline.LevelInfo:     1,
	pipeline.LevelWarning:  2,
	"WARN":                 2,
	pipeline.LevelError:    3,
	pipeline.LevelCritical: 4,
	"FATAL":                4,
}

// Extractor derives a deterministic feature vector from a record. The same
// record always yields the same features; extraction never fails.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

// Extract computes all feature families for a record.
func (e *Extractor) Extract(rec *pipeline.Record) FeatureSet {
	f := FeatureSet{}
	e.statistical(rec, f)
	e.temporal(rec, f)
	e.network(rec, f)
	e.text(rec, f)
	return f
}

// FeatureNames returns the stable feature name list, derived from a fixed
// probe record so train and serve vectors always line up.
func (e *Extractor) FeatureNames() []string {
	probe := &pipeline.Record{
		Message:  "test",
		Level:    pipeline.LevelInfo,
		Source:   "test",
		Metadata: map[string]interface{}{},
	}
	f := e.Extract(probe)
	names := make([]string, 0, len(f))
	for _, n := range featureOrder {
		if _, ok := f[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

// featureOrder fixes vector layout. Conditional features (port and IP
// details) are listed too so records that carry them still order stably.
var featureOrder = []string{
	"message_length", "message_word_count", "metadata_count", "field_count",
	"hour", "day_of_week", "day_of_month", "month", "is_weekend", "is_business_hours",
	"has_ip", "is_private_ip", "is_multicast_ip", "is_reserved_ip",
	"has_port", "port", "is_well_known_port", "is_http_port", "is_ssh_port",
	"has_protocol", "is_tcp", "is_udp", "is_http", "is_https",
	"has_geoip", "is_private_geoip",
	"has_threat_intel", "is_malicious", "is_suspicious", "threat_confidence",
	"has_sql_injection", "sql_injection_count",
	"has_xss", "xss_count",
	"has_path_traversal", "path_traversal_count",
	"has_command_injection", "command_injection_count",
	"has_brute_force", "brute_force_count",
	"has_special_chars", "has_numbers", "has_uppercase", "has_url", "has_email",
	"log_level",
}

func (e *Extractor) statistical(rec *pipeline.Record, f FeatureSet) {
	f["message_length"] = float64(len(rec.Message))
	f["message_word_count"] = float64(len(strings.Fields(rec.Message)))
	f["metadata_count"] = float64(len(rec.Metadata))
	// Canonical fields plus the metadata spread, mirroring the flat record
	// the detectors see.
	f["field_count"] = float64(7 + len(rec.Metadata))
}

func (e *Extractor) temporal(rec *pipeline.Record, f FeatureSet) {
	t := rec.Timestamp
	if t.IsZero() {
		f["hour"] = 12
		f["day_of_week"] = 0
		f["day_of_month"] = 1
		f["month"] = 1
		f["is_weekend"] = 0
		f["is_business_hours"] = 1
		return
	}
	// Monday=0 weekday encoding.
	weekday := (int(t.Weekday()) + 6) % 7
	f["hour"] = float64(t.Hour())
	f["day_of_week"] = float64(weekday)
	f["day_of_month"] = float64(t.Day())
	f["month"] = float64(t.Month())
	f["is_weekend"] = boolFeature(weekday >= 5)
	f["is_business_hours"] = boolFeature(t.Hour() >= 9 && t.Hour() <= 17)
}

func (e *Extractor) network(rec *pipeline.Record, f FeatureSet) {
	ip := rec.ClientIP()
	f["has_ip"] = boolFeature(ip != "")
	if ip != "" {
		if addr, err := netip.ParseAddr(ip); err == nil {
			f["is_private_ip"] = boolFeature(addr.IsPrivate() || addr.IsLoopback())
			f["is_multicast_ip"] = boolFeature(addr.IsMulticast())
			f["is_reserved_ip"] = boolFeature(addr.IsUnspecified() || addr.IsLinkLocalUnicast())
		} else {
			f["is_private_ip"] = 0
			f["is_multicast_ip"] = 0
			f["is_reserved_ip"] = 0
		}
	}

	port, hasPort := rec.Port()
	f["has_port"] = boolFeature(hasPort)
	if hasPort {
		f["port"] = float64(port)
		f["is_well_known_port"] = boolFeature(port < 1024)
		f["is_http_port"] = boolFeature(port == 80 || port == 443 || port == 8080 || port == 8443)
		f["is_ssh_port"] = boolFeature(port == 22)
	}

	proto := strings.ToUpper(rec.Protocol())
	f["has_protocol"] = boolFeature(proto != "")
	f["is_tcp"] = boolFeature(strings.Contains(proto, "TCP"))
	f["is_udp"] = boolFeature(strings.Contains(proto, "UDP"))
	f["is_http"] = boolFeature(strings.Contains(proto, "HTTP"))
	f["is_https"] = boolFeature(strings.Contains(proto, "HTTPS"))

	f["has_geoip"] = boolFeature(rec.GeoIP != nil)
	f["is_private_geoip"] = boolFeature(rec.GeoIP != nil && rec.GeoIP.Type == "private")

	f["has_threat_intel"] = boolFeature(rec.ThreatIntel != nil)
	if rec.ThreatIntel != nil {
		f["is_malicious"] = boolFeature(rec.ThreatIntel.IsMalicious)
		f["is_suspicious"] = boolFeature(rec.ThreatIntel.IsSuspicious)
		f["threat_confidence"] = float64(rec.ThreatIntel.Confidence)
	} else {
		f["is_malicious"] = 0
		f["is_suspicious"] = 0
		f["threat_confidence"] = 0
	}
}

func (e *Extractor) text(rec *pipeline.Record, f FeatureSet) {
	message := strings.ToLower(rec.Message)

	for _, family := range attackPatternOrder {
		count := 0
		for _, pattern := range attackPatterns[family] {
			if strings.Contains(message, pattern) {
				count++
			}
		}
		f["has_"+family] = boolFeature(count > 0)
		f[family+"_count"] = float64(count)
	}

	f["has_special_chars"] = boolFeature(specialCharsRe.MatchString(message))
	f["has_numbers"] = boolFeature(digitRe.MatchString(message))
	f["has_uppercase"] = boolFeature(uppercaseRe.MatchString(rec.Message))
	f["has_url"] = boolFeature(urlRe.MatchString(message))
	f["has_email"] = boolFeature(emailRe.MatchString(message))

	if enc, ok := logLevelEncoding[strings.ToUpper(rec.Level)]; ok {
		f["log_level"] = enc
	} else {
		f["log_level"] = 1
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
