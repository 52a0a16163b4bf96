// Package pipeline defines the canonical record and detection types passed
// between the ingestion, enrichment, detection and automation stages.
package pipeline

import (
	"net/netip"
	"regexp"
	"time"
)

// Log levels carried on canonical records.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// Severity of a detection or alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for sorting; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 0
	default:
		return -1
	}
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Attack types produced by the detectors and the attack classifier.
const (
	AttackNormal           = "normal"
	AttackDDoS             = "ddos"
	AttackRansomware       = "ransomware"
	AttackSCADA            = "scada_attack"
	AttackInsiderThreat    = "insider_threat"
	AttackNetworkIntrusion = "network_intrusion"
	AttackAPT              = "apt"
	AttackZeroDay          = "zero_day"
	AttackMalware          = "malware"
)

// GeoInfo is the GeoIP enrichment attached to a record.
type GeoInfo struct {
	IP      string `json:"ip"`
	Type    string `json:"type"` // private, reserved, public, invalid
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}

// ThreatIntel is the threat-intelligence enrichment attached to a record.
type ThreatIntel struct {
	IP           string   `json:"ip"`
	IsMalicious  bool     `json:"is_malicious"`
	IsSuspicious bool     `json:"is_suspicious"`
	ThreatTypes  []string `json:"threat_types"`
	Confidence   int      `json:"confidence"` // 0, 50 or 100
}

// AssetInfo is the asset-inventory enrichment attached to a record.
type AssetInfo struct {
	Hostname    string `json:"hostname"`
	AssetType   string `json:"asset_type"`
	Criticality string `json:"criticality"`
	Department  string `json:"department,omitempty"`
	Owner       string `json:"owner,omitempty"`
}

// MLPrediction is the ensemble model output attached to a record.
type MLPrediction struct {
	IsAnomaly          bool    `json:"is_anomaly"`
	AnomalyScore       float64 `json:"anomaly_score"`
	AttackType         string  `json:"attack_type"`
	Confidence         float64 `json:"confidence"`
	IsAttack           bool    `json:"is_attack"`
	IsThreat           bool    `json:"is_threat"`
	CombinedConfidence float64 `json:"combined_confidence"`
	ModelReady         bool    `json:"model_ready"`
}

// Detection is a single detector verdict on a record.
type Detection struct {
	AttackType string                 `json:"attack_type"`
	Detector   string                 `json:"detector"`
	Severity   Severity               `json:"severity"`
	Confidence float64                `json:"confidence"`
	SourceIP   string                 `json:"source_ip,omitempty"`
	User       string                 `json:"user,omitempty"`
	Indicators []string               `json:"indicators,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// ActionResult is the outcome of one automation action.
type ActionResult struct {
	Type             string `json:"type"`
	Status           string `json:"status"` // executed, failed, circuit_open, awaiting_approval
	Success          bool   `json:"success"`
	RequiresApproval bool   `json:"requires_approval"`
	ApprovalID       string `json:"approval_id,omitempty"`
	Detail           string `json:"detail,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Action result statuses.
const (
	ActionExecuted         = "executed"
	ActionFailed           = "failed"
	ActionCircuitOpen      = "circuit_open"
	ActionAwaitingApproval = "awaiting_approval"
)

// ActionReport summarizes the automation run for one detection.
type ActionReport struct {
	Success   bool           `json:"success"`
	Actions   []ActionResult `json:"actions"`
	Approvals []string       `json:"approvals,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
}

// Record is the canonical log record flowing through the pipeline. Raw is
// preserved verbatim from ingestion for replay.
type Record struct {
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Host      string                 `json:"host"`
	Service   string                 `json:"service"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Raw       string                 `json:"raw"`
	Metadata  map[string]interface{} `json:"metadata"`

	GeoIP       *GeoInfo      `json:"geoip,omitempty"`
	ThreatIntel *ThreatIntel  `json:"threat_intel,omitempty"`
	Asset       *AssetInfo    `json:"asset,omitempty"`
	Prediction  *MLPrediction `json:"ml_prediction,omitempty"`
	Detections  []Detection   `json:"detections,omitempty"`
	Automation  *ActionReport `json:"automation,omitempty"`
}

// Metadata keys checked, in order, when locating an address or principal.
var (
	ipFields   = []string{"ip", "ip_address", "src_ip", "dst_ip", "client_ip", "remote_addr"}
	srcFields  = []string{"src_ip", "ip", "ip_address", "client_ip", "remote_addr"}
	userFields = []string{"user", "username", "user_id", "account"}
	portFields = []string{"port", "src_port", "dst_port"}
)

var ipPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// MetaString returns the first of keys present in Metadata as a string.
func (r *Record) MetaString(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := r.Metadata[k]; ok {
			if s := toString(v); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// ClientIP returns the first valid IP found in the well-known metadata
// fields, falling back to a regex scan of the message.
func (r *Record) ClientIP() string {
	for _, field := range ipFields {
		if v, ok := r.Metadata[field]; ok {
			if s := toString(v); s != "" {
				if _, err := netip.ParseAddr(s); err == nil {
					return s
				}
			}
		}
	}
	if m := ipPattern.FindString(r.Message); m != "" {
		if _, err := netip.ParseAddr(m); err == nil {
			return m
		}
	}
	return ""
}

// SourceIP returns the attacking address, preferring src_ip over the
// generic fields. No validation: detector state is keyed by whatever the
// source reported.
func (r *Record) SourceIP() string {
	if s, ok := r.MetaString(srcFields...); ok {
		return s
	}
	return ""
}

// User returns the acting principal, if any field carries one.
func (r *Record) User() string {
	if s, ok := r.MetaString(userFields...); ok {
		return s
	}
	return ""
}

// Port returns the first port-like metadata field as an int.
func (r *Record) Port() (int, bool) {
	for _, f := range portFields {
		if v, ok := r.Metadata[f]; ok {
			if n, ok := toInt(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// Protocol returns the protocol metadata field, lower-cased empty if absent.
func (r *Record) Protocol() string {
	s, _ := r.MetaString("protocol")
	return s
}

// TopDetection returns the highest-severity detection, ties broken by
// detector registration order (slice order). Nil when there are none.
func (r *Record) TopDetection() *Detection {
	if len(r.Detections) == 0 {
		return nil
	}
	top := &r.Detections[0]
	for i := 1; i < len(r.Detections); i++ {
		if r.Detections[i].Severity.Rank() > top.Severity.Rank() {
			top = &r.Detections[i]
		}
	}
	return top
}
