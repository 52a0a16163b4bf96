// Package ingest turns raw log lines into canonical records: format
// detection, parsing, and normalization.
package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// ParsedRecord is the loosely-typed output of a parser, before
// normalization.
type ParsedRecord = map[string]interface{}

// Parser turns one raw line into a ParsedRecord. Parse reports ok=false on
// input it cannot handle; it never panics. Caller-supplied metadata is
// merged last so it overrides parsed fields.
type Parser interface {
	Name() string
	CanParse(raw string) bool
	Parse(raw string, metadata map[string]interface{}) (ParsedRecord, bool)
}

func mergeMetadata(parsed ParsedRecord, metadata map[string]interface{}) {
	for k, v := range metadata {
		parsed[k] = v
	}
}

// ============================================================================
// JSON
// ============================================================================

type JSONParser struct{}

func (JSONParser) Name() string { return "json" }

func (JSONParser) CanParse(raw string) bool {
	return json.Valid([]byte(raw))
}

// Parse accepts any valid JSON; non-object values are wrapped as
// {message, data} so downstream stages always see an object.
func (JSONParser) Parse(raw string, metadata map[string]interface{}) (ParsedRecord, bool) {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	parsed, ok := v.(map[string]interface{})
	if !ok {
		parsed = ParsedRecord{"message": raw, "data": v}
	}
	mergeMetadata(parsed, metadata)
	return parsed, true
}

// ============================================================================
// CSV
// ============================================================================

type CSVParser struct {
	Delimiter rune
	// Fields, when preset, are used as column names; otherwise the line's
	// values are keyed positionally as field_0..field_n.
	Fields []string
}

func NewCSVParser(delimiter string, fields []string) *CSVParser {
	d := ','
	if delimiter != "" {
		d = rune(delimiter[0])
	}
	return &CSVParser{Delimiter: d, Fields: fields}
}

func (p *CSVParser) Name() string { return "csv" }

func (p *CSVParser) CanParse(raw string) bool {
	return strings.ContainsRune(raw, p.Delimiter)
}

func (p *CSVParser) Parse(raw string, metadata map[string]interface{}) (ParsedRecord, bool) {
	r := csv.NewReader(strings.NewReader(raw))
	r.Comma = p.Delimiter
	r.FieldsPerRecord = -1
	values, err := r.Read()
	if err != nil || len(values) == 0 {
		return nil, false
	}

	parsed := ParsedRecord{}
	for i, val := range values {
		if i < len(p.Fields) {
			parsed[p.Fields[i]] = val
		} else {
			parsed["field_"+strconv.Itoa(i)] = val
		}
	}
	mergeMetadata(parsed, metadata)
	return parsed, true
}

// ============================================================================
// XML
// ============================================================================

type XMLParser struct{}

func (XMLParser) Name() string { return "xml" }

func (XMLParser) CanParse(raw string) bool {
	_, ok := decodeXML(raw)
	return ok
}

// Parse maps elements to nested maps: attributes become keys, text becomes
// "text" (or "_text" when attributes are present), repeated children
// collapse into lists.
func (XMLParser) Parse(raw string, metadata map[string]interface{}) (ParsedRecord, bool) {
	parsed, ok := decodeXML(raw)
	if !ok {
		return nil, false
	}
	mergeMetadata(parsed, metadata)
	return parsed, true
}

func decodeXML(raw string) (ParsedRecord, bool) {
	dec := xml.NewDecoder(bytes.NewReader([]byte(raw)))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		m, err := xmlElementToMap(dec, start)
		if err != nil {
			return nil, false
		}
		// Only whitespace may follow the root element.
		for {
			tok, err := dec.Token()
			if err == io.EOF {
				return m, true
			}
			if err != nil {
				return nil, false
			}
			if cd, ok := tok.(xml.CharData); !ok || len(bytes.TrimSpace(cd)) > 0 {
				return nil, false
			}
		}
	}
}

func xmlElementToMap(dec *xml.Decoder, start xml.StartElement) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	for _, attr := range start.Attr {
		result[attr.Name.Local] = attr.Value
	}

	var text strings.Builder
	children := map[string]interface{}{}

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := xmlElementToMap(dec, t)
			if err != nil {
				return nil, err
			}
			name := t.Name.Local
			if existing, ok := children[name]; ok {
				if list, ok := existing.([]interface{}); ok {
					children[name] = append(list, child)
				} else {
					children[name] = []interface{}{existing, child}
				}
			} else {
				children[name] = child
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if s := strings.TrimSpace(text.String()); s != "" {
				if len(result) > 0 {
					result["_text"] = s
				} else {
					result["text"] = s
				}
			}
			for k, v := range children {
				result[k] = v
			}
			return result, nil
		}
	}
}

// ============================================================================
// Syslog (RFC 5424, then RFC 3164)
// ============================================================================

var (
	// <PRI>VERSION TIMESTAMP HOSTNAME APP-NAME PROCID MSGID STRUCTURED-DATA MSG
	rfc5424Pattern = regexp.MustCompile(`^<(\d+)>(\d+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(.*)$`)
	// <PRI>TIMESTAMP HOSTNAME TAG: MESSAGE
	rfc3164Pattern = regexp.MustCompile(`^<(\d+)>(\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+(\S+):\s+(.*)$`)
)

var priPrefix = regexp.MustCompile(`^<\d{1,3}>`)

type SyslogParser struct{}

func (SyslogParser) Name() string { return "syslog" }

// CanParse requires a numeric <PRI> prefix so XML documents, which also
// start with '<', fall through to the XML parser.
func (SyslogParser) CanParse(raw string) bool {
	return priPrefix.MatchString(raw)
}

func (p SyslogParser) Parse(raw string, metadata map[string]interface{}) (ParsedRecord, bool) {
	var parsed ParsedRecord
	if m := rfc5424Pattern.FindStringSubmatch(raw); m != nil {
		version, _ := strconv.Atoi(m[2])
		parsed = ParsedRecord{
			"format":          "RFC5424",
			"version":         version,
			"timestamp":       m[3],
			"hostname":        m[4],
			"app_name":        m[5],
			"proc_id":         m[6],
			"msg_id":          m[7],
			"structured_data": m[8],
			"message":         m[9],
		}
		addPriority(parsed, m[1])
	} else if m := rfc3164Pattern.FindStringSubmatch(raw); m != nil {
		parsed = ParsedRecord{
			"format":    "RFC3164",
			"timestamp": m[2],
			"hostname":  m[3],
			"tag":       m[4],
			"message":   m[5],
		}
		addPriority(parsed, m[1])
	} else {
		parsed = ParsedRecord{
			"format":  "unknown",
			"message": raw,
			"raw":     raw,
		}
	}
	mergeMetadata(parsed, metadata)
	return parsed, true
}

// addPriority splits <PRI> into facility = PRI/8, severity = PRI%8.
func addPriority(parsed ParsedRecord, pri string) {
	priority, err := strconv.Atoi(pri)
	if err != nil {
		return
	}
	parsed["priority"] = priority
	parsed["facility"] = priority / 8
	parsed["severity"] = priority % 8
}

// ============================================================================
// Registry
// ============================================================================

// Registry holds the configured parsers and auto-detects the format of a
// raw line. Detection order: syslog (leading '<'), JSON, XML, then CSV.
type Registry struct {
	syslog SyslogParser
	json   JSONParser
	xml    XMLParser
	csv    *CSVParser

	order []Parser
}

func NewRegistry(csvParser *CSVParser) *Registry {
	r := &Registry{csv: csvParser}
	r.order = []Parser{r.syslog, r.json, r.xml, r.csv}
	return r
}

// Detect returns the name of the first parser whose CanParse accepts the
// line, ok=false when none does.
func (r *Registry) Detect(raw string) (string, bool) {
	for _, p := range r.order {
		if p.CanParse(raw) {
			return p.Name(), true
		}
	}
	return "", false
}

// Parse parses the line using the hinted parser when given, otherwise by
// auto-detection. ok=false means the record is unparseable and should be
// dropped (with a metric, no alert).
func (r *Registry) Parse(raw string, hint string, metadata map[string]interface{}) (ParsedRecord, bool) {
	if hint != "" {
		for _, p := range r.order {
			if p.Name() == hint {
				return p.Parse(raw, metadata)
			}
		}
		return nil, false
	}
	for _, p := range r.order {
		if p.CanParse(raw) {
			if parsed, ok := p.Parse(raw, metadata); ok {
				return parsed, true
			}
		}
	}
	return nil, false
}
