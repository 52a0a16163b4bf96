package detect

import "regexp"

// indicatorPattern pairs a stable indicator name with the regex that
// raises it. Detections carry the names, not the regex source.
type indicatorPattern struct {
	name string
	re   *regexp.Regexp
}

func matchIndicators(message string, patterns []indicatorPattern) []string {
	var matched []string
	for _, p := range patterns {
		if p.re.MatchString(message) {
			matched = append(matched, p.name)
		}
	}
	return matched
}

var ransomwarePatterns = []indicatorPattern{
	{"file_encryption", regexp.MustCompile(`(?i)(encrypt|encryption).*(file|document|data)`)},
	{"encrypted_extension", regexp.MustCompile(`(?i)(\.encrypted|\.locked|\.crypto)`)},
	{"ransom_note", regexp.MustCompile(`(?i)(ransom|ransomware|decrypt|payment|bitcoin)`)},
	{"decrypt_instructions", regexp.MustCompile(`(?i)(readme\.txt|decrypt.*instructions)`)},
	{"mass_file_operation", regexp.MustCompile(`(?i)(mass.?delete|bulk.?rename|file.?modification)`)},
	{"shadow_copy_tampering", regexp.MustCompile(`(?i)(shadow.?copy|volume.?shadow)`)},
}

var malwarePatterns = []indicatorPattern{
	{"malware_name", regexp.MustCompile(`(?i)(trojan|virus|worm|rootkit|spyware|keylogger)`)},
	{"c2_traffic", regexp.MustCompile(`(?i)(command.?and.?control|c2.?server|beacon)`)},
	{"dropper_activity", regexp.MustCompile(`(?i)(dropper|payload.?download|stage.?two)`)},
	{"persistence", regexp.MustCompile(`(?i)(registry.?run.?key|scheduled.?task|startup.?folder)`)},
	{"process_injection", regexp.MustCompile(`(?i)(process.?injection|dll.?injection|hollowing)`)},
	{"av_detection", regexp.MustCompile(`(?i)(quarantine|malicious.?file|signature.?match)`)},
}

var scadaAttackPatterns = []indicatorPattern{
	{"unauthorized_ics_access", regexp.MustCompile(`(?i)(unauthorized|forbidden).*(scada|ics|plc|hmi)`)},
	{"control_access_denied", regexp.MustCompile(`(?i)(access.?denied).*(industrial|control)`)},
	{"register_write", regexp.MustCompile(`(?i)(write|modify).*(register|coil|holding)`)},
	{"setpoint_manipulation", regexp.MustCompile(`(?i)(setpoint|control.?value).*(manipulation|change)`)},
	{"protocol_violation", regexp.MustCompile(`(?i)(invalid.?function.?code|illegal.?data.?address)`)},
	{"exception_response", regexp.MustCompile(`(?i)(exception.?response|error.?code)`)},
	{"unauthorized_shutdown", regexp.MustCompile(`(?i)(emergency.?stop|shutdown|reset).*(unauthorized)`)},
	{"safety_bypass", regexp.MustCompile(`(?i)(bypass|override).*(safety|protection)`)},
}

var intrusionPatterns = []indicatorPattern{
	{"port_scan", regexp.MustCompile(`(?i)(port.?scan|scanning|probe)`)},
	{"connection_probe", regexp.MustCompile(`(?i)(connection.?refused|connection.?timeout).*\d+`)},
	{"failed_login_burst", regexp.MustCompile(`(?i)(failed.?login|authentication.?failed).*\d+`)},
	{"brute_force", regexp.MustCompile(`(?i)(brute.?force|password.?attack)`)},
	{"exploit_attempt", regexp.MustCompile(`(?i)(exploit|vulnerability|buffer.?overflow)`)},
	{"web_attack", regexp.MustCompile(`(?i)(sql.?injection|xss|cross.?site)`)},
	{"unauthorized_access", regexp.MustCompile(`(?i)(unauthorized.?access|intrusion|breach)`)},
	{"access_violation", regexp.MustCompile(`(?i)(access.?violation|security.?breach)`)},
}

// scadaProtocols marks a record as industrial traffic when one appears in
// the protocol, service or message.
var scadaProtocols = []string{"modbus", "dnp3", "iec61850", "opc", "bacnet", "profinet"}
