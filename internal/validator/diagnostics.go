package validator

import "regexp"

// diagnosticSignatures match console or log output that has been captured into
// a data field. Any match rejects the whole record.
var diagnosticSignatures = []*regexp.Regexp{
	// Log-level prefixes: "ERROR: timeout", "[WARN] retrying", "VERBOSE: GET ...".
	regexp.MustCompile(`(?i)^\s*\[?(error|warn|warning|info|debug|trace|fatal|verbose|critical|exception)\]?\s*:`),
	regexp.MustCompile(`(?i)^\s*\[(error|warn|warning|info|debug|trace|fatal|verbose|critical)\]`),
	// Timestamped log lines.
	regexp.MustCompile(`^\s*\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}\S*\s+(?i:error|warn|warning|info|debug|trace|fatal)\b`),
	// Structured logger output.
	regexp.MustCompile(`(?i)\blevel=(error|warn|warning|info|debug|trace|fatal)\b`),
	// Stack traces from Go, Python, JVM/.NET and PowerShell runtimes.
	regexp.MustCompile(`(?m)^\s*panic:`),
	regexp.MustCompile(`goroutine \d+ \[`),
	regexp.MustCompile(`\.go:\d+`),
	regexp.MustCompile(`Traceback \(most recent call last\)`),
	regexp.MustCompile(`(?m)^\s*at [\w.$<>` + "`" + `]+\(`),
	regexp.MustCompile(`(?i)\bat line:\d+ char:\d+`),
	regexp.MustCompile(`\b[A-Z]\w*(\.\w+)*(Exception|Error): `),
}

// looksDiagnostic reports whether s carries a known debug-output signature.
func looksDiagnostic(s string) bool {
	for _, re := range diagnosticSignatures {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
