package security

import "regexp"

// Patterns target the shapes secrets tend to take in arbitrary script
// output: bearer tokens, key=value assignments naming a secret, cloud
// access-key prefixes, URL userinfo credentials, and long hex runs that are almost always API
// keys rather than meaningful program output.
var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+\S{10,}`)

	keyValuePattern = regexp.MustCompile(
		`(?i)(api[_-]?key|secret|token|password|passwd|access[_-]?key)\s*[:=]\s*\S+`)

	awsKeyPattern = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)

	hexKeyPattern = regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`)

	urlUserinfoPattern = regexp.MustCompile(`://[^\s/:@]+:[^\s/@]+@`)
)

// ScrubOutput redacts secret-shaped substrings from script output before it
// is written to a log record.
func ScrubOutput(output string) string {
	result := urlUserinfoPattern.ReplaceAllString(output, "://[REDACTED]@")
	result = bearerPattern.ReplaceAllString(result, "Bearer [REDACTED]")
	result = keyValuePattern.ReplaceAllString(result, "$1=[REDACTED]")
	result = awsKeyPattern.ReplaceAllString(result, "[REDACTED]")
	result = hexKeyPattern.ReplaceAllString(result, "[REDACTED]")
	return result
}
