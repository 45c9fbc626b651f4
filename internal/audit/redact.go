package audit

import "regexp"

const redactedPlaceholder = "[REDACTED]"

// secretPatterns catches the shapes of secret that tend to leak through
// tool output: provider vendor key prefixes, bearer tokens, and the
// generic KEY/SECRET/TOKEN/PASSWORD/CREDENTIAL=value assignment shape that
// credentialEnvPattern (internal/tools) uses to strip environment
// variables before a child process ever sees them. This filter catches the
// same family of names appearing inside *output* text instead.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),
	regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]{16,}`),
	regexp.MustCompile(`(?i)\b(AWS_[A-Z_]*KEY[A-Z_]*|[A-Z_]*_?(?:KEY|SECRET|TOKEN|PASSWORD|CREDENTIAL)S?)\s*[=:]\s*['"]?[A-Za-z0-9/+._-]{8,}['"]?`),
}

// Filter redacts every secret-shaped substring in s with a fixed
// placeholder. It is idempotent: filter(filter(x)) == filter(x), since the
// placeholder itself never matches any pattern above.
func Filter(s string) string {
	for _, pattern := range secretPatterns {
		s = pattern.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}
