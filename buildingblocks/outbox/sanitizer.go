package outbox

import (
	"regexp"
	"strings"
)

// Error text stored in last_error is redacted and bounded.
const (
	maxErrorLength       = 512
	errorTruncatedSuffix = "... (truncated)"
	redactedValue        = "[REDACTED]"
)

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

var redactions = []redaction{
	// user:password in connection URLs
	{regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://[^:\s/]+):([^@\s]+)@`), `$1:` + redactedValue + `@`},
	{regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-._~+/]+=*`), "Bearer " + redactedValue},
	{regexp.MustCompile(`(?i)(authorization\s*:\s*basic\s+)[a-z0-9+/=]+`), `$1` + redactedValue},
	// JWTs
	{regexp.MustCompile(`\beyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\b`), redactedValue},
	{regexp.MustCompile(`(?i)\b(api[-_ ]?key|access[-_ ]?token|refresh[-_ ]?token|password|secret|client[-_]?secret|aws[_-]?secret[_-]?access[_-]?key)\s*[:=]\s*([^\s,;]+)`), `$1=` + redactedValue},
	{regexp.MustCompile(`(?i)([?&](?:password|pass|pwd|token|api[_-]?key)=)([^&\s]+)`), `$1` + redactedValue},
	// AWS access key ids
	{regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`), redactedValue},
	// emails
	{regexp.MustCompile(`(?i)\b[A-Z0-9._%+\-]+@[A-Z0-9.\-]+\.[A-Z]{2,}\b`), redactedValue},
}

var panCandidate = regexp.MustCompile(`\b\d{12,19}\b`)

func sanitizeErrorForStorage(err error) string {
	if err == nil {
		return ""
	}

	return SanitizeErrorMessage(err.Error())
}

// SanitizeErrorMessage redacts credentials, tokens, emails and card numbers
// from msg and truncates it to the last_error column bound.
func SanitizeErrorMessage(msg string) string {
	out := strings.TrimSpace(msg)

	for _, r := range redactions {
		out = r.pattern.ReplaceAllString(out, r.replacement)
	}

	out = panCandidate.ReplaceAllStringFunc(out, func(candidate string) string {
		if luhnValid(candidate) {
			return redactedValue
		}

		return candidate
	})

	return truncateRunes(out, maxErrorLength, errorTruncatedSuffix)
}

func luhnValid(number string) bool {
	sum := 0
	double := false

	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if digit < 0 || digit > 9 {
			return false
		}

		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}

		sum += digit
		double = !double
	}

	return sum%10 == 0
}

func truncateRunes(msg string, maxRunes int, suffix string) string {
	runes := []rune(msg)
	if len(runes) <= maxRunes {
		return msg
	}

	suffixRunes := []rune(suffix)
	if maxRunes <= len(suffixRunes) {
		return string(runes[:maxRunes])
	}

	return string(runes[:maxRunes-len(suffixRunes)]) + suffix
}
