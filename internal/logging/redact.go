package logging

import "regexp"

var redactions = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-._~+/]+=*`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(access_token|refresh_token|id_token)["']?\s*[:=]\s*["']?[A-Za-z0-9\-._~+/]+=*`), "$1=[REDACTED]"},
	{regexp.MustCompile(`(?i)(password|secret_?key|access_?key|private_key)["']?\s*[:=]\s*["']?[^\s"',]+`), "$1=[REDACTED]"},
	{regexp.MustCompile(`(?i)authorization["']?\s*[:=]\s*["']?[^\s"']+`), "Authorization: [REDACTED]"},
	// user:password@ in backend URIs
	{regexp.MustCompile(`(://[^/\s:@]+):[^/\s@]+@`), "$1:[REDACTED]@"},
}

// RedactSensitiveData masks credentials that may appear in messages and field values.
func RedactSensitiveData(s string) string {
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}
