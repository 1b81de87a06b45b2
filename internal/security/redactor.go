package security

import (
	"regexp"
	"strings"
	"sync"
)

// RedactPlaceholder is the replacement string for redacted secrets.
const RedactPlaceholder = "***REDACTED***"

// secretKeyPattern matches map keys that likely hold secrets.
var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|password|key|credential|dsn)`)

// Redactor replaces secret values in strings and maps with RedactPlaceholder.
// It combines regex patterns for known credential formats with literal
// values loaded from configuration at startup.
// All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor creates a Redactor pre-loaded with DefaultPatterns.
func NewRedactor() *Redactor {
	return &Redactor{patterns: DefaultPatterns()}
}

// AddPattern adds a compiled regex pattern to the redactor.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
}

// AddLiteral adds literal secret values that should be redacted on sight.
// Values shorter than four bytes are ignored to avoid shredding log lines.
func (r *Redactor) AddLiteral(secrets ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range secrets {
		if len(s) >= 4 {
			r.literals = append(r.literals, s)
		}
	}
}

// Redact replaces all known secret patterns and literal values in s.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns := r.patterns
	literals := r.literals
	r.mu.RUnlock()

	for _, lit := range literals {
		s = strings.ReplaceAll(s, lit, RedactPlaceholder)
	}
	for _, p := range patterns {
		s = p.ReplaceAllString(s, RedactPlaceholder)
	}
	return s
}

// RedactMap walks a decoded YAML/JSON document and replaces string values
// whose keys look secret. Other strings are passed through Redact.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		if s, ok := v.(string); ok && s != "" && secretKeyPattern.MatchString(k) {
			m[k] = RedactPlaceholder
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			r.RedactMap(val)
		case []any:
			for _, item := range val {
				if sub, ok := item.(map[string]any); ok {
					r.RedactMap(sub)
				}
			}
		case string:
			m[k] = r.Redact(val)
		}
	}
}

// DefaultPatterns returns compiled regex patterns for credential formats
// this service handles.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Google API keys (Gemini).
		regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
		// OpenAI-style keys.
		regexp.MustCompile(`sk-[a-zA-Z0-9_\-]{20,}`),
		// AWS access key id.
		regexp.MustCompile(`(AKIA|ASIA)[A-Z0-9]{16}`),
		// JWTs (header.payload.signature, base64url).
		regexp.MustCompile(`eyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}`),
		// Authorization header values.
		regexp.MustCompile(`(?i)(bearer|basic)\s+[A-Za-z0-9._~+/\-]{16,}=*`),
	}
}
