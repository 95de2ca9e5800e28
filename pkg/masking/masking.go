// Package masking rewrites sensitive data out of log records before they
// reach any sink. Rules are compiled once at engine start and shared,
// read-only, across every worker goroutine.
package masking

import (
	"regexp"
	"strings"

	"github.com/scality/logcourier-engine/pkg/record"
)

// Redacted is the literal replacement value for a field whose key
// matches the sensitive-name set.
const Redacted = "***MASKED***"

// sensitiveKeySubstrings are matched case-insensitively as substrings of
// a field name. Grounded on the sensitive-field list carried by the
// original masking module (password/token/secret/api_key/jwt families),
// trimmed to the well-known sensitive field names plus their common aliases.
var sensitiveKeySubstrings = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"api_key",
	"apikey",
	"jwt",
	"credit_card",
	"card_number",
	"cvv",
	"ssn",
	"social_security",
	"access_key",
	"private_key",
	"auth",
}

// IsSensitiveKey reports whether a field name should be wholesale
// redacted rather than pattern-scanned.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeySubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Rule pairs a compiled regex with its replacement text. Rules are
// applied in order, each fed the previous rule's output.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// DefaultRules returns the built-in pattern rules: email, AWS access
// key, JWT-shaped tokens, and runs of 13-19 digits (card-number shaped). Grounded on the original
// masking module's rule set (email/phone/aws-key/jwt regexes), narrowed
// to patterns this engine actually exercises.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), Replacement: "***@***.***"},
		{Pattern: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), Replacement: "AKIA****************"},
		{Pattern: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`), Replacement: "***JWT***"},
		{Pattern: regexp.MustCompile(`\b\d{13,19}\b`), Replacement: "****MASKED-NUMBER****"},
	}
}

// Masker holds the compiled rule set. It is immutable after
// construction and safe to share across goroutines.
type Masker struct {
	rules []Rule
}

// New compiles rules into a Masker. Passing nil rules uses DefaultRules.
func New(rules []Rule) *Masker {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Masker{rules: rules}
}

// MaskString applies every pattern rule to s in order.
func (m *Masker) MaskString(s string) string {
	for _, r := range m.rules {
		s = r.Pattern.ReplaceAllString(s, r.Replacement)
	}
	return s
}

// Apply masks record r in place (on its own copy — callers must pass a
// record they own, e.g. one already produced by LogRecord.Clone):
// the message is pattern-masked, and every field is either wholesale
// redacted (sensitive key name) or pattern-masked (string leaf),
// recursing into nested maps and slices.
func (m *Masker) Apply(r record.LogRecord) record.LogRecord {
	r.Message = m.MaskString(r.Message)

	for i := range r.Fields {
		key := r.Fields[i].Key
		if IsSensitiveKey(key) {
			r.Fields[i].Value = Redacted
			continue
		}
		r.Fields[i].Value = m.maskValue(r.Fields[i].Value)
	}
	return r
}

func (m *Masker) maskValue(v any) any {
	switch val := v.(type) {
	case string:
		return m.MaskString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, nested := range val {
			if IsSensitiveKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = m.maskValue(nested)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = m.maskValue(item)
		}
		return out
	default:
		return v
	}
}
