// Package normalizers canonicalizes contact signals into comparable forms
package normalizers

import (
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	// Register built-in normalizers
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("nphone", NormalizePhone)
	Register("nemail", NormalizeEmail)
	Register("nusername", NormalizeUsername)
	Register("digits_only", DigitsOnly)
}

// fieldChains names the normalizers each participant text field is stored through
var fieldChains = map[string][]string{
	models.FieldFullName:  {"trim"},
	models.FieldFirstName: {"trim"},
	models.FieldLastName:  {"trim"},
	models.FieldEmail:     {"nemail"},
	models.FieldPhone:     {"nphone"},
	models.FieldUsername:  {"nusername"},
	models.FieldSource:    {"trim", "lowercase"},
	models.FieldStatus:    {"trim"},
	models.FieldNotes:     {"trim"},
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := Get(normalizer)
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Field puts value into the stored form of the named participant field.
// Fields without a chain are only trimmed.
func Field(field, value string) string {
	chain, ok := fieldChains[field]
	if !ok {
		return Trim(value)
	}
	return ApplyChain(value, chain...)
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// NormalizePhone canonicalizes a phone number into "+<digits>".
// Numbering is assumed to be Russian: a leading 8 of an 11-digit number
// becomes +7 and a bare 10-digit number gets +7 prepended. Anything else
// is returned as + followed by its digits. Returns "" when there are no digits.
func NormalizePhone(s string) string {
	digits := DigitsOnly(s)
	switch {
	case digits == "":
		return ""
	case len(digits) == 11 && digits[0] == '8':
		return "+7" + digits[1:]
	case len(digits) == 10:
		return "+7" + digits
	default:
		return "+" + digits
	}
}

// NormalizeEmail normalizes an email address (lowercase, trim)
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeUsername trims a handle and strips one leading @
func NormalizeUsername(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}

// BuildFullName joins first and last name, falling back to the trimmed fallback
func BuildFullName(first, last, fallback string) string {
	parts := make([]string, 0, 2)
	if first != "" {
		parts = append(parts, first)
	}
	if last != "" {
		parts = append(parts, last)
	}
	if len(parts) > 0 {
		return strings.TrimSpace(strings.Join(parts, " "))
	}
	return strings.TrimSpace(fallback)
}

// likeMeta strips the LIKE wildcards and the ILIKE escape character
var likeMeta = strings.NewReplacer("%", "", "_", "", `\`, "")

// NameTerms splits a full name into lower-cased search terms with % _ and \
// removed. Empty terms are dropped.
func NameTerms(fullName string) []string {
	fields := strings.Fields(strings.ToLower(fullName))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		term := likeMeta.Replace(f)
		if term == "" {
			continue
		}
		terms = append(terms, term)
	}
	return terms
}

// DigitsOnly keeps only the ASCII digits 0-9
func DigitsOnly(s string) string {
	var result strings.Builder
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			result.WriteByte(c)
		}
	}
	return result.String()
}
