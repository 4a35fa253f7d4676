// Package redact defines the PII redactor collaborator named in spec §2/§6.
// The gateway consults it before logging an inbound envelope summary to
// the mission trace. The real redactor (with locale-aware rules, allow/deny
// lists, screenshot blurring) is out of scope; Basic is a conservative
// default so the hub does not leak obvious secrets in its own trace when no
// real redactor is wired in.
package redact

import "regexp"

// Redactor masks personally identifiable information in free text.
type Redactor interface {
	Redact(text string) string
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	phonePattern = regexp.MustCompile(`\+?\d{1,3}[ .\-]?\(?\d{2,4}\)?[ .\-]?\d{3,4}[ .\-]?\d{3,4}\b`)
)

// Basic masks emails, card-like digit runs, and phone-like digit runs.
// It is intentionally conservative (prefers false positives over leaking a
// real value) since it stands in for an unconfigured real redactor.
type Basic struct{}

// NewBasic returns the default Redactor.
func NewBasic() Basic { return Basic{} }

func (Basic) Redact(text string) string {
	text = emailPattern.ReplaceAllString(text, "[redacted-email]")
	text = cardPattern.ReplaceAllString(text, "[redacted-number]")
	text = phonePattern.ReplaceAllString(text, "[redacted-number]")
	return text
}
