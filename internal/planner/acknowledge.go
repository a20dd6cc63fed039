package planner

import (
	"regexp"
	"strings"
)

// acknowledgementMaxLen is the length cutoff below which a message is
// even considered for acknowledgement classification (§4.3 rule 1).
const acknowledgementMaxLen = 15

// affirmatives is the fixed set of short confirmation phrases recognised
// as acknowledgements, in a fixed set of affirmatives per the user's
// language (§4.3 rule 1) rather than English alone. Matching is
// case-insensitive, punctuation is stripped throughout (not just at
// the edges), and runs of whitespace are collapsed before lookup.
var affirmatives = map[string]struct{}{
	// English
	"ok": {}, "okay": {}, "k": {}, "kk": {},
	"yes": {}, "yep": {}, "yeah": {}, "yup": {},
	"sure": {}, "sounds good": {}, "got it": {},
	"thanks": {}, "thank you": {}, "ty": {},
	"alright": {}, "fine": {}, "go ahead": {}, "do it": {},
	"please do": {}, "continue": {}, "proceed": {},
	"confirmed": {}, "confirm": {}, "good": {}, "perfect": {},
	"great": {}, "understood": {},
	// Italian
	"sì": {}, "si": {}, "sì grazie": {}, "si grazie": {},
	"va bene": {}, "grazie": {}, "perfetto": {}, "capito": {},
	"certo": {}, "ok grazie": {}, "d'accordo": {}, "procedi": {},
	// Spanish
	"sí": {}, "vale": {}, "gracias": {}, "de acuerdo": {}, "claro": {},
	"entendido": {}, "perfecto": {},
	// French
	"oui": {}, "merci": {}, "d'accord": {}, "compris": {}, "continuez": {},
	// German
	"ja": {}, "gut": {}, "danke": {}, "verstanden": {}, "einverstanden": {},
}

var nonWordRun = regexp.MustCompile(`[\s.!,;:]+`)

// isAcknowledgement reports whether content is a short fixed-phrase
// confirmation (§4.3 rule 1, first half; the caller still must check
// for a pending waiting_user plan before treating it as a resume).
func isAcknowledgement(content string) bool {
	normalized := strings.TrimSpace(nonWordRun.ReplaceAllString(strings.TrimSpace(content), " "))
	if normalized == "" {
		return false
	}
	if len(normalized) >= acknowledgementMaxLen {
		return false
	}
	_, ok := affirmatives[strings.ToLower(normalized)]
	return ok
}

// webIntentRegex flags messages that ask for current/external
// information, mirroring the teacher's quick/reason classifiers'
// keyword-regex approach.
var webIntentRegex = regexp.MustCompile(`(?i)\b(search|look up|latest|news|current|today|weather|price|stock|who is|what is happening)\b`)

// suppressForceWebSearch reports whether the planner should override a
// caller-supplied force_web_search=true to false for this message
// (§4.3 last paragraph): acknowledgements, and short messages with no
// web-intent keywords.
func suppressForceWebSearch(content string) bool {
	trimmed := strings.TrimSpace(content)
	if isAcknowledgement(trimmed) {
		return true
	}
	if len(trimmed) < acknowledgementMaxLen && !webIntentRegex.MatchString(trimmed) {
		return true
	}
	return false
}
