package service

import (
	"fmt"
	"regexp"
	"strings"
)

// Redaction is the result of scrubbing one text. Mapping is held
// in-process only, never persisted and never sent to a model or a
// customer; it exists solely so internal display can restore the
// original wording.
type Redaction struct {
	Text    string
	Mapping map[string]string // token -> original span
}

// Redactor deterministically replaces PII spans with typed tokens
// ([EMAIL_1], [PHONE_2], ...) before text reaches any model call.
// Redaction is default-on; disabling it is an explicit per-organization
// compliance opt-out.
type Redactor struct {
	rules []redactRule
}

type redactRule struct {
	label    string
	re       *regexp.Regexp
	group    int // submatch index to redact; 0 redacts the whole match
	validate func(string) bool
}

// Rule order matters: earlier rules consume spans later rules would
// otherwise partially match (cards before account numbers, account
// numbers before phones).
func NewRedactor() *Redactor {
	return &Redactor{rules: []redactRule{
		{
			label: "EMAIL",
			re:    regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		},
		{
			label:    "CARD",
			re:       regexp.MustCompile(`\b\d(?:[ \-]?\d){12,18}\b`),
			validate: luhnValid,
		},
		{
			// US SSN and UK NIN shapes.
			label: "NATIONAL_ID",
			re:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b[A-CEGHJ-PR-TW-Z]{2}\d{6}[A-D]\b`),
		},
		{
			label: "DOB",
			re:    regexp.MustCompile(`(?i)(?:born on|date of birth|dob|birthday)\W{0,5}(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}|\d{4}-\d{2}-\d{2})`),
			group: 1,
		},
		{
			label: "ACCOUNT",
			re:    regexp.MustCompile(`(?i)(?:account|acct|a/c|iban)(?:\s+(?:no|num|number))?(?:\s+is)?\W{0,5}([A-Z]{0,2}\d{6,20})`),
			group: 1,
		},
		{
			label: "PHONE",
			re:    regexp.MustCompile(`\+\d{1,3}[ \-]?\d{3,4}[ \-]?\d{3,4}[ \-]?\d{0,4}|\(\d{3}\)[ \-]?\d{3}[ \-]?\d{4}|\b0\d{9,12}\b|\b\d{3}[\-. ]\d{3}[\-. ]\d{4}\b`),
		},
		{
			label: "NAME",
			// Case-insensitive trigger, case-sensitive name: the
			// capitalization heuristic is what keeps ordinary words out.
			re:    regexp.MustCompile(`\b(?i:my name is|my name's|i am called|this is)[ ]+([A-Z][a-z]+(?:[ ][A-Z][a-z]+){0,2})`),
			group: 1,
		},
		{
			label: "NAME",
			re:    nameDictionaryPattern(),
			group: 1,
		},
	}}
}

// Redact replaces every recognized PII span with a typed token and
// returns the reversible mapping.
func (r *Redactor) Redact(text string) Redaction {
	mapping := make(map[string]string)
	counters := make(map[string]int)

	for _, rule := range r.rules {
		text = applyRule(text, rule, mapping, counters)
	}

	return Redaction{Text: text, Mapping: mapping}
}

// Restore substitutes tokens back with their original spans. Used only
// for internal display, never for customer-bound or model-bound text.
func Restore(text string, mapping map[string]string) string {
	for token, original := range mapping {
		text = strings.ReplaceAll(text, token, original)
	}
	return text
}

func applyRule(text string, rule redactRule, mapping map[string]string, counters map[string]int) string {
	matches := rule.re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	// Replace back to front so earlier indexes stay valid.
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		start, end := m[2*rule.group], m[2*rule.group+1]
		if start < 0 {
			continue
		}
		span := text[start:end]
		if rule.validate != nil && !rule.validate(span) {
			continue
		}
		if looksLikeToken(text, start) {
			continue
		}

		counters[rule.label]++
		token := fmt.Sprintf("[%s_%d]", rule.label, counters[rule.label])
		mapping[token] = span
		text = text[:start] + token + text[end:]
	}
	return text
}

// looksLikeToken guards against re-redacting inside an already inserted
// token, e.g. the digits of [PHONE_1].
func looksLikeToken(text string, start int) bool {
	if start == 0 {
		return false
	}
	return text[start-1] == '_' || text[start-1] == '['
}

func luhnValid(span string) bool {
	var digits []int
	for _, c := range span {
		if c >= '0' && c <= '9' {
			digits = append(digits, int(c-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// commonFirstNames is the dictionary half of name detection. Matching is
// case-sensitive on the capitalized form to avoid eating ordinary words.
var commonFirstNames = []string{
	"James", "Mary", "John", "Patricia", "Robert", "Jennifer", "Michael",
	"Linda", "David", "Elizabeth", "William", "Barbara", "Richard",
	"Susan", "Joseph", "Jessica", "Thomas", "Sarah", "Charles", "Karen",
	"Christopher", "Nancy", "Daniel", "Lisa", "Matthew", "Betty",
	"Anthony", "Margaret", "Mark", "Sandra", "Ahmed", "Fatima", "Chen",
	"Wei", "Amara", "Kofi", "Priya", "Raj", "Yuki", "Hiroshi", "Olga",
	"Ivan", "Ada", "Emeka", "Ngozi", "Chioma",
}

func nameDictionaryPattern() *regexp.Regexp {
	return regexp.MustCompile(`\b(` + strings.Join(commonFirstNames, "|") + `)\b`)
}
