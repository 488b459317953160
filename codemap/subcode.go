// Package codemap maps external tariff codes onto the classification
// hierarchy and derives the component type of a reference price.
package codemap

import (
	"regexp"
	"strings"
)

// Whitespace may separate the family letters from the number ("XC 4.2") but
// ends the subcode anywhere after it.
var subcodePattern = regexp.MustCompile(`^([A-Z]+)\s*([0-9]+(?:\.[0-9]+)*)`)

// ExtractSubcode returns the canonical subcode of a raw tariff code: the
// alphabetic family prefix with its number and any dotted numeric segments.
// "XC1.17/X01203" yields "XC1.17". Applying it to its own output returns the
// same value.
func ExtractSubcode(sourceCode string) (string, bool) {
	m := subcodePattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(sourceCode)))
	if m == nil {
		return "", false
	}
	return m[1] + m[2], true
}

// Family returns the subcode up to its first dot: "XC4.2" is in family "XC4".
func Family(subcode string) string {
	if i := strings.IndexByte(subcode, '.'); i >= 0 {
		return subcode[:i]
	}
	return subcode
}

// parentSubcode drops the last dotted segment, "" at the family level.
func parentSubcode(subcode string) string {
	i := strings.LastIndexByte(subcode, '.')
	if i < 0 {
		return ""
	}
	return subcode[:i]
}
