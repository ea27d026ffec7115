package validation

import (
	"regexp"
	"strings"
)

// Account numbers are issued by the vendor platform: digits with an optional
// broker prefix, e.g. "886528" or "MT5-886528".
var accountNumberRe = regexp.MustCompile(`^[A-Z0-9]+(-[A-Z0-9]+)*$`)

func IsValidAccountNumber(accountNumber string) bool {
	return accountNumber != "" && accountNumberRe.MatchString(strings.ToUpper(accountNumber))
}

// HasSufficientNotes enforces that a rationale was actually recorded, not a
// stub: at least minLen characters after trimming, and not one repeated
// filler character ("..........").
func HasSufficientNotes(notes string, minLen int) bool {
	trimmed := strings.TrimSpace(notes)
	if len(trimmed) < minLen {
		return false
	}
	first := rune(trimmed[0])
	for _, r := range trimmed {
		if r != first {
			return true
		}
	}
	return false
}
