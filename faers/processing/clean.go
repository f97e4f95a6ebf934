package processing

import (
	"regexp"
	"strings"
)

var drugNameNoise = regexp.MustCompile(`[^a-zA-Z0-9\s]+`)

// CleanDrugName normalizes a drug name: punctuation removed, upper case,
// surrounding whitespace trimmed, and the literal NULL mapped to empty.
// Applying it twice gives the same result as applying it once.
func CleanDrugName(name string) string {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, "NULL") {
		return ""
	}
	name = strings.ToUpper(strings.TrimSpace(drugNameNoise.ReplaceAllString(name, "")))
	if name == "NULL" {
		return ""
	}
	return name
}
