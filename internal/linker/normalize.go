// Package linker resolves organisation mentions to issuers: exact alias
// lookups first, then fuzzy search against the securities master with
// auto-learning of confident matches.
package linker

import (
	"strings"
)

// legal-form prefixes stripped during normalization, longest first
var legalForms = []string{
	"публичное акционерное общество",
	"акционерное общество",
	"общество с ограниченной ответственностью",
	"пао", "оао", "ооо", "зао", "ао",
	"pjsc", "jsc", "llc", "plc",
}

var quoteReplacer = strings.NewReplacer(
	"«", "", "»", "",
	"“", "", "”", "", "„", "",
	`"`, "", "'", "",
	"–", " ", "—", " ", "-", " ",
)

// Normalize folds an organisation mention into its canonical lookup form:
// lowercase, quotes stripped, legal forms removed, dashes collapsed to
// spaces.
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = quoteReplacer.Replace(s)

	for _, form := range legalForms {
		s = strings.TrimPrefix(s, form+" ")
		s = strings.TrimSuffix(s, " "+form)
	}
	return strings.Join(strings.Fields(s), " ")
}
