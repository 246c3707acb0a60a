package prompt

import (
	_ "embed"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

//go:embed system.md
var systemTemplate string

const languagePlaceholder = "{{ language }}"

// System renders the system instructions for a conversation in locale.
func System(locale string) string {
	return strings.ReplaceAll(systemTemplate, languagePlaceholder, LanguageName(locale))
}

// LanguageName returns the English name of the language of a BCP 47 locale,
// falling back to English.
func LanguageName(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil || tag == language.Und {
		return "English"
	}
	base, _ := tag.Base()
	name := display.English.Languages().Name(base)
	if name == "" {
		return "English"
	}
	return name
}
