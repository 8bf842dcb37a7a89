// Package i18n renders user-facing governance messages.
//
// Messages for policy denials are written for children: specific, friendly,
// and non-shaming. Infrastructure failures intentionally render a generic
// "try again" line so no internal detail leaks to the player.
package i18n

import (
	"bytes"
	"strings"
	"text/template"

	"golang.org/x/text/language"
)

// Code is a machine-readable error code (duplicated from the errors package
// to avoid an import cycle).
type Code = string

// BaseLocale is the fallback locale when a requested locale is unsupported.
const BaseLocale = "en-US"

// Catalog maps error codes to message templates for a specific locale.
type Catalog struct {
	locale   string
	messages map[Code]string
}

var (
	catalogs = map[string]*Catalog{
		BaseLocale: {locale: BaseLocale, messages: messagesEnUS},
	}

	supportedTags = []language.Tag{
		language.AmericanEnglish, // en-US, first tag is the fallback
	}
	matcher = language.NewMatcher(supportedTags)
)

// GetCatalog returns the catalog best matching the given locale.
// Unknown or empty locales fall back to en-US.
func GetCatalog(locale string) *Catalog {
	requested := strings.TrimSpace(locale)
	if requested == "" {
		requested = BaseLocale
	}

	tag, _ := language.MatchStrings(matcher, requested)
	resolved := tag.String()
	if c, ok := catalogs[resolved]; ok {
		return c
	}
	return catalogs[BaseLocale]
}

// Locale returns the locale of this catalog.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message template with the given metadata.
// Falls back to the error code itself if no template is found.
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	tmpl, ok := c.messages[code]
	if !ok {
		return code
	}

	if metadata == nil {
		metadata = map[string]string{}
	}

	t, err := template.New("msg").Parse(tmpl)
	if err != nil {
		return tmpl
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, metadata); err != nil {
		return tmpl
	}
	return buf.String()
}
