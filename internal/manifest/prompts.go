package manifest

import (
	"fmt"

	"github.com/locflow/locflow/internal/locales"
)

// systemInstruction is fixed across all requests so batch outputs stay
// comparable between runs.
const systemInstruction = "You are a professional technical translator for a documentation site. " +
	"Translate faithfully, keep the author's tone, and never add commentary of your own."

func markdownInstruction(sourceLocale, targetLocale, content string) string {
	return fmt.Sprintf(
		"Translate the following Markdown document from %s (%s) to %s (%s).\n"+
			"Preserve all Markdown structure exactly: headings, lists, tables, code fences, "+
			"front matter keys, links and link targets. Translate only human-readable prose. "+
			"Do not translate code, URLs, or front matter keys. Reply with the translated "+
			"document only.\n\n%s",
		locales.DisplayName(sourceLocale), sourceLocale,
		locales.DisplayName(targetLocale), targetLocale,
		content,
	)
}

func jsonInstruction(sourceLocale, targetLocale, content string) string {
	return fmt.Sprintf(
		"Translate the string values of the following JSON document from %s (%s) to %s (%s).\n"+
			"Keep every key and the overall structure unchanged; translate values only. "+
			"Reply with a single JSON object of the form {\"translation\": <document>} where "+
			"<document> is the translated JSON, and nothing else.\n\n%s",
		locales.DisplayName(sourceLocale), sourceLocale,
		locales.DisplayName(targetLocale), targetLocale,
		content,
	)
}

// UserInstruction builds the locale-aware user prompt for a request.
func UserInstruction(kind Kind, sourceLocale, targetLocale, content string) string {
	if kind == KindJSON {
		return jsonInstruction(sourceLocale, targetLocale, content)
	}
	return markdownInstruction(sourceLocale, targetLocale, content)
}

// SystemInstruction returns the shared system prompt.
func SystemInstruction() string { return systemInstruction }
