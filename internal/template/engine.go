package template

import (
	"regexp"
	"strings"
)

var (
	placeholderPattern = regexp.MustCompile(`(?s)\{\{(.*?)\}\}`)
	markupTagPattern   = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern  = regexp.MustCompile(`\s+`)

	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&#160;", " ",
		"&amp;", "&",
	)
)

// CleanVariable recovers a variable name from the inside of a placeholder.
// Rich-text editors wrap placeholder text in formatting tags and entities
// ("{{<strong>Valor</strong>}}", "{{Valor&nbsp;}}"), so markup is stripped,
// entities collapsed, whitespace normalized and the result trimmed. Names are
// case-sensitive.
func CleanVariable(raw string) string {
	s := markupTagPattern.ReplaceAllString(raw, "")
	s = entityReplacer.Replace(s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ExtractVariables scans every given text for {{...}} placeholders and
// returns the deduplicated variable names in order of first appearance.
func ExtractVariables(texts ...string) []string {
	seen := make(map[string]struct{})
	var names []string

	for _, text := range texts {
		for _, match := range placeholderPattern.FindAllStringSubmatch(text, -1) {
			name := CleanVariable(match[1])
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}

	return names
}

// Render substitutes placeholder values into a template. Inside each
// placeholder span only the text matching the variable name is replaced, so
// formatting tags wrapped around the name survive. Placeholders whose
// variable has no value pass through literally; a partially rendered message
// stays diagnosable.
func Render(tmpl string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(span string) string {
		inner := span[2 : len(span)-2]
		name := CleanVariable(inner)
		if name == "" {
			return span
		}

		value, ok := values[name]
		if !ok {
			return span
		}

		namePattern, err := regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\b`)
		if err != nil {
			return span
		}

		if !namePattern.MatchString(inner) {
			// The name only materializes after entity/whitespace cleanup;
			// substitute the whole inner text instead.
			return value
		}

		return namePattern.ReplaceAllLiteralString(inner, value)
	})
}
