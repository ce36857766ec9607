package blendshape

import (
	"strings"
	"unicode"
)

// canonicalByFold maps case/punctuation-folded spellings to canonical names.
// Besides the vocabulary itself it carries the common "_L"/"_R" suffix
// variants some generation models and mesh exporters use.
var canonicalByFold = func() map[string]string {
	table := make(map[string]string, len(CanonicalNames)*2)
	for _, name := range CanonicalNames {
		folded := fold(name)
		table[folded] = name
		if strings.HasSuffix(folded, "left") {
			table[strings.TrimSuffix(folded, "left")+"l"] = name
		}
		if strings.HasSuffix(folded, "right") {
			table[strings.TrimSuffix(folded, "right")+"r"] = name
		}
	}
	return table
}()

// Canonicalize maps a raw blendshape key to its canonical spelling. Known
// names match case- and punctuation-insensitively; unknown names are
// camel-cased as a best-effort canonical form. The result is stable:
// Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(raw string) string {
	if name, ok := canonicalByFold[fold(raw)]; ok {
		return name
	}
	return camelCase(raw)
}

// fold lowercases and strips everything but letters and digits.
func fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// camelCase joins the separator-delimited words of s into lowerCamelCase.
// Input already in camel case passes through with only its first rune
// lowered, keeping the function idempotent.
func camelCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for i, w := range words {
		if w == strings.ToUpper(w) {
			w = strings.ToLower(w)
		}
		runes := []rune(w)
		if i == 0 {
			runes[0] = unicode.ToLower(runes[0])
		} else {
			runes[0] = unicode.ToUpper(runes[0])
		}
		b.WriteString(string(runes))
	}
	return b.String()
}
