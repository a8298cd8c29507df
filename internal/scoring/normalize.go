package scoring

import (
	"strings"
	"unicode"
)

// skillAliases maps common skill spellings to a canonical lower-case form
var skillAliases = map[string]string{
	"golang":     "go",
	"go lang":    "go",
	"js":         "javascript",
	"ts":         "typescript",
	"k8s":        "kubernetes",
	"react.js":   "react",
	"reactjs":    "react",
	"vue.js":     "vue",
	"vuejs":      "vue",
	"nodejs":     "node.js",
	"postgres":   "postgresql",
	"psql":       "postgresql",
	"gcp":        "google cloud",
	"aws":        "amazon web services",
	"py":         "python",
	"c sharp":    "c#",
	"dotnet":     ".net",
	"ml":         "machine learning",
	"tf":         "terraform",
	"gh actions": "github actions",
}

// canonicalSkill normalizes a skill name to its canonical lower-case form
func canonicalSkill(skill string) string {
	s := strings.ToLower(strings.Join(strings.Fields(skill), " "))
	if canonical, ok := skillAliases[s]; ok {
		return canonical
	}
	return s
}

// spellings returns every spelling that refers to the canonical skill
func spellings(canonical string) []string {
	out := []string{canonical}
	for alias, c := range skillAliases {
		if c == canonical {
			out = append(out, alias)
		}
	}
	return out
}

// tokenize lower-cases text and splits it on anything that cannot appear in a skill
// name, so "Go," and "(Go)" both yield "go" while "c++" and "node.js" survive.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("+#.", r)
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// mentions reports whether text mentions skill as a whole word or phrase
func mentions(text, skill string) bool {
	haystack := " " + strings.Join(tokenize(text), " ") + " "
	for _, spelling := range spellings(canonicalSkill(skill)) {
		needle := " " + strings.Join(tokenize(spelling), " ") + " "
		if strings.TrimSpace(needle) == "" {
			continue
		}
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
