package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ValidPrompt(t *testing.T) {
	prompt, err := Get("scoring.json", "score-match")
	require.NoError(t, err)
	assert.Contains(t, prompt, "match_score")
}

func TestGet_InvalidFile(t *testing.T) {
	_, err := Get("nonexistent.json", "some-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGet_InvalidKey(t *testing.T) {
	_, err := Get("scoring.json", "nonexistent-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestList_AllShippedPrompts(t *testing.T) {
	shipped := map[string][]string{
		"scoring.json":    {"score-match"},
		"generation.json": {"cover-letter", "tailored-cv"},
		"outcome.json":    {"classify-email"},
	}
	for file, keys := range shipped {
		got, err := List(file)
		require.NoError(t, err)
		assert.Equal(t, keys, got, file)
		for _, key := range keys {
			prompt, err := Get(file, key)
			require.NoError(t, err)
			assert.NotEmpty(t, Placeholders(prompt), "%s:%s", file, key)
		}
	}
}

func TestFormat(t *testing.T) {
	template := "Apply to {{.Title}} at {{.Company}}!"
	data := map[string]string{
		"Title":   "Platform Engineer",
		"Company": "Acme Corp",
	}

	assert.Equal(t, "Apply to Platform Engineer at Acme Corp!", Format(template, data))
}

func TestFormat_EmptyData(t *testing.T) {
	template := "Hello {{.Name}}"
	assert.Equal(t, template, Format(template, map[string]string{}))
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{{.B}} and {{.A}} and {{.B}} but not {{A}}")
	assert.Equal(t, []string{"A", "B"}, got)
	assert.Empty(t, Placeholders("plain text"))
}

func TestRender(t *testing.T) {
	t.Run("missing values fail", func(t *testing.T) {
		_, err := Render("outcome.json", "classify-email", map[string]string{"Company": "Acme"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "From")
		assert.Contains(t, err.Error(), "Subject")
	})

	t.Run("all values", func(t *testing.T) {
		out, err := Render("outcome.json", "classify-email", map[string]string{
			"Company": "Acme",
			"From":    "jobs@acme.com",
			"Subject": "Your application",
			"Snippet": "Thanks for applying",
		})
		require.NoError(t, err)
		assert.Contains(t, out, "jobs@acme.com")
		assert.Empty(t, Placeholders(out))
	})
}
