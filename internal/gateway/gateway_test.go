package gateway

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitKeepsShortText(t *testing.T) {
	assert.Equal(t, []string{"hola"}, Split("hola", MaxMessageLen))
}

func TestSplitPrefersLineBreaks(t *testing.T) {
	line := strings.Repeat("a", 6) + "\n"
	chunks := Split(strings.Repeat(line, 3), 15)
	assert.Equal(t, []string{line + line, line}, chunks)
}

func TestSplitCutsLongLinesByRune(t *testing.T) {
	text := strings.Repeat("ñ", 25)
	chunks := Split(text, 10)
	assert.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestEscapeHTML(t *testing.T) {
	assert.Equal(t, "OBRAS &amp; SERVICIOS", EscapeHTML("OBRAS & SERVICIOS"))
	assert.Equal(t, "alerta", EscapeHTML("<b>alerta</b>"))
	assert.Equal(t, "Alerta & aviso", StripHTML("<b>Alerta</b> &amp; aviso"))
}

func TestSplitKeepsMarkupBalanced(t *testing.T) {
	text := "<b>" + strings.Repeat("x", 30) + "</b>"
	chunks := Split(text, 12)
	require.Len(t, chunks, 6)
	var plain strings.Builder
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 12)
		assert.True(t, strings.HasPrefix(c, "<b>"), c)
		assert.True(t, strings.HasSuffix(c, "</b>"), c)
		plain.WriteString(StripHTML(c))
	}
	assert.Equal(t, strings.Repeat("x", 30), plain.String())
}

func TestSplitReopensTagsAfterLineBreak(t *testing.T) {
	text := "<i>uno\ndos\ntres</i>"
	chunks := Split(text, 15)
	assert.Equal(t, []string{"<i>uno\ndos\n</i>", "<i>tres</i>"}, chunks)
}

func TestSplitNeverCutsEntities(t *testing.T) {
	chunks := Split(strings.Repeat("&amp;", 10), 12)
	require.Len(t, chunks, 5)
	for _, c := range chunks {
		assert.Equal(t, "&amp;&amp;", c)
	}
}
