package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFencing(t *testing.T) {
	assert.Equal(t, "const x = 1;", stripFencing("```js\nconst x = 1;\n```"))
	assert.Equal(t, "const x = 1;", stripFencing("```\nconst x = 1;\n```"))
	assert.Equal(t, "plain", stripFencing("plain"))
	assert.Equal(t, "a\nb", stripFencing("  a\nb  "))
}

func TestParseVerdict_StructuredJSON(t *testing.T) {
	v, err := ParseVerdict(`{"verdict":"fail","summary":"broken entry","findings":[{"file":"index.js","severity":"error","detail":"missing"}]}`)
	require.NoError(t, err)
	assert.False(t, v.Passed())
	require.Len(t, v.Findings, 1)
	assert.Equal(t, "index.js", v.Findings[0].File)
}

func TestParseVerdict_FencedJSON(t *testing.T) {
	v, err := ParseVerdict("```json\n{\"verdict\":\"pass\",\"summary\":\"ok\",\"findings\":[]}\n```")
	require.NoError(t, err)
	assert.True(t, v.Passed())
}

func TestParseVerdict_LegacyProseFallback(t *testing.T) {
	v, err := ParseVerdict("Everything looks good.\nVERDICT: PASS")
	require.NoError(t, err)
	assert.True(t, v.Passed())

	v, err = ParseVerdict("Entry point missing.\nVERDICT: FAIL")
	require.NoError(t, err)
	assert.False(t, v.Passed())
}

func TestParseVerdict_NoVerdict(t *testing.T) {
	_, err := ParseVerdict("I am not sure about this project.")
	assert.Error(t, err)
}
