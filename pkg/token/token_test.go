package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDomainOnly(t *testing.T) {
	tok := Parse("freedm")
	assert.Equal(t, "freedm", tok.Domain)
	assert.Empty(t, tok.Path)
	assert.True(t, tok.IsWhole())
}

func TestParseNestedPath(t *testing.T) {
	tok := Parse("freedm.network.name")
	assert.Equal(t, "freedm", tok.Domain)
	assert.Len(t, tok.Path, 2)
	assert.Equal(t, KindIdentifier, tok.Path[0].Kind)
	assert.Equal(t, "network", tok.Path[0].Text)
	assert.Equal(t, "name", tok.Path[1].Text)
}

func TestParseSpecialSegments(t *testing.T) {
	tok := Parse("user.45.name")
	assert.Equal(t, KindIndex, tok.Path[0].Kind)
	assert.Equal(t, 45, tok.Path[0].Index)

	tok2 := Parse("user.[].name")
	assert.Equal(t, KindAppend, tok2.Path[0].Kind)

	tok3 := Parse("settings.+.ports")
	assert.Equal(t, KindWildcard, tok3.Path[0].Kind)
}

func TestParseEmptyToken(t *testing.T) {
	tok := Parse("")
	assert.Equal(t, "", tok.Domain)
	assert.True(t, tok.IsWhole())
}

func TestStringRoundtrip(t *testing.T) {
	for _, raw := range []string{"freedm", "freedm.network.name", "user.45.name", "settings.options.[]"} {
		assert.Equal(t, raw, Parse(raw).String())
	}
}

func TestIsDecimalRejectsNonDigits(t *testing.T) {
	tok := Parse("freedm.abc123")
	assert.Equal(t, KindIdentifier, tok.Path[0].Kind)
}
