package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchDeepLink(t *testing.T) {
	m := Manifest{ID: "fetch.std.dweb", DeepLinks: []string{"", "https:", "http:"}}

	prefix, ok := m.MatchDeepLink("https://example.com")
	assert.True(t, ok)
	assert.Equal(t, "https:", prefix)

	prefix, ok = m.MatchDeepLink("http://example.com")
	assert.True(t, ok)
	assert.Equal(t, "http:", prefix)

	_, ok = m.MatchDeepLink("dweb:install")
	assert.False(t, ok)
}

func TestCloneIsDeep(t *testing.T) {
	m := Manifest{ID: "a.dweb", Categories: []Category{CategoryService}, DeepLinks: []string{"a:"}}
	c := m.Clone()
	c.Categories[0] = CategorySystem
	c.DeepLinks[0] = "b:"

	assert.True(t, m.HasCategory(CategoryService))
	assert.Equal(t, "a:", m.DeepLinks[0])
}
