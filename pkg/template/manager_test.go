package template

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcps/deep-thinking/pkg/config"
)

func testIndex() *config.TemplateIndex {
	return config.NewTemplateIndex(map[string]*config.TemplateConfig{
		"greeting": {
			RequiredParams: []string{"topic"},
			OptionalParams: []string{"focus"},
			Body:           "Think about {topic}. Focus: {focus}.",
		},
		"braces": {
			RequiredParams: []string{"name"},
			Body:           `{{"key": "{name}"}}`,
		},
	})
}

func TestGetRendersTemplate(t *testing.T) {
	m := NewManager(testIndex(), 10)

	out, err := m.Get("greeting", map[string]string{"topic": "caching", "focus": "speed"})
	require.NoError(t, err)
	assert.Equal(t, "Think about caching. Focus: speed.", out)
}

func TestGetOptionalParamDefaultsToEmpty(t *testing.T) {
	m := NewManager(testIndex(), 10)

	out, err := m.Get("greeting", map[string]string{"topic": "caching"})
	require.NoError(t, err)
	assert.Equal(t, "Think about caching. Focus: .", out)
}

func TestGetMissingRequiredParams(t *testing.T) {
	m := NewManager(testIndex(), 10)

	_, err := m.Get("greeting", map[string]string{"focus": "speed"})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingRequiredField)
	assert.Contains(t, err.Error(), "topic")

	var valErr *config.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestGetUnknownTemplate(t *testing.T) {
	m := NewManager(testIndex(), 10)

	_, err := m.Get("ghost", map[string]string{})
	assert.ErrorIs(t, err, config.ErrTemplateNotFound)
}

func TestGetExtraParamsIgnored(t *testing.T) {
	m := NewManager(testIndex(), 10)

	out, err := m.Get("greeting", map[string]string{
		"topic": "caching", "focus": "speed", "surplus": "ignored",
	})
	require.NoError(t, err)
	assert.NotContains(t, out, "ignored")
}

func TestBraceEscapes(t *testing.T) {
	m := NewManager(testIndex(), 10)

	out, err := m.Get("braces", map[string]string{"name": "value"})
	require.NoError(t, err)
	assert.Equal(t, `{"key": "value"}`, out)
}

func TestGetDeterministic(t *testing.T) {
	m := NewManager(testIndex(), 10)
	params := map[string]string{"topic": "caching", "focus": "speed"}

	first, err := m.Get("greeting", params)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := m.Get("greeting", params)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCacheEviction(t *testing.T) {
	m := NewManager(testIndex(), 3)

	for i := 0; i < 10; i++ {
		_, err := m.Get("greeting", map[string]string{"topic": fmt.Sprintf("t%d", i)})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, m.cache.len())
}

func TestReloadSwapsSnapshot(t *testing.T) {
	m := NewManager(testIndex(), 10)

	_, err := m.Get("greeting", map[string]string{"topic": "before"})
	require.NoError(t, err)

	m.Reload(config.NewTemplateIndex(map[string]*config.TemplateConfig{
		"greeting": {
			RequiredParams: []string{"topic"},
			Body:           "NEW: {topic}",
		},
	}))

	out, err := m.Get("greeting", map[string]string{"topic": "after"})
	require.NoError(t, err)
	assert.Equal(t, "NEW: after", out)
	assert.Equal(t, 1, m.cache.len(), "reload drops previously cached renders")

	assert.Equal(t, []string{"greeting"}, m.ListTemplates())
}

func TestCacheKeyOrderIndependent(t *testing.T) {
	a := cacheKey("x", map[string]string{"p": "1", "q": "2"})
	b := cacheKey("x", map[string]string{"q": "2", "p": "1"})
	assert.Equal(t, a, b)

	c := cacheKey("x", map[string]string{"p": "1", "q": "3"})
	assert.NotEqual(t, a, c)
}
