// Package template resolves (name, params) pairs into rendered prompt
// strings. Template bodies are opaque text with {param} markers; rendering
// is pure substitution with no code execution and no recursion.
package template

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/mcps/deep-thinking/pkg/config"
)

// Manager renders templates from an immutable snapshot with a bounded
// render cache. Reload swaps the snapshot atomically; in-flight renders
// keep the old one.
type Manager struct {
	index atomic.Pointer[config.TemplateIndex]
	cache *renderCache
}

// NewManager creates a manager over the given template index.
func NewManager(index *config.TemplateIndex, cacheSize int) *Manager {
	m := &Manager{
		cache: newRenderCache(cacheSize),
	}
	m.index.Store(index)
	return m
}

// Get renders the named template with params. Missing required parameters
// produce a ValidationError listing every missing name; extra parameters
// are permitted and ignored. Repeated calls with equal inputs return
// identical strings.
func (m *Manager) Get(name string, params map[string]string) (string, error) {
	index := m.index.Load()
	tmpl, err := index.Get(name)
	if err != nil {
		return "", err
	}

	var missing []string
	for _, p := range tmpl.RequiredParams {
		if _, ok := params[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", config.NewValidationError("template", name, "params",
			fmt.Errorf("%w: missing required parameters: %s",
				config.ErrMissingRequiredField, strings.Join(missing, ", ")))
	}

	key := cacheKey(name, params)
	if rendered, ok := m.cache.get(key); ok {
		return rendered, nil
	}

	rendered := substitute(tmpl.Body, params)
	m.cache.put(key, rendered)
	return rendered, nil
}

// ListTemplates returns the names of all available templates, sorted.
func (m *Manager) ListTemplates() []string {
	return m.index.Load().Names()
}

// Reload swaps in a new template index and drops the render cache.
// Renders already in progress finish against the old index.
func (m *Manager) Reload(index *config.TemplateIndex) {
	m.index.Store(index)
	m.cache.clear()
}

// cacheKey hashes the template name and the sorted (param, value) pairs
// so equal inputs always map to the same entry.
func cacheKey(name string, params map[string]string) uint64 {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxhash.New()
	_, _ = h.WriteString(name)
	for _, k := range keys {
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(k)
		_, _ = h.Write([]byte{1})
		_, _ = h.WriteString(params[k])
	}
	return h.Sum64()
}

// substitute replaces each {name} marker with its parameter value.
// {{ and }} produce literal braces. Markers whose parameter is absent
// (declared optional) render as the empty string.
func substitute(body string, params map[string]string) string {
	var sb strings.Builder
	sb.Grow(len(body))

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch c {
		case '{':
			if i+1 < len(body) && body[i+1] == '{' {
				sb.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(body[i+1:], '}')
			if end < 0 {
				sb.WriteString(body[i:])
				return sb.String()
			}
			name := body[i+1 : i+1+end]
			sb.WriteString(params[name])
			i += end + 1
		case '}':
			if i+1 < len(body) && body[i+1] == '}' {
				sb.WriteByte('}')
				i++
				continue
			}
			sb.WriteByte('}')
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
