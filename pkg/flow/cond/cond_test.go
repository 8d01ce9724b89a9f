package cond

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndEval(t *testing.T) {
	env := Env{
		"complexity":                        "complex",
		"quality_score":                     0.85,
		"step_count":                        3,
		"critical_evaluation.quality_score": 0.9,
		"critical_evaluation.status":        "completed",
	}

	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"string equality", `complexity == 'complex'`, true},
		{"string inequality", `complexity != 'simple'`, true},
		{"double-quoted string", `complexity == "complex"`, true},
		{"float comparison", `quality_score >= 0.8`, true},
		{"float strict less", `quality_score < 0.85`, false},
		{"int comparison", `step_count > 2`, true},
		{"step quality score", `critical_evaluation.quality_score >= 0.8`, true},
		{"step status", `critical_evaluation.status == 'completed'`, true},
		{"and", `complexity == 'complex' && quality_score > 0.5`, true},
		{"and false", `complexity == 'simple' && quality_score > 0.5`, false},
		{"or", `complexity == 'simple' || quality_score > 0.5`, true},
		{"not", `!(complexity == 'simple')`, true},
		{"parentheses", `(quality_score >= 0.8 || step_count > 10) && complexity == 'complex'`, true},
		{"boolean literal", `true`, true},
		{"boolean literal false", `false`, false},
		{"negative number", `quality_score > -1`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.src)
			require.NoError(t, err)
			got, err := expr.Eval(env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ``},
		{"unterminated string", `complexity == 'complex`},
		{"trailing garbage", `complexity == 'complex' extra`},
		{"missing paren", `(complexity == 'complex'`},
		{"function call", `len(complexity) > 0`},
		{"arithmetic", `quality_score + 0.1 > 0.5`},
		{"non-whitelist identifier", `secret == 'x'`},
		{"deep attribute access", `a.b.c == 1`},
		{"disallowed step property", `step_a.raw_text == 'x'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			assert.Error(t, err)
		})
	}
}

func TestEvalErrors(t *testing.T) {
	t.Run("unknown identifier", func(t *testing.T) {
		expr, err := Parse(`complexity == 'complex'`)
		require.NoError(t, err)
		_, err = expr.Eval(Env{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown identifier")
	})

	t.Run("type mismatch", func(t *testing.T) {
		expr, err := Parse(`complexity > 0.5`)
		require.NoError(t, err)
		_, err = expr.Eval(Env{"complexity": "complex"})
		assert.Error(t, err)
	})

	t.Run("non-boolean result", func(t *testing.T) {
		expr, err := Parse(`'just a string'`)
		require.NoError(t, err)
		_, err = expr.Eval(Env{})
		assert.Error(t, err)
	})

	t.Run("short-circuit skips unreached side", func(t *testing.T) {
		expr, err := Parse(`false && missing_step.status == 'completed'`)
		require.NoError(t, err)
		got, err := expr.Eval(Env{})
		require.NoError(t, err)
		assert.False(t, got)
	})
}

func TestIdentifiers(t *testing.T) {
	expr, err := Parse(`complexity == 'complex' && critic.quality_score >= 0.8 && critic.status == 'completed'`)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"complexity", "critic.quality_score", "critic.status"},
		expr.Identifiers())
	assert.Equal(t, []string{"critic", "critic"}, expr.StepRefs())
}

func TestIntPromotion(t *testing.T) {
	expr, err := Parse(`step_count == 3`)
	require.NoError(t, err)

	for _, v := range []any{3, int64(3), float64(3)} {
		got, err := expr.Eval(Env{"step_count": v})
		require.NoError(t, err)
		assert.True(t, got)
	}
}
