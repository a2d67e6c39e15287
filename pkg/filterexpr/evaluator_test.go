package filterexpr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid comparison on nested payload",
			expr:      `payload.Valor == "150.00"`,
			wantError: false,
		},
		{
			name:      "valid root field check",
			expr:      `has(root.Email)`,
			wantError: false,
		},
		{
			name:      "invalid syntax",
			expr:      `this is not cel!!!`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `undefinedVar == "x"`,
			wantError: true,
		},
		{
			name:      "non-boolean result",
			expr:      `root.Email`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	root := map[string]interface{}{
		"Email":   "customer@example.com",
		"DueDate": "2025-12-31",
	}
	payload := map[string]interface{}{
		"Valor": "150.00",
		"Data":  "2025-12-31",
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{
			name: "matching payload value",
			expr: `payload.Valor == "150.00"`,
			want: true,
		},
		{
			name: "non-matching payload value",
			expr: `payload.Valor == "999.99"`,
			want: false,
		},
		{
			name: "root field presence",
			expr: `has(root.Email) && root.Email != ""`,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.Evaluate(context.Background(), tt.expr, root, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateMissingField(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	_, err = eval.Evaluate(context.Background(), `payload.Missing == "x"`, nil, map[string]interface{}{})
	assert.Error(t, err)
}
