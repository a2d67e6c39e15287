package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	raw := []byte(`{"Email":"customer@example.com","DueDate":"2025-12-31","Payload":{"Valor":"150.00","Parcela":3}}`)

	p, err := ParsePayload(raw)
	require.NoError(t, err)

	assert.Equal(t, "customer@example.com", p.RootString("Email"))
	assert.Equal(t, "150.00", p.Values()["Valor"])
	assert.Equal(t, "3", p.Values()["Parcela"])
}

func TestParsePayloadEmpty(t *testing.T) {
	p, err := ParsePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestParsePayloadInvalid(t *testing.T) {
	_, err := ParsePayload([]byte("not json"))
	assert.Error(t, err)
}

func TestMissingVariables(t *testing.T) {
	payload := Payload{
		"Email":   "customer@example.com",
		"DueDate": "2025-12-31",
		"Payload": map[string]interface{}{
			"Valor": "150.00",
		},
	}

	tests := []struct {
		name        string
		payloadVars []string
		systemVars  []string
		payload     Payload
		want        []string
	}{
		{
			name:        "all satisfied",
			payloadVars: []string{"Valor"},
			systemVars:  []string{"Email"},
			payload:     payload,
			want:        nil,
		},
		{
			name:        "missing nested variable",
			payloadVars: []string{"Valor", "Data"},
			systemVars:  []string{"Email"},
			payload:     payload,
			want:        []string{"Data"},
		},
		{
			name:        "system variable looked up at root",
			payloadVars: []string{"Email"},
			systemVars:  []string{"Email"},
			payload:     payload,
			want:        nil,
		},
		{
			name:        "missing system variable reported exactly",
			payloadVars: []string{"Valor"},
			systemVars:  []string{"Email"},
			payload: Payload{
				"DueDate": "2025-12-31",
				"Payload": map[string]interface{}{"Valor": "150.00"},
			},
			want: []string{"Email"},
		},
		{
			name:        "due date always required at root",
			payloadVars: []string{"Valor"},
			systemVars:  nil,
			payload: Payload{
				"Payload": map[string]interface{}{"Valor": "150.00"},
			},
			want: []string{"DueDate"},
		},
		{
			name:        "all missing reported at once",
			payloadVars: []string{"Valor", "Data"},
			systemVars:  []string{"Email"},
			payload:     Payload{},
			want:        []string{"Valor", "Data", "Email", "DueDate"},
		},
		{
			name:        "empty string counts as missing",
			payloadVars: []string{"Valor"},
			systemVars:  nil,
			payload: Payload{
				"DueDate": "2025-12-31",
				"Payload": map[string]interface{}{"Valor": ""},
			},
			want: []string{"Valor"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MissingVariables(tt.payloadVars, tt.systemVars, tt.payload))
		})
	}
}
