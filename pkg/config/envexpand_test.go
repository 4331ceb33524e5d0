package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "braced substitution",
			input: "api_key: ${API_KEY}",
			env:   map[string]string{"API_KEY": "secret123"},
			want:  "api_key: secret123",
		},
		{
			name:  "bare $VAR substitution",
			input: "host: $HOST",
			env:   map[string]string{"HOST": "example.com"},
			want:  "host: example.com",
		},
		{
			name:  "multiple substitutions in one line",
			input: "url: ${PROTOCOL}://${HOST}:${PORT}",
			env: map[string]string{
				"PROTOCOL": "https",
				"HOST":     "example.com",
				"PORT":     "443",
			},
			want: "url: https://example.com:443",
		},
		{
			name:  "missing variable expands to empty",
			input: "endpoint: ${MISSING_VAR}",
			env:   map[string]string{},
			want:  "endpoint: ",
		},
		{
			name:  "no substitution when no variables",
			input: "static: value",
			env:   map[string]string{"UNUSED": "value"},
			want:  "static: value",
		},
		{
			name:  "variables in nested YAML structure",
			input: "config:\n  host: ${HOST}\n  port: ${PORT}",
			env: map[string]string{
				"HOST": "localhost",
				"PORT": "5432",
			},
			want: "config:\n  host: localhost\n  port: 5432",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			result := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(result))
		})
	}
}

func TestExpandEnvWithEmptyInput(t *testing.T) {
	result := ExpandEnv([]byte(""))
	assert.Equal(t, "", string(result))
}

func TestExpandEnvThreadSafety(t *testing.T) {
	input := []byte("key: ${TEST_VAR}")
	t.Setenv("TEST_VAR", "value")

	const goroutines = 100
	results := make([]string, goroutines)
	done := make(chan bool)

	for i := 0; i < goroutines; i++ {
		go func(index int) {
			results[index] = string(ExpandEnv(input))
			done <- true
		}(i)
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}

	expected := "key: value"
	for i, result := range results {
		assert.Equal(t, expected, result, "Result %d should match", i)
	}
}
