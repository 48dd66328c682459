package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("SMELT_SET", "value")
	t.Setenv("SMELT_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set variable", "url: ${SMELT_SET}", "url: value"},
		{"unset variable", "url: ${SMELT_UNSET_XYZ}", "url: "},
		{"unset with default", "url: ${SMELT_UNSET_XYZ:-fallback}", "url: fallback"},
		{"empty uses default", "url: ${SMELT_EMPTY:-fallback}", "url: fallback"},
		{"set ignores default", "url: ${SMELT_SET:-fallback}", "url: value"},
		{"multiple", "${SMELT_SET}/${SMELT_SET}", "value/value"},
		{"no pattern", "plain text $NOTBRACED", "plain text $NOTBRACED"},
		{"malformed stays", "${not a var}", "${not a var}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
