package router

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short ascii untouched", "hello", 100, "hello"},
		{"ascii cut at limit", "abcdef", 3, "abc"},
		{"exact length untouched", "abc", 3, "abc"},
		{"multibyte counted as characters", "привет", 4, "прив"},
		{"emoji not split", strings.Repeat("📝", 5), 2, "📝📝"},
		{"empty", "", 10, ""},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := truncate(tc.in, tc.max)
			if got != tc.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) produced invalid UTF-8: %q", tc.in, tc.max, got)
			}
		})
	}
}
