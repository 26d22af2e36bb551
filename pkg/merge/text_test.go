package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		incoming string
		want     string
	}{
		{name: "empty_existing", existing: "", incoming: "hello", want: "hello"},
		{name: "superset_replaces", existing: "hel", incoming: "hello", want: "hello"},
		{name: "stale_fragment_ignored", existing: "hello world", incoming: "hello", want: "hello world"},
		{name: "identical_fragment", existing: "same", incoming: "same", want: "same"},
		{name: "overlap_consumed_once", existing: "hello wor", incoming: "world", want: "hello world"},
		{name: "single_char_overlap", existing: "abc", incoming: "cde", want: "abcde"},
		{name: "no_overlap_appends", existing: "abc", incoming: "xyz", want: "abcxyz"},
		{name: "empty_incoming", existing: "abc", incoming: "", want: "abc"},
		{name: "longest_overlap_wins", existing: "abab", incoming: "ababc", want: "ababc"},
		{name: "repeated_suffix", existing: "aaa", incoming: "aab", want: "aaab"},
		{name: "unicode", existing: "안녕하", incoming: "하세요", want: "안녕하세요"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.existing, tt.incoming))
		})
	}
}

func TestText_Idempotent(t *testing.T) {
	for _, s := range []string{"", "a", "ping", "hello world", "line one\nline two"} {
		assert.Equal(t, s, Text(s, s), "merging %q with itself", s)
	}
}

func TestText_NoLoss(t *testing.T) {
	cases := []struct{ base, suffix string }{
		{"", "x"},
		{"hello", " world"},
		{"pin", "g"},
		{"abc", "abc"},
	}
	for _, c := range cases {
		extended := c.base + c.suffix
		assert.Equal(t, extended, Text(c.base, extended))
	}
}

func TestDelta(t *testing.T) {
	assert.Equal(t, "g", Delta("pin", Text("pin", "ping")))
	assert.Equal(t, "", Delta("ping", Text("ping", "pin")))
	assert.Equal(t, "ld", Delta("hello wor", Text("hello wor", "world")))
	assert.Equal(t, "new", Delta("old", "new"))
}
