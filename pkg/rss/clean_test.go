package rss

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Episode 1: The Beginning", "Ep-1-The-Beginning"},
		{"Ep. 12 - Stuff [AUDIO]", "Ep-12---Stuff"},
		{"Interview (Audio Only)", "Interview"},
		{"Weird*&^Chars!!", "Weird-Chars"},
		{"   spaced   out   ", "spaced-out"},
		{"déjà vu", "d-j-vu"},
		{"", ""},
		{"[audio] Episode: 5", "Ep-5"},
		{"already-clean-slug", "already-clean-slug"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, Clean(tc.in), "input %q", tc.in)
	}
}

func TestClean_Idempotent(t *testing.T) {
	inputs := []string{
		"Episode 1: The Beginning",
		"Ep. 12 - Stuff [AUDIO]",
		"Interview (Audio Only)",
		"machine---made---2024",
		"!!!",
	}

	for _, in := range inputs {
		once := Clean(in)
		assert.Equal(t, once, Clean(once), "input %q", in)
	}
}

func TestClean_Shape(t *testing.T) {
	for _, in := range []string{"a b c", "Tabs\tand\nnewlines", "x  --  y", "100% legit"} {
		out := Clean(in)
		assert.NotContains(t, out, " ")
		assert.Regexp(t, `^[a-zA-Z0-9-]*$`, out)
	}
}
