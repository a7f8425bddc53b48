package rss

import (
	"regexp"
	"strings"
)

// markers stripped or normalized before slugging, applied in order.
var titleReplacements = [][2]string{
	{"[AUDIO]", ""},
	{"[Audio]", ""},
	{"[audio]", ""},
	{"AUDIO", ""},
	{"(Audio Only)", ""},
	{"(Audio only)", ""},
	{"Ep. ", "Ep "},
	{"Ep: ", "Ep "},
	{"Episode ", "Ep "},
	{"Episode: ", "Ep "},
}

var nonSlugChars = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// Clean converts an episode or podcast title into a filename-safe slug.
// The result contains only [A-Za-z0-9-], never starts or ends with a
// space, and the function is idempotent.
func Clean(title string) string {
	name := title
	for _, r := range titleReplacements {
		name = strings.ReplaceAll(name, r[0], r[1])
	}

	name = nonSlugChars.ReplaceAllString(name, " ")

	for strings.Contains(name, "  ") {
		name = strings.ReplaceAll(name, "  ", " ")
	}

	name = strings.TrimSpace(name)
	return strings.ReplaceAll(name, " ", "-")
}
