package rss

import (
	"time"
)

// pubDateFormats are the two date layouts seen in the wild:
// RFC1123 with a zone name and with a numeric offset.
var pubDateFormats = []string{
	"Mon, 02 Jan 2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

// ParsePubDate parses an RSS pubDate. Returns a zero time if no layout matches.
func ParsePubDate(value string) (time.Time, bool) {
	for _, layout := range pubDateFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FileDate derives the YYYYMMDD prefix used in episode file names.
// Unparseable dates collapse to the epoch so the file still sorts first.
func FileDate(value string) string {
	t, ok := ParsePubDate(value)
	if !ok {
		return "19700101"
	}
	return t.Format("20060102")
}
