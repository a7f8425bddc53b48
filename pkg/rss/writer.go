package rss

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// namespaces declared on every rewritten feed, in output order.
// Keeping the full set means namespaced elements copied from upstream
// stay resolvable even when the channel itself does not use them.
var namespaces = [][2]string{
	{"atom", NSAtom},
	{"itunes", NSItunes},
	{"googleplay", NSGooglePlay},
	{"media", NSMedia},
	{"podcast", NSPodcast},
	{"sy", NSSyndicate},
	{"content", NSContent},
	{"wfw", NSWfw},
	{"dc", NSDc},
	{"slash", NSSlash},
	{"rawvoice", NSRawvoice},
	{"spotify", NSSpotify},
	{"feedburner", NSFeedburner},
}

// Bytes serializes the feed as an RSS 2.0 document with an XML declaration.
func (f *Feed) Bytes() []byte {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString("\n<rss version=\"2.0\"")
	for _, ns := range namespaces {
		fmt.Fprintf(&buf, " xmlns:%s=%q", ns[0], ns[1])
	}
	buf.WriteString(">\n  <channel>\n")

	if ch := f.Channel; ch != nil {
		writeElement(&buf, "title", ch.Title, 4)
		writeElement(&buf, "link", ch.Link, 4)
		writeElement(&buf, "description", ch.Description, 4)
		writeElement(&buf, "language", ch.Language, 4)
		writeElement(&buf, "copyright", ch.Copyright, 4)
		writeElement(&buf, "generator", ch.Generator, 4)
		writeElement(&buf, "lastBuildDate", ch.LastBuildDate, 4)
		writeElement(&buf, "pubDate", ch.PubDate, 4)
		writeElement(&buf, "ttl", ch.TTL, 4)

		for _, link := range ch.AtomLinks {
			buf.WriteString("    <atom:link")
			writeAttr(&buf, "href", link.Href)
			writeAttr(&buf, "rel", link.Rel)
			writeAttr(&buf, "type", link.Type)
			buf.WriteString("/>\n")
		}

		for _, category := range ch.Categories {
			writeElement(&buf, "category", category, 4)
		}

		if ch.Image != nil {
			buf.WriteString("    <image>\n")
			writeElement(&buf, "url", ch.Image.URL, 6)
			writeElement(&buf, "title", ch.Image.Title, 6)
			writeElement(&buf, "link", ch.Image.Link, 6)
			buf.WriteString("    </image>\n")
		}

		writeElement(&buf, "itunes:author", ch.ItunesAuthor, 4)
		writeElement(&buf, "itunes:subtitle", ch.ItunesSubtitle, 4)
		writeElement(&buf, "itunes:summary", ch.ItunesSummary, 4)
		writeElement(&buf, "itunes:explicit", ch.ItunesExplicit, 4)
		writeElement(&buf, "itunes:type", ch.ItunesType, 4)
		writeElement(&buf, "itunes:block", ch.ItunesBlock, 4)
		writeElement(&buf, "itunes:new-feed-url", ch.ItunesNewFeed, 4)

		if ch.ItunesOwner != nil {
			buf.WriteString("    <itunes:owner>\n")
			writeElement(&buf, "itunes:name", ch.ItunesOwner.Name, 6)
			writeElement(&buf, "itunes:email", ch.ItunesOwner.Email, 6)
			buf.WriteString("    </itunes:owner>\n")
		}

		if ch.ItunesImage != nil && ch.ItunesImage.Href != "" {
			buf.WriteString("    <itunes:image")
			writeAttr(&buf, "href", ch.ItunesImage.Href)
			buf.WriteString("/>\n")
		}

		for _, category := range ch.ItunesCategory {
			writeItunesCategory(&buf, category, 4)
		}

		writeElement(&buf, "sy:updatePeriod", ch.UpdatePeriod, 4)
		writeElement(&buf, "sy:updateFrequency", ch.UpdateFrequency, 4)
		writeCDATA(&buf, "content:encoded", ch.ContentEncoded, 4)

		for _, item := range ch.Items {
			writeItem(&buf, item)
		}
	}

	buf.WriteString("  </channel>\n</rss>\n")
	return buf.Bytes()
}

func writeItem(buf *bytes.Buffer, item *Item) {
	buf.WriteString("    <item>\n")

	writeElement(buf, "title", item.Title, 6)
	writeElement(buf, "link", item.Link, 6)

	if item.GUID != nil && item.GUID.Value != "" {
		buf.WriteString("      <guid")
		writeAttr(buf, "isPermaLink", item.GUID.IsPermaLink)
		buf.WriteString(">")
		xml.EscapeText(buf, []byte(item.GUID.Value))
		buf.WriteString("</guid>\n")
	}

	writeElement(buf, "pubDate", item.PubDate, 6)
	writeElement(buf, "author", item.Author, 6)
	writeElement(buf, "dc:creator", item.DcCreator, 6)

	for _, category := range item.Categories {
		writeElement(buf, "category", category, 6)
	}

	writeElement(buf, "description", item.Description, 6)
	writeCDATA(buf, "content:encoded", item.ContentEncoded, 6)

	if item.Enclosure != nil && item.Enclosure.URL != "" {
		buf.WriteString("      <enclosure")
		writeAttr(buf, "url", item.Enclosure.URL)
		writeAttr(buf, "length", item.Enclosure.Length)
		writeAttr(buf, "type", item.Enclosure.Type)
		buf.WriteString("/>\n")
	}

	if item.MediaContent != nil && item.MediaContent.URL != "" {
		buf.WriteString("      <media:content")
		writeAttr(buf, "url", item.MediaContent.URL)
		writeAttr(buf, "fileSize", item.MediaContent.FileSize)
		writeAttr(buf, "type", item.MediaContent.Type)
		writeAttr(buf, "medium", item.MediaContent.Medium)
		writeAttr(buf, "duration", item.MediaContent.Duration)
		buf.WriteString("/>\n")
	}

	if item.ItunesImage != nil && item.ItunesImage.Href != "" {
		buf.WriteString("      <itunes:image")
		writeAttr(buf, "href", item.ItunesImage.Href)
		buf.WriteString("/>\n")
	}

	writeElement(buf, "itunes:duration", item.ItunesDuration, 6)
	writeElement(buf, "itunes:explicit", item.ItunesExplicit, 6)
	writeElement(buf, "itunes:episode", item.ItunesEpisode, 6)
	writeElement(buf, "itunes:season", item.ItunesSeason, 6)
	writeElement(buf, "itunes:episodeType", item.ItunesEpisodeType, 6)
	writeElement(buf, "itunes:subtitle", item.ItunesSubtitle, 6)
	writeElement(buf, "itunes:summary", item.ItunesSummary, 6)
	writeElement(buf, "itunes:author", item.ItunesAuthor, 6)

	buf.WriteString("    </item>\n")
}

func writeItunesCategory(buf *bytes.Buffer, category *ItunesCategory, indent int) {
	if category == nil || category.Text == "" {
		return
	}

	pad := spaces(indent)
	buf.WriteString(pad)
	buf.WriteString("<itunes:category")
	writeAttr(buf, "text", category.Text)

	if len(category.Children) == 0 {
		buf.WriteString("/>\n")
		return
	}

	buf.WriteString(">\n")
	for _, child := range category.Children {
		writeItunesCategory(buf, child, indent+2)
	}
	buf.WriteString(pad)
	buf.WriteString("</itunes:category>\n")
}

func writeElement(buf *bytes.Buffer, name string, value string, indent int) {
	if value == "" {
		return
	}

	buf.WriteString(spaces(indent))
	buf.WriteString("<")
	buf.WriteString(name)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(value)) //nolint:errcheck // bytes.Buffer does not fail
	buf.WriteString("</")
	buf.WriteString(name)
	buf.WriteString(">\n")
}

func writeCDATA(buf *bytes.Buffer, name string, value string, indent int) {
	if value == "" {
		return
	}

	buf.WriteString(spaces(indent))
	buf.WriteString("<")
	buf.WriteString(name)
	buf.WriteString("><![CDATA[")
	buf.WriteString(value)
	buf.WriteString("]]></")
	buf.WriteString(name)
	buf.WriteString(">\n")
}

func writeAttr(buf *bytes.Buffer, name string, value string) {
	if value == "" {
		return
	}

	buf.WriteString(" ")
	buf.WriteString(name)
	buf.WriteString(`="`)
	xml.EscapeText(buf, []byte(value)) //nolint:errcheck // bytes.Buffer does not fail
	buf.WriteString(`"`)
}

func spaces(n int) string {
	const pad = "                "
	if n > len(pad) {
		n = len(pad)
	}
	return pad[:n]
}
