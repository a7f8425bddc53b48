package rss

import (
	"bytes"
	"encoding/xml"

	"github.com/pkg/errors"
)

// Namespace URLs recognized in upstream feeds. The corresponding prefixes
// are declared on the <rss> element of every rewritten feed.
const (
	NSAtom       = "http://www.w3.org/2005/Atom"
	NSItunes     = "http://www.itunes.com/dtds/podcast-1.0.dtd"
	NSGooglePlay = "http://www.google.com/schemas/play-podcasts/1.0"
	NSMedia      = "http://search.yahoo.com/mrss/"
	NSPodcast    = "https://podcastindex.org/namespace/1.0"
	NSSyndicate  = "http://purl.org/rss/1.0/modules/syndication/"
	NSContent    = "http://purl.org/rss/1.0/modules/content/"
	NSWfw        = "http://wellformedweb.org/CommentAPI/"
	NSDc         = "http://purl.org/dc/elements/1.1/"
	NSSlash      = "http://purl.org/rss/1.0/modules/slash/"
	NSRawvoice   = "http://www.rawvoice.com/rawvoiceRssModule/"
	NSSpotify    = "http://www.spotify.com/ns/rss/"
	NSFeedburner = "http://rssnamespace.org/feedburner/ext/1.0"
)

// Feed is a parsed RSS document. The element set is closed: upstream
// elements outside of it are dropped on rewrite, which is acceptable
// since the output only needs to be a valid, equivalent podcast feed.
type Feed struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Channel *Channel `xml:"channel"`
}

// Channel holds podcast-level metadata and the episode list.
//
// NOTE: namespace-qualified fields must be declared before unqualified
// fields with the same local name so the decoder prefers the exact match.
type Channel struct {
	// iTunes image comes before the plain <image> so that the decoder
	// does not swallow it into the unqualified field.
	ItunesImage     *ItunesImage      `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd image"`
	ItunesAuthor    string            `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd author"`
	ItunesOwner     *ItunesOwner      `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd owner"`
	ItunesNewFeed   string            `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd new-feed-url"`
	ItunesSubtitle  string            `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd subtitle"`
	ItunesSummary   string            `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd summary"`
	ItunesExplicit  string            `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd explicit"`
	ItunesType      string            `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd type"`
	ItunesBlock     string            `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd block"`
	ItunesCategory  []*ItunesCategory `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd category"`
	AtomLinks       []*AtomLink       `xml:"http://www.w3.org/2005/Atom link"`
	ContentEncoded  string            `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	UpdatePeriod    string            `xml:"http://purl.org/rss/1.0/modules/syndication/ updatePeriod"`
	UpdateFrequency string            `xml:"http://purl.org/rss/1.0/modules/syndication/ updateFrequency"`

	Title         string   `xml:"title"`
	Link          string   `xml:"link"`
	Description   string   `xml:"description"`
	Language      string   `xml:"language"`
	Copyright     string   `xml:"copyright"`
	Generator     string   `xml:"generator"`
	LastBuildDate string   `xml:"lastBuildDate"`
	PubDate       string   `xml:"pubDate"`
	TTL           string   `xml:"ttl"`
	Categories    []string `xml:"category"`
	Image         *Image   `xml:"image"`
	Items         []*Item  `xml:"item"`
}

// Item is one episode.
type Item struct {
	ItunesImage       *ItunesImage `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd image"`
	ItunesDuration    string       `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd duration"`
	ItunesExplicit    string       `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd explicit"`
	ItunesEpisode     string       `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd episode"`
	ItunesSeason      string       `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd season"`
	ItunesEpisodeType string       `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd episodeType"`
	ItunesSubtitle    string       `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd subtitle"`
	ItunesSummary     string       `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd summary"`
	ItunesAuthor      string       `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd author"`
	MediaContent      *MediaContent `xml:"http://search.yahoo.com/mrss/ content"`
	ContentEncoded    string       `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	DcCreator         string       `xml:"http://purl.org/dc/elements/1.1/ creator"`

	Title       string     `xml:"title"`
	Link        string     `xml:"link"`
	Description string     `xml:"description"`
	PubDate     string     `xml:"pubDate"`
	GUID        *GUID      `xml:"guid"`
	Author      string     `xml:"author"`
	Categories  []string   `xml:"category"`
	Enclosure   *Enclosure `xml:"enclosure"`
}

type Enclosure struct {
	URL    string `xml:"url,attr"`
	Length string `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// MediaContent is the media:content alternative to <enclosure>.
type MediaContent struct {
	URL      string `xml:"url,attr"`
	FileSize string `xml:"fileSize,attr"`
	Type     string `xml:"type,attr"`
	Medium   string `xml:"medium,attr"`
	Duration string `xml:"duration,attr"`
}

type GUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type Image struct {
	URL   string `xml:"url"`
	Title string `xml:"title"`
	Link  string `xml:"link"`
}

type ItunesImage struct {
	Href string `xml:"href,attr"`
}

type ItunesOwner struct {
	Name  string `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd name"`
	Email string `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd email"`
}

type ItunesCategory struct {
	Text     string            `xml:"text,attr"`
	Children []*ItunesCategory `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd category"`
}

type AtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

// Parse decodes one upstream RSS document.
func Parse(data []byte) (*Feed, error) {
	var feed Feed

	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false

	if err := decoder.Decode(&feed); err != nil {
		return nil, errors.Wrap(err, "failed to parse rss document")
	}

	if feed.Channel == nil {
		return nil, errors.New("rss document has no channel")
	}

	return &feed, nil
}
