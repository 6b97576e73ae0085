package scrape

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/evsys/tikrank/video"
)

// HarvestLinks walks rendered search-page HTML and recovers ranked video
// records from anchor hrefs alone. This is the lowest-fidelity extraction
// path: rank, URL and creator handle only, every other field unavailable.
// Document order is rank order. Duplicate canonical URLs keep their first
// (best) rank.
func HarvestLinks(pageHTML string, limit int) []video.Record {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var records []video.Record

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if limit > 0 && len(records) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			if rec, ok := recordFromHref(attrVal(n, "href")); ok {
				if !seen[rec.URL] {
					seen[rec.URL] = true
					rec.Rank = len(records) + 1
					records = append(records, rec)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return records
}

// recordFromHref accepts hrefs of the form /@creator/video/123 or the
// absolute equivalent, and rejects everything else.
func recordFromHref(href string) (video.Record, bool) {
	if href == "" || !strings.Contains(href, "/video/") {
		return video.Record{}, false
	}

	url := href
	if strings.HasPrefix(url, "/") {
		url = "https://www.tiktok.com" + url
	}
	url = video.CanonicalURL(url)
	if !strings.Contains(url, "tiktok.com/") {
		return video.Record{}, false
	}

	rec := video.Record{URL: url}
	if at := strings.Index(url, "/@"); at >= 0 {
		rest := url[at+2:]
		if slash := strings.IndexByte(rest, '/'); slash > 0 {
			rec.CreatorID = rest[:slash]
		}
	}
	rec.Normalize()
	return rec, true
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
