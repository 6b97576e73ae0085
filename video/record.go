// Package video defines the ranked video record shared by the extraction
// engine, the snapshot store, and the diff engine.
package video

import (
	"net/url"
	"strings"
)

// FieldUnavailable marks a field the extractor could not obtain. Stored
// verbatim so rows remain comparable with historical data; consumers must
// treat it as "unscraped", distinct from an empty string the platform
// genuinely returned.
const FieldUnavailable = "N/A"

// Record is one ranked search result. Rank is 1-based and contiguous within
// a snapshot. URL is the canonical permalink and acts as the video's identity
// across snapshots. Engagement counters are kept as the raw rendered strings
// ("1.2M", "12.5K", "1,234") — parsing them into numbers is a lossy concern
// that belongs to the diff engine, not extraction.
type Record struct {
	Rank        int    `json:"rank"`
	URL         string `json:"video_url"`
	CreatorID   string `json:"creator_id"`
	CreatorName string `json:"creator_name"`
	Description string `json:"description"`
	PostedDate  string `json:"posted_date"`
	Likes       string `json:"likes"`
	Comments    string `json:"comments"`
	Bookmarks   string `json:"bookmarks"`
	Shares      string `json:"shares"`
	Views       string `json:"views"`
}

// CanonicalURL normalises a video permalink for identity comparison:
// scheme+host+path only, query and fragment stripped, trailing slash
// removed. TikTok appends volatile tracking parameters to search-result
// links, so raw hrefs from two sweeps rarely compare equal.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.TrimSpace(raw), "/")
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// Complete reports whether every detail field was extracted. Records coming
// out of the link-harvest fallback are typically incomplete and eligible for
// detail-page backfill.
func (r Record) Complete() bool {
	for _, f := range []string{
		r.CreatorID, r.CreatorName, r.Description, r.PostedDate,
		r.Likes, r.Comments, r.Bookmarks, r.Shares, r.Views,
	} {
		if f == FieldUnavailable || f == "" {
			return false
		}
	}
	return true
}

// Normalize fills empty fields with the unavailable sentinel and
// canonicalises the URL. Extraction strategies call this before handing
// records to the caller so downstream code never sees raw empties.
func (r *Record) Normalize() {
	r.URL = CanonicalURL(r.URL)
	for _, f := range []*string{
		&r.CreatorID, &r.CreatorName, &r.Description, &r.PostedDate,
		&r.Likes, &r.Comments, &r.Bookmarks, &r.Shares, &r.Views,
	} {
		if strings.TrimSpace(*f) == "" {
			*f = FieldUnavailable
		} else {
			*f = strings.TrimSpace(*f)
		}
	}
}
