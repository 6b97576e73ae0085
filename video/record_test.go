package video

import "testing"

func TestCanonicalURL_StripsQueryAndFragment(t *testing.T) {
	raw := "https://www.tiktok.com/@user/video/123?is_from_webapp=1&sender=rec#top"
	want := "https://www.tiktok.com/@user/video/123"
	if got := CanonicalURL(raw); got != want {
		t.Errorf("CanonicalURL = %q, want %q", got, want)
	}
}

func TestCanonicalURL_TrailingSlash(t *testing.T) {
	if got := CanonicalURL("https://www.tiktok.com/@user/video/123/"); got != "https://www.tiktok.com/@user/video/123" {
		t.Errorf("trailing slash not stripped: %q", got)
	}
}

func TestCanonicalURL_SameVideoDifferentTracking(t *testing.T) {
	a := CanonicalURL("https://www.tiktok.com/@u/video/9?q=abib&t=170000")
	b := CanonicalURL("https://www.tiktok.com/@u/video/9?q=other")
	if a != b {
		t.Errorf("identity broken: %q != %q", a, b)
	}
}

func TestCanonicalURL_Unparseable(t *testing.T) {
	if got := CanonicalURL("  not a url/ "); got != "not a url" {
		t.Errorf("fallback trim failed: %q", got)
	}
}

func TestNormalize_FillsSentinel(t *testing.T) {
	r := Record{Rank: 1, URL: "https://www.tiktok.com/@u/video/1?x=y", Likes: " 1.2M "}
	r.Normalize()
	if r.URL != "https://www.tiktok.com/@u/video/1" {
		t.Errorf("URL not canonicalised: %q", r.URL)
	}
	if r.Likes != "1.2M" {
		t.Errorf("Likes not trimmed: %q", r.Likes)
	}
	if r.CreatorID != FieldUnavailable || r.Views != FieldUnavailable {
		t.Errorf("empty fields not stamped: %+v", r)
	}
	if r.Complete() {
		t.Error("record with sentinel fields reported complete")
	}
}

func TestComplete(t *testing.T) {
	r := Record{
		Rank: 1, URL: "u", CreatorID: "a", CreatorName: "b", Description: "c",
		PostedDate: "2026-01-02", Likes: "1", Comments: "2", Bookmarks: "3",
		Shares: "4", Views: "5",
	}
	if !r.Complete() {
		t.Error("fully populated record reported incomplete")
	}
	r.Bookmarks = FieldUnavailable
	if r.Complete() {
		t.Error("record with unavailable field reported complete")
	}
}
