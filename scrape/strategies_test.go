package scrape

import (
	"testing"

	"github.com/evsys/tikrank/video"
)

const searchBlobFixture = `{
	"__DEFAULT_SCOPE__": {
		"webapp.search-detail": {
			"itemList": [
				{
					"id": "7300000000000000001",
					"desc": "first clip",
					"createTime": 1714521600,
					"author": {"uniqueId": "alice", "nickname": "Alice"},
					"stats": {"diggCount": 1500, "commentCount": 20, "collectCount": 5, "shareCount": 3, "playCount": 90000}
				},
				{
					"id": "",
					"desc": "broken item without id",
					"author": {"uniqueId": "ghost"}
				},
				{
					"id": "7300000000000000002",
					"desc": "second clip",
					"createTime": 1714608000,
					"author": {"uniqueId": "bob", "nickname": "Bob"},
					"stats": {"diggCount": 10, "commentCount": 1, "collectCount": 0, "shareCount": 0, "playCount": 500}
				}
			]
		}
	}
}`

func TestDecodeSearchItems(t *testing.T) {
	records, err := decodeSearchItems(searchBlobFixture, 0)
	if err != nil {
		t.Fatalf("decodeSearchItems: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (broken item dropped)", len(records))
	}

	first := records[0]
	if first.URL != "https://www.tiktok.com/@alice/video/7300000000000000001" {
		t.Errorf("URL = %q", first.URL)
	}
	if first.CreatorID != "alice" || first.CreatorName != "Alice" {
		t.Errorf("creator = %q / %q", first.CreatorID, first.CreatorName)
	}
	if first.Likes != "1500" || first.Views != "90000" {
		t.Errorf("counters = likes %q views %q", first.Likes, first.Views)
	}
	if first.PostedDate == "" || first.PostedDate == video.FieldUnavailable {
		t.Errorf("posted date = %q", first.PostedDate)
	}

	if records[1].Rank <= first.Rank {
		t.Errorf("ranks not increasing: %d then %d", first.Rank, records[1].Rank)
	}
}

func TestDecodeSearchItemsLimit(t *testing.T) {
	records, err := decodeSearchItems(searchBlobFixture, 1)
	if err != nil {
		t.Fatalf("decodeSearchItems: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
}

func TestDecodeSearchItemsEmpty(t *testing.T) {
	if _, err := decodeSearchItems(`{"__DEFAULT_SCOPE__":{}}`, 0); err == nil {
		t.Fatal("expected error for blob with no items")
	}
	if _, err := decodeSearchItems(`not json`, 0); err == nil {
		t.Fatal("expected error for malformed blob")
	}
}

const detailBlobFixture = `{
	"__DEFAULT_SCOPE__": {
		"webapp.video-detail": {
			"itemInfo": {
				"itemStruct": {
					"id": "7300000000000000009",
					"desc": "full detail",
					"createTime": 1714521600,
					"author": {"uniqueId": "carol", "nickname": "Carol"},
					"stats": {"diggCount": 42, "commentCount": 7, "collectCount": 2, "shareCount": 1, "playCount": 1000}
				}
			}
		}
	}
}`

func TestDecodeDetailItem(t *testing.T) {
	it, err := decodeDetailItem(detailBlobFixture)
	if err != nil {
		t.Fatalf("decodeDetailItem: %v", err)
	}
	if it.Author.UniqueID != "carol" || it.Stats.DiggCount.String() != "42" {
		t.Errorf("item = %+v", it)
	}
}

func TestFillRecordOnlyMissingFields(t *testing.T) {
	it, err := decodeDetailItem(detailBlobFixture)
	if err != nil {
		t.Fatal(err)
	}

	rec := video.Record{
		URL:       "https://www.tiktok.com/@carol/video/7300000000000000009",
		CreatorID: "carol",
		Likes:     "999", // already scraped, must survive backfill
		Comments:  video.FieldUnavailable,
	}
	fillRecord(&rec, it)

	if rec.Likes != "999" {
		t.Errorf("existing likes overwritten: %q", rec.Likes)
	}
	if rec.Comments != "7" {
		t.Errorf("missing comments not filled: %q", rec.Comments)
	}
	if rec.CreatorName != "Carol" || rec.Description != "full detail" {
		t.Errorf("record = %+v", rec)
	}
}
