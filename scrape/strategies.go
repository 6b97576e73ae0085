package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"

	"github.com/evsys/tikrank/video"
)

// A Strategy is one way of pulling ranked video records out of a loaded
// search page. Strategies are tried in fidelity order and the first one to
// return any records wins.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, page *rod.Page, limit int) ([]video.Record, error)
}

// rehydrationJS pulls the SSR state blob TikTok embeds in every page. The
// blob is parsed in Go, not in the page: the page side stays a dumb string
// read so a malformed blob cannot break the evaluation.
const rehydrationJS = `() => {
	const el = document.querySelector('#__UNIVERSAL_DATA_FOR_REHYDRATION__');
	return el ? el.textContent : "";
}`

// embeddedJSONStrategy reads the server-rendered state blob. Highest
// fidelity: exact counters, exact post dates, no layout dependence.
type embeddedJSONStrategy struct{}

func (embeddedJSONStrategy) Name() string { return "embedded-json" }

func (embeddedJSONStrategy) Extract(ctx context.Context, page *rod.Page, limit int) ([]video.Record, error) {
	res, err := page.Context(ctx).Eval(rehydrationJS)
	if err != nil {
		return nil, fmt.Errorf("scrape: read rehydration blob: %w", err)
	}
	raw := res.Value.Str()
	if raw == "" {
		return nil, fmt.Errorf("scrape: rehydration blob absent")
	}
	records, err := decodeSearchItems(raw, limit)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// searchState mirrors the slice of the rehydration blob the search page
// carries. Everything else in the blob is ignored.
type searchState struct {
	DefaultScope struct {
		SearchDetail struct {
			ItemList []searchItem `json:"itemList"`
		} `json:"webapp.search-detail"`
	} `json:"__DEFAULT_SCOPE__"`
}

type searchItem struct {
	ID         string `json:"id"`
	Desc       string `json:"desc"`
	CreateTime int64  `json:"createTime"`
	Author     struct {
		UniqueID string `json:"uniqueId"`
		Nickname string `json:"nickname"`
	} `json:"author"`
	Stats itemStats `json:"stats"`
}

type itemStats struct {
	DiggCount    json.Number `json:"diggCount"`
	CommentCount json.Number `json:"commentCount"`
	CollectCount json.Number `json:"collectCount"`
	ShareCount   json.Number `json:"shareCount"`
	PlayCount    json.Number `json:"playCount"`
}

func decodeSearchItems(raw string, limit int) ([]video.Record, error) {
	var state searchState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("scrape: parse rehydration blob: %w", err)
	}
	items := state.DefaultScope.SearchDetail.ItemList
	if len(items) == 0 {
		return nil, fmt.Errorf("scrape: rehydration blob has no search items")
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	records := make([]video.Record, 0, len(items))
	for i, it := range items {
		if it.ID == "" || it.Author.UniqueID == "" {
			continue
		}
		rec := video.Record{
			Rank:        i + 1,
			URL:         fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", it.Author.UniqueID, it.ID),
			CreatorID:   it.Author.UniqueID,
			CreatorName: it.Author.Nickname,
			Description: it.Desc,
			Likes:       countField(it.Stats.DiggCount),
			Comments:    countField(it.Stats.CommentCount),
			Bookmarks:   countField(it.Stats.CollectCount),
			Shares:      countField(it.Stats.ShareCount),
			Views:       countField(it.Stats.PlayCount),
		}
		if it.CreateTime > 0 {
			rec.PostedDate = time.Unix(it.CreateTime, 0).Format("2006-01-02")
		}
		rec.Normalize()
		records = append(records, rec)
	}
	return records, nil
}

func countField(n json.Number) string {
	s := n.String()
	if s == "" {
		return video.FieldUnavailable
	}
	return s
}

// searchCardsJS scrapes visible result cards. Selector fallbacks cover the
// layout variants TikTok serves; counters are the abbreviated display
// strings ("1.2M"), resolved to integers only at diff time.
const searchCardsJS = `(max) => {
	const cardSelectors = [
		'div[data-e2e="search_top-item"]',
		'div[data-e2e="search_video-item"]',
		'div[data-e2e="search-card-item"]',
	];
	let cards = [];
	for (const sel of cardSelectors) {
		cards = Array.from(document.querySelectorAll(sel));
		if (cards.length > 0) break;
	}
	const text = (root, sels) => {
		for (const sel of sels) {
			const el = root.querySelector(sel);
			if (el && el.textContent.trim()) return el.textContent.trim();
		}
		return "";
	};
	const out = [];
	for (const card of cards) {
		if (max > 0 && out.length >= max) break;
		const a = card.querySelector('a[href*="/video/"]');
		if (!a) continue;
		out.push({
			url: a.href,
			desc: text(card, ['div[data-e2e="search-card-video-caption"]', 'div[data-e2e="search-card-desc"]']),
			creator: text(card, ['p[data-e2e="search-card-user-unique-id"]', 'a[data-e2e="search-card-user-link"]']),
			likes: text(card, ['strong[data-e2e="search-card-like-container"]', 'strong[data-e2e="video-views"]']),
		});
	}
	return JSON.stringify(out);
}`

type domCard struct {
	URL     string `json:"url"`
	Desc    string `json:"desc"`
	Creator string `json:"creator"`
	Likes   string `json:"likes"`
}

// domCardsStrategy scrapes the rendered result cards. Middle fidelity:
// display-formatted counters, no post dates, survives blob removal.
type domCardsStrategy struct{}

func (domCardsStrategy) Name() string { return "dom-cards" }

func (domCardsStrategy) Extract(ctx context.Context, page *rod.Page, limit int) ([]video.Record, error) {
	res, err := page.Context(ctx).Eval(searchCardsJS, limit)
	if err != nil {
		return nil, fmt.Errorf("scrape: read search cards: %w", err)
	}
	var cards []domCard
	if err := json.Unmarshal([]byte(res.Value.Str()), &cards); err != nil {
		return nil, fmt.Errorf("scrape: parse search cards: %w", err)
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("scrape: no search cards in DOM")
	}

	records := make([]video.Record, 0, len(cards))
	for i, c := range cards {
		url := video.CanonicalURL(c.URL)
		if url == "" {
			continue
		}
		rec := video.Record{
			Rank:        i + 1,
			URL:         url,
			CreatorID:   c.Creator,
			Description: c.Desc,
			Likes:       c.Likes,
		}
		rec.Normalize()
		records = append(records, rec)
	}
	return records, nil
}

// linkHarvestStrategy is the last resort: serialize the DOM and recover
// ranked URLs from anchors alone.
type linkHarvestStrategy struct{}

func (linkHarvestStrategy) Name() string { return "link-harvest" }

func (linkHarvestStrategy) Extract(ctx context.Context, page *rod.Page, limit int) ([]video.Record, error) {
	pageHTML, err := page.Context(ctx).HTML()
	if err != nil {
		return nil, fmt.Errorf("scrape: serialize page: %w", err)
	}
	records := HarvestLinks(pageHTML, limit)
	if len(records) == 0 {
		return nil, fmt.Errorf("scrape: no video links in page")
	}
	return records, nil
}

// detailState mirrors the slice of the rehydration blob a video's own page
// carries, used by the detail backfill pass.
type detailState struct {
	DefaultScope struct {
		VideoDetail struct {
			ItemInfo struct {
				ItemStruct searchItem `json:"itemStruct"`
			} `json:"itemInfo"`
		} `json:"webapp.video-detail"`
	} `json:"__DEFAULT_SCOPE__"`
}

func decodeDetailItem(raw string) (searchItem, error) {
	var state detailState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return searchItem{}, fmt.Errorf("scrape: parse detail blob: %w", err)
	}
	it := state.DefaultScope.VideoDetail.ItemInfo.ItemStruct
	if it.ID == "" {
		return searchItem{}, fmt.Errorf("scrape: detail blob has no item")
	}
	return it, nil
}
