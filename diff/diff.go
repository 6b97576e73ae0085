// Package diff compares two time-ordered snapshots of ranked videos and
// produces a structured change report: new entries, exits, rank movement,
// and engagement spikes.
//
// Identity across snapshots is the canonical video URL. The caller is
// responsible for handing in the correct prior snapshot — policy is "latest
// completed snapshot with a nonzero count on a strictly earlier calendar
// day", implemented by the store, so intraday re-polls never pollute the
// day-over-day comparison.
package diff

import (
	"fmt"
	"math"
	"strings"

	"github.com/evsys/tikrank/video"
)

// SpikeFactor is the inclusive threshold for a stat spike: a counter spikes
// when new >= 1.5 * old and old > 0.
const SpikeFactor = 1.5

// NewEntry is a video present now that was absent from the prior snapshot.
type NewEntry struct {
	Rank      int    `json:"rank"`
	CreatorID string `json:"creator_id"`
	URL       string `json:"url"`
}

// Exited is a video from the prior snapshot that is gone now.
type Exited struct {
	Rank      int    `json:"rank"`
	CreatorID string `json:"creator_id"`
	URL       string `json:"url"`
}

// RankChange records movement of a video present in both snapshots.
// Delta = oldRank - newRank, so positive means the video moved up
// (rank 1 is best).
type RankChange struct {
	CreatorID string `json:"creator_id"`
	OldRank   int    `json:"old_rank"`
	NewRank   int    `json:"new_rank"`
	Delta     int    `json:"diff"`
}

// StatSpike records an engagement counter that grew by at least SpikeFactor.
type StatSpike struct {
	CreatorID     string `json:"creator_id"`
	Metric        string `json:"metric"`
	Old           int64  `json:"old"`
	New           int64  `json:"new"`
	ChangePercent int    `json:"change_percent"`
}

// Report is the full change report attached to a completed snapshot.
type Report struct {
	IsFirst     bool         `json:"is_first"`
	NewEntries  []NewEntry   `json:"new_entries"`
	ExitedList  []Exited     `json:"exited"`
	RankChanges []RankChange `json:"rank_changes"`
	StatSpikes  []StatSpike  `json:"stat_spikes"`
	Summary     string       `json:"summary"`
}

// counters lists the engagement metrics checked for spikes, in report order.
var counters = []struct {
	name string
	get  func(video.Record) string
}{
	{"likes", func(r video.Record) string { return r.Likes }},
	{"comments", func(r video.Record) string { return r.Comments }},
	{"bookmarks", func(r video.Record) string { return r.Bookmarks }},
	{"shares", func(r video.Record) string { return r.Shares }},
	{"views", func(r video.Record) string { return r.Views }},
}

// Diff compares the current snapshot against the prior one. A nil prior
// means this is the first observation for the keyword: all lists stay empty
// and IsFirst is set.
func Diff(current, prior []video.Record) *Report {
	r := &Report{
		NewEntries:  []NewEntry{},
		ExitedList:  []Exited{},
		RankChanges: []RankChange{},
		StatSpikes:  []StatSpike{},
	}

	if prior == nil {
		r.IsFirst = true
		r.Summary = "first observation"
		return r
	}

	priorByURL := make(map[string]video.Record, len(prior))
	for _, p := range prior {
		priorByURL[video.CanonicalURL(p.URL)] = p
	}
	currentURLs := make(map[string]bool, len(current))

	for _, cur := range current {
		u := video.CanonicalURL(cur.URL)
		currentURLs[u] = true

		prev, ok := priorByURL[u]
		if !ok {
			r.NewEntries = append(r.NewEntries, NewEntry{
				Rank:      cur.Rank,
				CreatorID: cur.CreatorID,
				URL:       u,
			})
			continue
		}

		if delta := prev.Rank - cur.Rank; delta != 0 {
			r.RankChanges = append(r.RankChanges, RankChange{
				CreatorID: cur.CreatorID,
				OldRank:   prev.Rank,
				NewRank:   cur.Rank,
				Delta:     delta,
			})
		}

		for _, c := range counters {
			old := ParseMetric(c.get(prev))
			now := ParseMetric(c.get(cur))
			if old > 0 && float64(now) >= SpikeFactor*float64(old) {
				r.StatSpikes = append(r.StatSpikes, StatSpike{
					CreatorID:     cur.CreatorID,
					Metric:        c.name,
					Old:           old,
					New:           now,
					ChangePercent: percentChange(old, now),
				})
			}
		}
	}

	for _, p := range prior {
		if !currentURLs[video.CanonicalURL(p.URL)] {
			r.ExitedList = append(r.ExitedList, Exited{
				Rank:      p.Rank,
				CreatorID: p.CreatorID,
				URL:       video.CanonicalURL(p.URL),
			})
		}
	}

	r.Summary = summarize(r)
	return r
}

func percentChange(old, now int64) int {
	return int(math.Round(float64(now-old) / float64(old) * 100))
}

// summarize joins non-empty category counts in a fixed order.
func summarize(r *Report) string {
	var parts []string
	if n := len(r.NewEntries); n > 0 {
		parts = append(parts, fmt.Sprintf("%d new", n))
	}
	if n := len(r.ExitedList); n > 0 {
		parts = append(parts, fmt.Sprintf("%d exited", n))
	}
	if n := len(r.RankChanges); n > 0 {
		parts = append(parts, fmt.Sprintf("%d rank moves", n))
	}
	if n := len(r.StatSpikes); n > 0 {
		parts = append(parts, fmt.Sprintf("%d stat spikes", n))
	}
	if len(parts) == 0 {
		return "no change"
	}
	return strings.Join(parts, " | ")
}
