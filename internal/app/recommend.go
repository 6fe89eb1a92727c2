package app

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RawRecommendation is one entry of original_recommendations as the backend
// sends it. Every field may be missing or malformed.
type RawRecommendation struct {
	UniqueID       string   `json:"unique_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Link           string   `json:"link"`
	SnapshotImages []string `json:"snapshot_images"`
	Location       string   `json:"location"`
	TimestampMs    int64    `json:"timestamp"`
}

// RecommendationBatch is the data payload of /api/recommendations.
type RecommendationBatch struct {
	Recommendations struct {
		Items         []RawRecommendation `json:"original_recommendations"`
		OrganizedPlan string              `json:"organized_plan"`
		Intents       []string            `json:"intents"`
	} `json:"recommendations"`
	Images []string `json:"images"`
}

// RecommendationItem is the renderable view model. Derived fields are pure
// functions of the raw entry and the caller's location; they degrade to
// placeholders instead of failing.
type RecommendationItem struct {
	UniqueID       string   `json:"uniqueId"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Link           string   `json:"link,omitempty"`
	SnapshotImages []string `json:"snapshotImages"`
	Domain         string   `json:"domain"`
	Distance       string   `json:"distance"`
	FormattedDate  string   `json:"formattedDate"`
	TimestampMs    int64    `json:"timestampMs"`
}

type RecommendationGroup struct {
	DateLabel string               `json:"dateLabel"`
	Items     []RecommendationItem `json:"items"`
}

const untitledRecommendation = "未命名推荐"

// NormalizeRecommendation converts one raw entry to a view model.
func NormalizeRecommendation(raw RawRecommendation, here *Location, now time.Time) RecommendationItem {
	item := RecommendationItem{
		UniqueID:       raw.UniqueID,
		Title:          strings.TrimSpace(raw.Title),
		Description:    strings.TrimSpace(raw.Description),
		Link:           strings.TrimSpace(raw.Link),
		SnapshotImages: raw.SnapshotImages,
		TimestampMs:    raw.TimestampMs,
	}
	if item.SnapshotImages == nil {
		item.SnapshotImages = []string{}
	}
	if item.Title == "" {
		item.Title = titleFromLink(item.Link)
	}
	item.Domain = domainFromLink(item.Link)
	item.Distance = FormatDistance(here, parseLocation(raw.Location))

	ts := now
	if raw.TimestampMs > 0 {
		ts = time.UnixMilli(raw.TimestampMs)
	} else {
		item.TimestampMs = now.UnixMilli()
	}
	item.FormattedDate = DateLabel(ts, now)
	return item
}

// titleFromLink falls back to the link's last path segment, then its
// hostname, then a fixed placeholder.
func titleFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil || link == "" {
		return untitledRecommendation
	}
	path := strings.Trim(u.Path, "/")
	if path != "" {
		segs := strings.Split(path, "/")
		if last := strings.TrimSpace(segs[len(segs)-1]); last != "" {
			if dec, err := url.PathUnescape(last); err == nil && dec != "" {
				return dec
			}
			return last
		}
	}
	if u.Hostname() != "" {
		return u.Hostname()
	}
	return untitledRecommendation
}

func domainFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// parseLocation reads a "lat,lng" string; anything malformed is treated as
// an absent location.
func parseLocation(s string) *Location {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return nil
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &Location{Latitude: lat, Longitude: lng}
}

// History accumulates every recommendation surfaced during a session.
// Entries dedupe on UniqueID and the list is capped; past the cap the
// oldest entries are dropped. Within the cap, history only grows, so the
// user can scroll back through everything already shown.
type History struct {
	cap   int
	items []RecommendationItem
	seen  map[string]struct{}
}

func NewHistory(cap int) *History {
	if cap <= 0 {
		cap = 200
	}
	return &History{cap: cap, seen: make(map[string]struct{})}
}

// Ingest appends the not-yet-seen items and returns them.
func (h *History) Ingest(items []RecommendationItem) []RecommendationItem {
	var added []RecommendationItem
	for _, it := range items {
		key := it.UniqueID
		if key == "" {
			// Items without an id cannot be deduplicated; key on content.
			key = it.Title + "\x00" + it.Link
		}
		if _, dup := h.seen[key]; dup {
			continue
		}
		h.seen[key] = struct{}{}
		h.items = append(h.items, it)
		added = append(added, it)
	}
	for len(h.items) > h.cap {
		drop := h.items[0]
		key := drop.UniqueID
		if key == "" {
			key = drop.Title + "\x00" + drop.Link
		}
		delete(h.seen, key)
		h.items = h.items[1:]
	}
	return added
}

func (h *History) Items() []RecommendationItem {
	out := make([]RecommendationItem, len(h.items))
	copy(out, h.items)
	return out
}

func (h *History) Len() int { return len(h.items) }

// GroupByDate buckets items by FormattedDate. Buckets are ordered newest
// date first; items keep their history order within a bucket. Flattening
// the groups reproduces the history set exactly.
func GroupByDate(items []RecommendationItem) []RecommendationGroup {
	byLabel := make(map[string]*RecommendationGroup)
	newest := make(map[string]int64)
	var order []string
	for _, it := range items {
		g, ok := byLabel[it.FormattedDate]
		if !ok {
			g = &RecommendationGroup{DateLabel: it.FormattedDate}
			byLabel[it.FormattedDate] = g
			order = append(order, it.FormattedDate)
		}
		g.Items = append(g.Items, it)
		if it.TimestampMs > newest[it.FormattedDate] {
			newest[it.FormattedDate] = it.TimestampMs
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return newest[order[i]] > newest[order[j]]
	})
	groups := make([]RecommendationGroup, 0, len(order))
	for _, label := range order {
		groups = append(groups, *byLabel[label])
	}
	return groups
}
