package app

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Questionnaire option sets, exactly as the product ships them.
var (
	DiningScenes = []string{
		"舒适居家餐",
		"和朋友一起热闹吃饭",
		"一个人快速解决一餐",
		"想尝试新鲜特别的东西",
		"不确定，随便推荐",
	}
	DiningStyleOptions = []string{
		"外卖/堂食快餐",
		"正餐（如中餐、西餐）",
		"夜宵小吃",
		"咖啡甜点",
		"酒吧或酒馆",
	}
	FlavorOptions = []string{
		"惊喜浓烈（如辣、鲜、重口味）",
		"清淡健康（如沙拉、低脂餐）",
		"温暖治愈（如汤品、炖菜）",
		"甜蜜快乐（如甜点、果味）",
	}
	AlcoholOptions = []string{
		"喜欢搭配酒精饮品",
		"只喝无酒精饮品",
		"视情况而定",
	}
)

// PreferencesDraft is the locally held questionnaire state. Each setter is
// an independent, immediate field update; nothing persists until Submit.
type PreferencesDraft struct {
	DiningScene       string   `json:"diningScene"`
	DiningStyles      []string `json:"diningStyles"`
	FlavorPreferences []string `json:"flavorPreferences"`
	AlcoholAttitude   string   `json:"alcoholAttitude"`
	Restrictions      string   `json:"restrictions"`
	CustomDescription string   `json:"customDescription"`
	ExtractedKeywords []string `json:"extractedKeywords"`
}

func (d *PreferencesDraft) SetDiningScene(v string)     { d.DiningScene = v }
func (d *PreferencesDraft) SetDiningStyles(v []string)  { d.DiningStyles = v }
func (d *PreferencesDraft) SetFlavors(v []string)       { d.FlavorPreferences = v }
func (d *PreferencesDraft) SetAlcoholAttitude(v string) { d.AlcoholAttitude = v }
func (d *PreferencesDraft) SetRestrictions(v string)    { d.Restrictions = v }

// SetCustomDescription updates the free-text field and re-derives the
// keyword preview.
func (d *PreferencesDraft) SetCustomDescription(v string) {
	d.CustomDescription = v
	d.ExtractedKeywords = ExtractKeywords(v)
}

var keywordSplitRe = regexp.MustCompile(`[,，。.、\s]+`)

// ExtractKeywords keeps up to three words longer than one rune, split on
// CJK and ASCII punctuation.
func ExtractKeywords(text string) []string {
	var out []string
	for _, w := range keywordSplitRe.Split(text, -1) {
		if len([]rune(w)) > 1 {
			out = append(out, w)
			if len(out) == 3 {
				break
			}
		}
	}
	return out
}

// Validate runs the local checks that block submission before any network
// call.
func (d *PreferencesDraft) Validate() error {
	if strings.TrimSpace(d.DiningScene) == "" {
		return ErrDiningSceneRequired
	}
	return nil
}

// PreferenceEntry is one list-valued preference item on the home summary.
type PreferenceEntry struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Highlights  []string `json:"highlights"`
}

type PreferenceCategory struct {
	Type  string            `json:"type"`
	Icon  string            `json:"icon"`
	Items []PreferenceEntry `json:"items"`
}

type PreferencesService struct {
	Gateway  *Gateway
	Identity Identity
	Log      *Logger
}

// Submit validates the draft locally, then performs the single submission.
// The draft is the caller's to discard on success.
func (p *PreferencesService) Submit(ctx context.Context, draft PreferencesDraft) error {
	if err := draft.Validate(); err != nil {
		return err
	}
	body := map[string]interface{}{
		"openid":      p.Identity.OpenID,
		"preferences": draft,
	}
	_, err := p.Gateway.SendData(ctx, http.MethodPost, "/api/preferences", body)
	return err
}

// Summary fetches the backend's free-text preference summary and its
// parsed projection. Parse failures degrade to an empty list; they never
// abort the flow.
func (p *PreferencesService) Summary(ctx context.Context) (string, []PreferenceCategory, error) {
	data, err := p.Gateway.SendData(ctx, http.MethodPost, "/api/preferences/summary",
		map[string]string{"openid": p.Identity.OpenID})
	if err != nil {
		return "", nil, err
	}
	var res struct {
		Summary string `json:"summary"`
	}
	if err := decode("/api/preferences/summary", data, &res); err != nil {
		return "", nil, err
	}
	return res.Summary, ParseSummary(res.Summary), nil
}

// Categories the summary parser recognizes, with their display icons.
var categoryIcons = []struct {
	keyword string
	icon    string
}{
	{"火锅", "🍲"},
	{"酒吧", "🍷"},
	{"饮品", "🥤"},
	{"咖啡", "☕"},
	{"甜品", "🍰"},
	{"烧烤", "🍖"},
	{"海鲜", "🦞"},
	{"音乐", "🎵"},
}

func iconFor(category string) string {
	for _, c := range categoryIcons {
		if strings.Contains(category, c.keyword) {
			return c.icon
		}
	}
	return "🎉"
}

var (
	summaryCategoryRe = regexp.MustCompile(`-\s+\*\*([^*]+推荐)\*\*：`)
	summaryItemRe     = regexp.MustCompile(`-\s+\*\*([^*]+)\*\*：([^\n-]+)`)
)

// ParseSummary splits the markdown-ish summary into typed categories. The
// format is backend dependent and best effort: anything that does not
// match yields an empty result rather than an error.
func ParseSummary(text string) []PreferenceCategory {
	headers := summaryCategoryRe.FindAllStringSubmatchIndex(text, -1)
	var cats []PreferenceCategory
	for i, h := range headers {
		name := text[h[2]:h[3]]
		end := len(text)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		content := text[h[1]:end]

		var items []PreferenceEntry
		for _, m := range summaryItemRe.FindAllStringSubmatch(content, -1) {
			desc := strings.TrimSpace(m[2])
			items = append(items, PreferenceEntry{
				Title:       strings.TrimSpace(m[1]),
				Description: stripEmphasis(desc),
				Highlights:  extractHighlights(desc),
			})
		}
		if len(items) > 0 {
			cats = append(cats, PreferenceCategory{
				Type:  name,
				Icon:  iconFor(name),
				Items: items,
			})
		}
	}
	return cats
}

// SerializeSummary is the inverse of ParseSummary: it renders the whole
// collection back into the single string representation the backend
// stores. There is no partial-update endpoint, so every list mutation
// round-trips through this.
func SerializeSummary(cats []PreferenceCategory) string {
	var b strings.Builder
	for _, cat := range cats {
		fmt.Fprintf(&b, "- **%s**：\n", cat.Type)
		for _, it := range cat.Items {
			fmt.Fprintf(&b, "  - **%s**：%s\n", it.Title, it.Description)
		}
	}
	return b.String()
}

func (p *PreferencesService) resubmit(ctx context.Context, cats []PreferenceCategory) error {
	body := map[string]interface{}{
		"openid":  p.Identity.OpenID,
		"summary": SerializeSummary(cats),
	}
	_, err := p.Gateway.SendData(ctx, http.MethodPost, "/api/preferences", body)
	return err
}

// AddItem appends an entry to a category (creating the category when
// needed) and re-submits the whole collection.
func (p *PreferencesService) AddItem(ctx context.Context, cats []PreferenceCategory, category string, entry PreferenceEntry) ([]PreferenceCategory, error) {
	found := false
	for i := range cats {
		if cats[i].Type == category {
			cats[i].Items = append(cats[i].Items, entry)
			found = true
			break
		}
	}
	if !found {
		cats = append(cats, PreferenceCategory{Type: category, Icon: iconFor(category), Items: []PreferenceEntry{entry}})
	}
	if err := p.resubmit(ctx, cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// EditItem replaces the entry at the given position and re-submits.
func (p *PreferencesService) EditItem(ctx context.Context, cats []PreferenceCategory, category string, index int, entry PreferenceEntry) ([]PreferenceCategory, error) {
	for i := range cats {
		if cats[i].Type != category {
			continue
		}
		if index < 0 || index >= len(cats[i].Items) {
			return nil, fmt.Errorf("preference item %d out of range", index)
		}
		cats[i].Items[index] = entry
		if err := p.resubmit(ctx, cats); err != nil {
			return nil, err
		}
		return cats, nil
	}
	return nil, fmt.Errorf("preference category %q not found", category)
}

// DeleteItem removes the entry at the given position, drops the category
// once empty, and re-submits.
func (p *PreferencesService) DeleteItem(ctx context.Context, cats []PreferenceCategory, category string, index int) ([]PreferenceCategory, error) {
	for i := range cats {
		if cats[i].Type != category {
			continue
		}
		if index < 0 || index >= len(cats[i].Items) {
			return nil, fmt.Errorf("preference item %d out of range", index)
		}
		cats[i].Items = append(cats[i].Items[:index], cats[i].Items[index+1:]...)
		if len(cats[i].Items) == 0 {
			cats = append(cats[:i], cats[i+1:]...)
		}
		if err := p.resubmit(ctx, cats); err != nil {
			return nil, err
		}
		return cats, nil
	}
	return nil, fmt.Errorf("preference category %q not found", category)
}

// PreferenceHistoryEntry is one saved questionnaire submission.
type PreferenceHistoryEntry struct {
	ID        string `json:"id"`
	Summary   string `json:"summary"`
	CreatedAt string `json:"createdAt"`
}

func (p *PreferencesService) History(ctx context.Context) ([]PreferenceHistoryEntry, error) {
	data, err := p.Gateway.SendData(ctx, http.MethodPost, "/api/preferences/history",
		map[string]string{"openid": p.Identity.OpenID})
	if err != nil {
		return nil, err
	}
	var entries []PreferenceHistoryEntry
	if err := decode("/api/preferences/history", data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (p *PreferencesService) DeleteHistory(ctx context.Context, id string) error {
	_, err := p.Gateway.SendData(ctx, http.MethodDelete, "/api/preferences/history/"+id, nil)
	return err
}

// SyncLocation pushes the current location and summary before a chat page
// opens, so recommendations start from fresh context.
func (p *PreferencesService) SyncLocation(ctx context.Context, loc *Location, summary string) error {
	body := map[string]interface{}{
		"openid":  p.Identity.OpenID,
		"summary": summary,
	}
	if loc != nil {
		body["location"] = loc
	}
	_, err := p.Gateway.Send(ctx, http.MethodPost, "/api/update_pref", body)
	return err
}
