package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPrefsService(t *testing.T, handler http.Handler) *PreferencesService {
	t.Helper()
	gw, _ := newTestGateway(t, handler)
	return &PreferencesService{
		Gateway:  gw,
		Identity: Identity{OpenID: "me", Token: "tok"},
		Log:      NewLogger(io.Discard),
	}
}

func countingOK(calls *int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Write([]byte(`{"success":true,"data":{}}`))
	})
}

func TestSubmitRequiresDiningScene(t *testing.T) {
	var calls int32
	p := newPrefsService(t, countingOK(&calls))

	err := p.Submit(context.Background(), PreferencesDraft{})
	assert.ErrorIs(t, err, ErrDiningSceneRequired)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls), "validation failure must issue zero network calls")
}

func TestSubmitPostsOnceOnValidDraft(t *testing.T) {
	var calls int32
	var gotPath string
	p := newPrefsService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		gotPath = r.Method + " " + r.URL.Path
		var body struct {
			OpenID      string           `json:"openid"`
			Preferences PreferencesDraft `json:"preferences"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "舒适居家餐", body.Preferences.DiningScene)
		w.Write([]byte(`{"success":true}`))
	}))

	draft := PreferencesDraft{}
	draft.SetDiningScene("舒适居家餐")
	require.NoError(t, p.Submit(context.Background(), draft))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, "POST /api/preferences", gotPath)
}

func TestSetCustomDescriptionExtractsKeywords(t *testing.T) {
	var d PreferencesDraft
	d.SetCustomDescription("喜欢吃辣，不吃香菜。偏爱 川菜 和烧烤")
	assert.Equal(t, []string{"喜欢吃辣", "不吃香菜", "偏爱"}, d.ExtractedKeywords)

	d.SetCustomDescription("辣")
	assert.Empty(t, d.ExtractedKeywords, "single-rune words are dropped")
}

const sampleSummary = "- **火锅推荐**：\n" +
	"  - **海底捞**：服务出名，**番茄锅底**很棒\n" +
	"  - **小龙坎**：排队久但**牛油锅**正宗\n" +
	"- **咖啡推荐**：\n" +
	"  - **Manner**：性价比高\n"

func TestParseSummary(t *testing.T) {
	cats := ParseSummary(sampleSummary)
	require.Len(t, cats, 2)

	hotpot := cats[0]
	assert.Equal(t, "火锅推荐", hotpot.Type)
	assert.Equal(t, "🍲", hotpot.Icon)
	require.Len(t, hotpot.Items, 2)
	assert.Equal(t, "海底捞", hotpot.Items[0].Title)
	assert.Equal(t, "服务出名，番茄锅底很棒", hotpot.Items[0].Description)
	assert.Equal(t, []string{"番茄锅底"}, hotpot.Items[0].Highlights)

	coffee := cats[1]
	assert.Equal(t, "☕", coffee.Icon)
	require.Len(t, coffee.Items, 1)
}

func TestParseSummaryGarbageYieldsEmpty(t *testing.T) {
	assert.Empty(t, ParseSummary(""))
	assert.Empty(t, ParseSummary("完全不是预期格式的文本 ** 测试"))
}

func TestSerializeParseRoundTrip(t *testing.T) {
	cats := []PreferenceCategory{
		{Type: "烧烤推荐", Icon: "🍖", Items: []PreferenceEntry{
			{Title: "木屋烧烤", Description: "羊肉串一绝", Highlights: nil},
		}},
	}
	parsed := ParseSummary(SerializeSummary(cats))
	require.Len(t, parsed, 1)
	assert.Equal(t, "烧烤推荐", parsed[0].Type)
	require.Len(t, parsed[0].Items, 1)
	assert.Equal(t, "木屋烧烤", parsed[0].Items[0].Title)
	assert.Equal(t, "羊肉串一绝", parsed[0].Items[0].Description)
}

func TestListMutationsResubmitWholeCollection(t *testing.T) {
	var calls int32
	var lastSummary string
	p := newPrefsService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var body struct {
			Summary string `json:"summary"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		lastSummary = body.Summary
		w.Write([]byte(`{"success":true}`))
	}))
	ctx := context.Background()

	cats, err := p.AddItem(ctx, nil, "甜品推荐", PreferenceEntry{Title: "芝士蛋糕", Description: "入口即化"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Contains(t, lastSummary, "芝士蛋糕")

	cats, err = p.EditItem(ctx, cats, "甜品推荐", 0, PreferenceEntry{Title: "提拉米苏", Description: "经典"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.Contains(t, lastSummary, "提拉米苏")
	assert.NotContains(t, lastSummary, "芝士蛋糕")

	cats, err = p.DeleteItem(ctx, cats, "甜品推荐", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Empty(t, cats)
	assert.Empty(t, lastSummary)
}

func TestEditItemOutOfRange(t *testing.T) {
	p := newPrefsService(t, countingOK(new(int32)))
	_, err := p.EditItem(context.Background(), []PreferenceCategory{{Type: "x"}}, "x", 2, PreferenceEntry{})
	assert.Error(t, err)
	_, err = p.DeleteItem(context.Background(), nil, "missing", 0)
	assert.Error(t, err)
}
