package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSession(t *testing.T, handler http.Handler, opts SessionOptions) *ChatSession {
	t.Helper()
	gw, _ := newTestGateway(t, handler)
	opts.Gateway = gw
	opts.Identity = Identity{OpenID: "me", Token: "tok"}
	opts.Log = NewLogger(io.Discard)
	s := NewChatSession(opts)
	t.Cleanup(s.Close)
	return s
}

func chatHandler(reply string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": reply})
	})
}

func TestSendAppendsUserThenAssistant(t *testing.T) {
	s := newTestSession(t, chatHandler("去吃火锅吧"), SessionOptions{})

	require.NoError(t, s.Send(context.Background(), "想吃辣的"))

	msgs := s.Messages()
	require.Len(t, msgs, 3) // welcome, user, assistant
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.Equal(t, WelcomeMessage, msgs[0].Text)
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, "想吃辣的", msgs[1].Text)
	assert.Equal(t, RoleAssistant, msgs[2].Role)
	assert.Equal(t, "去吃火锅吧", msgs[2].Text)

	// IDs strictly increase.
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].ID, msgs[i-1].ID)
	}
	assert.False(t, s.Sending())
}

func TestSendGuardsEmptyAndWhitespace(t *testing.T) {
	var calls int32
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}), SessionOptions{})

	assert.ErrorIs(t, s.Send(context.Background(), ""), ErrEmptyMessage)
	assert.ErrorIs(t, s.Send(context.Background(), "   \t\n"), ErrEmptyMessage)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
	assert.Len(t, s.Messages(), 1) // only the welcome
}

func TestSendGuardsWhileSending(t *testing.T) {
	release := make(chan struct{})
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(map[string]string{"response": "好的"})
	}), SessionOptions{})

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "first") }()

	// Wait until the first send is holding the sending flag.
	require.Eventually(t, s.Sending, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Send(context.Background(), "second"), ErrBusy)

	close(release)
	require.NoError(t, <-done)

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[1].Text)
}

func TestSendRejectionAppendsApologyAndClearsLoading(t *testing.T) {
	var notice string
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"模型超载"}`))
	}), SessionOptions{Notify: func(msg string) { notice = msg }})

	require.NoError(t, s.Send(context.Background(), "想吃面"))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleUser, msgs[1].Role, "user message is not rolled back")
	assert.Equal(t, ApologyMessage, msgs[2].Text)
	assert.Equal(t, RoleAssistant, msgs[2].Role)
	assert.False(t, s.Sending())
	assert.Equal(t, "模型超载", notice)
}

func TestSharedSendOrdersOwnResponseFirst(t *testing.T) {
	// The remote identity's reply returns immediately; the own reply is
	// delayed. Order in the log must still be own first.
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OpenID string `json:"openid"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.OpenID == "me" {
			time.Sleep(50 * time.Millisecond)
			json.NewEncoder(w).Encode(map[string]string{"response": "我的回答"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "对方的回答"})
	}), SessionOptions{
		Shared: &SharedSessionContext{
			IsSharedSession: true,
			OriginalUser:    &SharedUser{OpenID: "friend", DisplayName: "老张的AI"},
		},
	})

	require.NoError(t, s.Send(context.Background(), "今晚吃什么"))

	msgs := s.Messages()
	require.Len(t, msgs, 4) // welcome, user, own, remote
	assert.Equal(t, RoleAssistant, msgs[2].Role)
	assert.Equal(t, "我的回答", msgs[2].Text)
	assert.Equal(t, RoleRemoteAssistant, msgs[3].Role)
	assert.Equal(t, "对方的回答", msgs[3].Text)
	assert.Equal(t, "老张的AI", msgs[3].SenderLabel)
}

func recommendationHandler(calls *int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/recommendations" {
			json.NewEncoder(w).Encode(map[string]string{"response": "好"})
			return
		}
		atomic.AddInt32(calls, 1)
		w.Write([]byte(`{"success":true,"data":{"recommendations":{
			"original_recommendations":[{"unique_id":"r1","title":"张记面馆","timestamp":1750000000000}],
			"organized_plan":"1. 张记面馆\n- 地址：人民路1号",
			"intents":["吃面"]},"images":[]}}`))
	})
}

func TestRefreshCooldownAllowsOneCall(t *testing.T) {
	var calls int32
	clock := &fakeClock{t: time.Now()}
	s := newTestSession(t, recommendationHandler(&calls), SessionOptions{Clock: clock.Now})

	// Seed a trigger keyword into the recent messages.
	require.NoError(t, s.Send(context.Background(), "有什么推荐"))

	require.NoError(t, s.MaybeRefresh(context.Background()))
	require.NoError(t, s.MaybeRefresh(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls),
		"two triggers inside the cooldown window must produce one network call")

	clock.Advance(2*time.Minute + time.Second)
	require.NoError(t, s.MaybeRefresh(context.Background()))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestRefreshSkippedWithoutKeywordOrForce(t *testing.T) {
	var calls int32
	s := newTestSession(t, recommendationHandler(&calls), SessionOptions{})

	require.NoError(t, s.MaybeRefresh(context.Background()))
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestOpenRecommendationsRefreshesUnconditionally(t *testing.T) {
	var calls int32
	s := newTestSession(t, recommendationHandler(&calls), SessionOptions{})

	require.NoError(t, s.OpenRecommendations(context.Background()))
	require.NoError(t, s.OpenRecommendations(context.Background()))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	groups := s.Recommendations()
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Items, 1)
	assert.Equal(t, "张记面馆", groups[0].Items[0].Title)

	plan := s.Plan()
	require.Len(t, plan, 1)
	assert.Equal(t, "张记面馆", plan[0].Title)
}

func TestRefreshIngestIsIdempotentAcrossPolls(t *testing.T) {
	var calls int32
	s := newTestSession(t, recommendationHandler(&calls), SessionOptions{})

	require.NoError(t, s.OpenRecommendations(context.Background()))
	require.NoError(t, s.OpenRecommendations(context.Background()))
	assert.Equal(t, 1, s.HistoryLen(), "identical unique_id must not duplicate history")
}

func TestClosedSessionRejectsWork(t *testing.T) {
	var calls int32
	s := newTestSession(t, recommendationHandler(&calls), SessionOptions{})
	s.Close()
	s.Close() // teardown is idempotent

	assert.ErrorIs(t, s.Send(context.Background(), "hello"), ErrSessionClosed)
	assert.ErrorIs(t, s.MaybeRefresh(context.Background()), ErrSessionClosed)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestAddSystemNoticeAppendsSystemTurn(t *testing.T) {
	s := newTestSession(t, chatHandler("ok"), SessionOptions{})

	s.AddSystemNotice("会话已分享，分享码：abc")
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[1].Role)
	assert.Equal(t, "会话已分享，分享码：abc", msgs[1].Text)
	assert.Greater(t, msgs[1].ID, msgs[0].ID)

	s.Close()
	s.AddSystemNotice("dropped")
	assert.Len(t, s.Messages(), 2, "closed session appends nothing")
}

func TestReplaySharedLabelsRemoteTurns(t *testing.T) {
	s := newTestSession(t, chatHandler("ok"), SessionOptions{
		Shared: &SharedSessionContext{IsSharedSession: true, OriginalUser: &SharedUser{OpenID: "f", DisplayName: "小李"}},
	})
	s.ReplayShared(&LoadedShare{
		Messages: []Message{
			{Role: RoleUser, Text: "上次吃的那家"},
			{Role: RoleAssistant, Text: "是一家川菜馆"},
		},
		Recommendations: []RecommendationItem{{UniqueID: "x", FormattedDate: "今天"}},
		OriginalUser:    &SharedUser{DisplayName: "小李"},
	})

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, RoleRemoteAssistant, msgs[2].Role)
	assert.Equal(t, "小李", msgs[2].SenderLabel)
	assert.Equal(t, 1, s.HistoryLen())
}
