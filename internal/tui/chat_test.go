package tui

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dinechat/internal/app"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShareTestModel(t *testing.T, handler http.Handler) (*Model, *app.ChatSession) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := app.NewLogger(io.Discard)
	gw := app.NewGateway(srv.URL, 5*time.Second, func() string { return "tok" }, log)
	session := app.NewChatSession(app.SessionOptions{
		Gateway:  gw,
		Identity: app.Identity{OpenID: "me", Token: "tok"},
		Log:      log,
	})
	t.Cleanup(session.Close)

	share := &app.ShareService{Gateway: gw, Log: log}
	m := NewModel(context.Background(), session, share, "小食")
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return m, session
}

func TestCtrlSSavesShareAndLogsShareCode(t *testing.T) {
	var mu sync.Mutex
	var savedID string
	var messageCount int
	m, session := newShareTestModel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/api/share/save", r.URL.Path)
		var body struct {
			ShareID  string        `json:"shareId"`
			Messages []app.Message `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		savedID = body.ShareID
		messageCount = len(body.Messages)
		mu.Unlock()
		w.Write([]byte(`{"success":true}`))
	}))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	require.NotNil(t, cmd)
	msg := cmd()

	saved, ok := msg.(shareSavedMsg)
	require.True(t, ok, "ctrl+s must produce a share result, got %T", msg)
	require.NoError(t, saved.err)

	mu.Lock()
	assert.Equal(t, savedID, saved.id)
	assert.Equal(t, 1, messageCount, "the welcome turn is part of the upload")
	mu.Unlock()

	m.Update(saved)
	msgs := session.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, app.RoleSystem, msgs[1].Role)
	assert.True(t, strings.Contains(msgs[1].Text, saved.id), "share code %q missing from %q", saved.id, msgs[1].Text)
}

func TestCtrlSFailureShowsNoticeWithoutLogEntry(t *testing.T) {
	m, session := newShareTestModel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"服务不可用"}`))
	}))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	require.NotNil(t, cmd)
	saved, ok := cmd().(shareSavedMsg)
	require.True(t, ok)
	require.Error(t, saved.err)

	m.Update(saved)
	assert.NotEmpty(t, m.notice)
	assert.Len(t, session.Messages(), 1, "a failed share leaves the log untouched")
}

func TestShareKeyIgnoredWithoutService(t *testing.T) {
	log := app.NewLogger(io.Discard)
	session := app.NewChatSession(app.SessionOptions{Identity: app.Identity{OpenID: "me"}, Log: log})
	t.Cleanup(session.Close)

	m := NewModel(context.Background(), session, nil, "小食")
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Nil(t, cmd)
}
