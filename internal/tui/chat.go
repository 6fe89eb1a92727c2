package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dinechat/internal/app"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type sendDoneMsg struct{ err error }
type refreshDoneMsg struct{ err error }
type shareSavedMsg struct {
	id  string
	err error
}
type noticeMsg string
type noticeExpiredMsg struct{}
type pollTickMsg struct{}

// Model is the interactive chat screen: the message log, the input line
// and the toggleable recommendation panel.
type Model struct {
	ctx     context.Context
	session *app.ChatSession
	share   *app.ShareService
	aiName  string
	theme   Theme

	input   textinput.Model
	chatVP  viewport.Model
	recsVP  viewport.Model
	spin    spinner.Model
	notices chan string

	width    int
	height   int
	ready    bool
	sending  bool
	showRecs bool
	notice   string
}

func NewModel(ctx context.Context, session *app.ChatSession, share *app.ShareService, aiName string) *Model {
	ti := textinput.New()
	ti.Placeholder = "想吃什么？告诉我吧"
	ti.Focus()
	ti.CharLimit = 500

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	if aiName == "" {
		aiName = "AI 助手"
	}

	m := &Model{
		ctx:     ctx,
		session: session,
		share:   share,
		aiName:  aiName,
		theme:   NewTheme(),
		input:   ti,
		spin:    sp,
		notices: make(chan string, 8),
	}
	return m
}

// Notify is handed to the session as its transient-notice sink.
func (m *Model) Notify(msg string) {
	select {
	case m.notices <- msg:
	default:
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, m.waitNotice(), m.pollTick())
}

func (m *Model) waitNotice() tea.Cmd {
	return func() tea.Msg {
		return noticeMsg(<-m.notices)
	}
}

func (m *Model) pollTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return pollTickMsg{} })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true
		m.refreshChatView()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.session.Close()
			return m, tea.Quit
		case "ctrl+r":
			m.showRecs = !m.showRecs
			m.layout()
			if m.showRecs {
				cmds = append(cmds, m.openRecommendations())
			}
		case "ctrl+s":
			if cmd := m.saveShare(); cmd != nil {
				cmds = append(cmds, cmd)
			}
		case "enter":
			if cmd := m.onEnter(); cmd != nil {
				cmds = append(cmds, cmd)
			}
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}

	case sendDoneMsg:
		m.sending = false
		m.refreshChatView()
		m.chatVP.GotoBottom()

	case refreshDoneMsg:
		m.refreshRecsView()

	case shareSavedMsg:
		if msg.err != nil {
			m.notice = "分享失败，请稍后再试"
			cmds = append(cmds,
				tea.Tick(3*time.Second, func(time.Time) tea.Msg { return noticeExpiredMsg{} }))
		} else {
			// The id lands in the log so it stays visible after the notice
			// expires.
			m.session.AddSystemNotice("会话已分享，分享码：" + msg.id)
			m.refreshChatView()
			m.chatVP.GotoBottom()
		}

	case noticeMsg:
		m.notice = string(msg)
		cmds = append(cmds, m.waitNotice(),
			tea.Tick(3*time.Second, func(time.Time) tea.Msg { return noticeExpiredMsg{} }))

	case noticeExpiredMsg:
		m.notice = ""

	case pollTickMsg:
		// The session's own poll goroutine may have ingested new items;
		// keep both views current.
		m.refreshChatView()
		if m.showRecs {
			m.refreshRecsView()
		}
		cmds = append(cmds, m.pollTick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) onEnter() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.sending {
		return nil
	}
	m.input.Reset()
	m.sending = true
	// The user message is appended synchronously inside Send; render it as
	// soon as the command starts by refreshing on the next frame too.
	return func() tea.Msg {
		err := m.session.Send(m.ctx, text)
		return sendDoneMsg{err: err}
	}
}

func (m *Model) saveShare() tea.Cmd {
	if m.share == nil {
		return nil
	}
	messages := m.session.Messages()
	items := m.session.HistoryItems()
	return func() tea.Msg {
		id, err := m.share.Save(m.ctx, messages, items)
		return shareSavedMsg{id: id, err: err}
	}
}

func (m *Model) openRecommendations() tea.Cmd {
	return func() tea.Msg {
		err := m.session.OpenRecommendations(m.ctx)
		return refreshDoneMsg{err: err}
	}
}

func (m *Model) layout() {
	chatW := m.width
	if m.showRecs {
		chatW = m.width * 3 / 5
	}
	bodyH := m.height - 6
	if bodyH < 3 {
		bodyH = 3
	}
	if !m.ready {
		m.chatVP = viewport.New(chatW-2, bodyH)
		m.recsVP = viewport.New(m.width-chatW-2, bodyH)
		return
	}
	m.chatVP.Width = chatW - 2
	m.chatVP.Height = bodyH
	m.recsVP.Width = m.width - chatW - 2
	m.recsVP.Height = bodyH
}

func (m *Model) refreshChatView() {
	var b strings.Builder
	now := time.Now()
	for _, msg := range m.session.Messages() {
		b.WriteString(m.renderMessage(msg, now))
		b.WriteString("\n")
	}
	atBottom := m.chatVP.AtBottom()
	m.chatVP.SetContent(b.String())
	if atBottom {
		m.chatVP.GotoBottom()
	}
}

func (m *Model) renderMessage(msg app.Message, now time.Time) string {
	var label string
	var style lipgloss.Style
	switch msg.Role {
	case app.RoleUser:
		label, style = "你", m.theme.RoleYou
	case app.RoleRemoteAssistant:
		label, style = msg.SenderLabel, m.theme.RoleRemote
		if label == "" {
			label = "对方的AI"
		}
	case app.RoleSystem:
		label, style = "系统", m.theme.RoleRemote
	default:
		label, style = m.aiName, m.theme.RoleAI
	}
	ts := m.theme.Timestamp.Render(app.FormatTime(msg.CreatedAt, now))
	header := style.Render(label) + " " + ts
	body := lipgloss.NewStyle().Width(m.chatVP.Width).Render(msg.Text)
	return header + "\n" + body + "\n"
}

func (m *Model) refreshRecsView() {
	var b strings.Builder
	groups := m.session.Recommendations()
	plan := m.session.Plan()

	for _, sec := range plan {
		b.WriteString(m.theme.PaneTitle.Render(sec.Title))
		b.WriteString("\n")
		for _, d := range sec.Details {
			prefix := ""
			if d.Type == "detail" {
				prefix = "· "
			}
			b.WriteString(m.theme.CardMeta.Render(prefix + d.Content))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(groups) == 0 && len(plan) == 0 {
		b.WriteString(m.theme.CardMeta.Render("暂无推荐，聊聊你想吃什么吧"))
	}
	for _, g := range groups {
		b.WriteString(m.theme.DateLabel.Render(g.DateLabel))
		b.WriteString("\n")
		for _, it := range g.Items {
			b.WriteString(m.theme.CardTitle.Render(it.Title))
			b.WriteString("\n")
			if it.Description != "" {
				b.WriteString(m.theme.CardMeta.Render(it.Description))
				b.WriteString("\n")
			}
			meta := it.Distance
			if it.Domain != "" {
				meta += " · " + it.Domain
			}
			if n := len(it.SnapshotImages); n > 0 {
				meta += fmt.Sprintf(" · %d张图", n)
			}
			b.WriteString(m.theme.CardMeta.Render(meta))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	m.recsVP.SetContent(b.String())
}

func (m *Model) View() string {
	if !m.ready {
		return "加载中..."
	}

	title := m.theme.TopBar.Render(m.aiName)
	if shared := m.session.Shared(); shared != nil && shared.IsSharedSession {
		title += m.theme.Footer.Render("(共享会话)")
	}
	if m.sending {
		title += " " + m.spin.View()
	}

	chat := m.theme.Pane.Render(m.chatVP.View())
	body := chat
	if m.showRecs {
		recs := m.theme.Pane.Render(m.recsVP.View())
		body = lipgloss.JoinHorizontal(lipgloss.Top, chat, recs)
	}

	input := m.theme.InputBox.Width(m.width - 2).Render(m.input.View())
	footer := m.theme.Footer.Render("enter 发送 · ctrl+r 推荐 · ctrl+s 分享 · esc 退出")
	if m.notice != "" {
		footer = m.theme.Notice.Render(m.notice)
	}

	return strings.Join([]string{title, body, input, footer}, "\n")
}
