package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Keywords that make the recommendation poll eligible to refresh.
var refreshKeywords = []string{"推荐", "餐厅", "美食", "附近", "吃什么", "想吃"}

const keywordWindow = 5

// SessionOptions bundles the collaborators a ChatSession needs. Clock is
// injectable for tests and defaults to time.Now.
type SessionOptions struct {
	Gateway  *Gateway
	Identity Identity
	Locator  PlatformLocation
	Log      *Logger

	AgentID string
	GroupID string

	Cooldown     time.Duration
	PollInterval time.Duration
	HistoryCap   int

	Shared *SharedSessionContext

	// Notify receives the transient, non-blocking user notices.
	Notify func(string)
	Clock  func() time.Time
}

// ChatSession owns one chat page's state: the append-only message log, the
// recommendation history and its projections, and the poll timer. All state
// is private to the session and dies with it unless explicitly shared.
type ChatSession struct {
	mu sync.Mutex

	gw      *Gateway
	id      Identity
	locator PlatformLocation
	log     *Logger
	notify  func(string)
	now     func() time.Time

	agentID string
	groupID string

	cooldown     time.Duration
	pollInterval time.Duration

	messages []Message
	nextID   int64
	sending  bool

	history      *History
	groups       []RecommendationGroup
	plan         []PlanSection
	intents      []string
	lastRefresh  time.Time
	forceRefresh bool

	shared *SharedSessionContext

	closed   bool
	stop     chan struct{}
	stopOnce sync.Once
}

func NewChatSession(opts SessionOptions) *ChatSession {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.AgentID == "" {
		opts.AgentID = "1"
	}
	if opts.GroupID == "" {
		opts.GroupID = "main_group"
	}
	s := &ChatSession{
		gw:           opts.Gateway,
		id:           opts.Identity,
		locator:      opts.Locator,
		log:          opts.Log,
		notify:       opts.Notify,
		now:          opts.Clock,
		agentID:      opts.AgentID,
		groupID:      opts.GroupID,
		cooldown:     opts.Cooldown,
		pollInterval: opts.PollInterval,
		history:      NewHistory(opts.HistoryCap),
		shared:       opts.Shared,
		stop:         make(chan struct{}),
	}
	s.append(RoleAssistant, WelcomeMessage, "")
	return s
}

// append assigns the next id and appends under the lock. The log is append
// only; nothing ever edits or removes a message in place.
func (s *ChatSession) append(role Role, text, senderLabel string) Message {
	msg := Message{
		ID:          s.nextID + 1,
		Role:        role,
		Text:        text,
		SenderLabel: senderLabel,
		CreatedAt:   s.now(),
	}
	s.nextID = msg.ID
	s.messages = append(s.messages, msg)
	return msg
}

// SetNotify installs the transient-notice sink. The TUI attaches itself
// here after construction since it needs the session first.
func (s *ChatSession) SetNotify(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

func (s *ChatSession) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *ChatSession) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

func (s *ChatSession) Shared() *SharedSessionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shared
}

// ReplayShared populates the log from a loaded shared session. Assistant
// turns from the original conversation carry the original user's display
// name as their sender label.
func (s *ChatSession) ReplayShared(loaded *LoadedShare) {
	s.mu.Lock()
	defer s.mu.Unlock()
	label := ""
	if loaded.OriginalUser != nil {
		label = loaded.OriginalUser.DisplayName
	}
	for _, m := range loaded.Messages {
		if m.Role == RoleAssistant || m.Role == RoleRemoteAssistant {
			s.append(RoleRemoteAssistant, m.Text, label)
		} else {
			s.append(m.Role, m.Text, m.SenderLabel)
		}
	}
	s.history.Ingest(loaded.Recommendations)
	s.groups = GroupByDate(s.history.Items())
}

type chatReply struct {
	Response    string `json:"response"`
	TaskInvoker string `json:"taskInvoker"`
}

// Send runs one chat turn. Empty input and an in-flight turn are guarded
// no-ops reported via a typed error before any state changes. The user's
// message is appended immediately and never rolled back; a rejected call
// appends the fixed apology as the assistant turn instead.
func (s *ChatSession) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.sending {
		s.mu.Unlock()
		return ErrBusy
	}
	s.sending = true
	s.append(RoleUser, text, "")
	shared := s.shared
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	loc := s.currentLocation(ctx)

	if shared != nil && shared.IsSharedSession && shared.OriginalUser != nil {
		s.sendShared(ctx, text, loc, shared)
		return nil
	}

	reply, err := s.chatCall(ctx, text, s.id.OpenID, loc)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Page navigated away while the call was in flight; drop the result.
		return ErrSessionClosed
	}
	if err != nil {
		s.append(RoleAssistant, ApologyMessage, "")
		s.transientNotice(err)
		return nil
	}
	s.append(RoleAssistant, reply.Response, "")
	if reply.TaskInvoker != "" {
		s.forceRefresh = true
	}
	return nil
}

// sendShared mirrors the turn to both identities in parallel. The appends
// are ordered by role, own response first, regardless of which call
// settles first.
func (s *ChatSession) sendShared(ctx context.Context, text string, loc *Location, shared *SharedSessionContext) {
	var (
		wg               sync.WaitGroup
		ownReply, remote chatReply
		ownErr, remErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ownReply, ownErr = s.chatCall(ctx, text, s.id.OpenID, loc)
	}()
	go func() {
		defer wg.Done()
		remote, remErr = s.chatCall(ctx, text, shared.OriginalUser.OpenID, loc)
	}()
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if ownErr != nil && remErr != nil {
		s.append(RoleAssistant, ApologyMessage, "")
		s.transientNotice(ownErr)
		return
	}
	if ownErr == nil {
		s.append(RoleAssistant, ownReply.Response, "")
		if ownReply.TaskInvoker != "" {
			s.forceRefresh = true
		}
	}
	if remErr == nil {
		s.append(RoleRemoteAssistant, remote.Response, shared.OriginalUser.DisplayName)
	}
	if ownErr != nil {
		s.transientNotice(ownErr)
	} else if remErr != nil {
		s.transientNotice(remErr)
	}
}

func (s *ChatSession) chatCall(ctx context.Context, text, openid string, loc *Location) (chatReply, error) {
	body := map[string]interface{}{
		"message":  text,
		"taskName": "chat",
		"openid":   openid,
		"agentId":  s.agentID,
		"groupId":  s.groupID,
	}
	if loc != nil {
		body["location"] = loc
	}
	raw, err := s.gw.Send(ctx, http.MethodPost, "/chat_agent", body)
	if err != nil {
		return chatReply{}, err
	}
	var reply chatReply
	if err := decode("/chat_agent", raw, &reply); err != nil {
		return chatReply{}, err
	}
	return reply, nil
}

func (s *ChatSession) transientNotice(err error) {
	msg := "AI响应失败"
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.UserMessage()
	}
	s.log.Error("chat turn failed", map[string]interface{}{"error": err.Error()})
	if s.notify != nil {
		s.notify(msg)
	}
}

// currentLocation re-acquires the location best effort before a dependent
// call; a failed lookup degrades to no location.
func (s *ChatSession) currentLocation(ctx context.Context) *Location {
	if s.locator == nil {
		return nil
	}
	loc, err := s.locator.Current(ctx)
	if err != nil {
		s.log.Warn("location unavailable", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return loc
}

// Recommendations returns the current date-grouped projection.
func (s *ChatSession) Recommendations() []RecommendationGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecommendationGroup, len(s.groups))
	copy(out, s.groups)
	return out
}

func (s *ChatSession) Plan() []PlanSection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlanSection, len(s.plan))
	copy(out, s.plan)
	return out
}

// Intents are the backend's guesses at what the user is after, from the
// latest refresh.
func (s *ChatSession) Intents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.intents))
	copy(out, s.intents)
	return out
}

func (s *ChatSession) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Len()
}

// HistoryItems returns the flat recommendation history, oldest first. This
// is what gets uploaded when the session is shared.
func (s *ChatSession) HistoryItems() []RecommendationItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Items()
}

// AddSystemNotice appends a system turn to the log, e.g. the confirmation
// after the transcript was shared. Dropped once the session is closed.
func (s *ChatSession) AddSystemNotice(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.append(RoleSystem, text, "")
}

// OpenRecommendations is the explicit trigger: the user opened the panel,
// so refresh unconditionally.
func (s *ChatSession) OpenRecommendations(ctx context.Context) error {
	return s.refresh(ctx)
}

// MaybeRefresh is the poll-tick trigger. It refreshes only when the
// cooldown window has passed and either a trigger keyword appears in the
// recent messages or the force flag is set.
func (s *ChatSession) MaybeRefresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.refreshDue() {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.refresh(ctx)
}

// refreshDue is called under the lock.
func (s *ChatSession) refreshDue() bool {
	if !s.lastRefresh.IsZero() && s.now().Sub(s.lastRefresh) < s.cooldown {
		return false
	}
	if s.forceRefresh {
		return true
	}
	// Only user turns count: the assistant's own replies (and the welcome
	// message) mention food constantly and would trip the gate forever.
	seen := 0
	for i := len(s.messages) - 1; i >= 0 && seen < keywordWindow; i-- {
		m := s.messages[i]
		if m.Role != RoleUser {
			continue
		}
		seen++
		for _, kw := range refreshKeywords {
			if strings.Contains(m.Text, kw) {
				return true
			}
		}
	}
	return false
}

func (s *ChatSession) refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	recent := make([]string, 0, keywordWindow)
	start := len(s.messages) - keywordWindow
	if start < 0 {
		start = 0
	}
	for _, m := range s.messages[start:] {
		recent = append(recent, m.Text)
	}
	s.mu.Unlock()

	loc := s.currentLocation(ctx)
	body := map[string]interface{}{
		"messages":  recent,
		"openid":    s.id.OpenID,
		"agentId":   s.agentID,
		"timestamp": s.now().UnixMilli(),
	}
	if loc != nil {
		body["location"] = loc
	}
	data, err := s.gw.SendData(ctx, http.MethodPost, "/api/recommendations", body)
	if err != nil {
		s.log.Error("recommendation refresh failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	var batch RecommendationBatch
	if err := decode("/api/recommendations", data, &batch); err != nil {
		return err
	}

	now := s.now()
	items := make([]RecommendationItem, 0, len(batch.Recommendations.Items))
	for _, raw := range batch.Recommendations.Items {
		items = append(items, NormalizeRecommendation(raw, loc, now))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Stale result after teardown; drop it.
		return ErrSessionClosed
	}
	added := s.history.Ingest(items)
	s.groups = GroupByDate(s.history.Items())
	s.plan = FormatPlan(batch.Recommendations.OrganizedPlan)
	s.intents = batch.Recommendations.Intents
	s.lastRefresh = now
	s.forceRefresh = false
	s.log.Info("recommendations refreshed", map[string]interface{}{
		"new":   len(added),
		"total": s.history.Len(),
	})
	return nil
}

// StartPolling runs the recurring refresh check until Close. The ticker is
// owned by this session; Close tears it down exactly once.
func (s *ChatSession) StartPolling(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = s.MaybeRefresh(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close marks the session torn down. Late network results are dropped by
// the closed guards; the poll goroutine exits.
func (s *ChatSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
}
