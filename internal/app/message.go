package app

import "time"

type Role string

const (
	RoleUser            Role = "user"
	RoleAssistant       Role = "assistant"
	RoleSystem          Role = "system"
	RoleRemoteAssistant Role = "remoteAssistant"
)

// Message is one turn in the session log. The log is append only for the
// lifetime of the session; IDs are strictly increasing and assigned by the
// session, never by the network.
type Message struct {
	ID          int64     `json:"id"`
	Role        Role      `json:"role"`
	Text        string    `json:"text"`
	SenderLabel string    `json:"senderLabel,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Display strings the original product shipped with.
const (
	WelcomeMessage = "你好！我是你的AI助手。我可以帮你推荐餐厅，你想吃什么类型的食物？"
	ApologyMessage = "抱歉，我现在遇到了一些问题。请稍后再试。"
)
