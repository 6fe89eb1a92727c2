package app

import (
	"context"
	"net/http"
	"strings"
)

// Persona option sets from the customization page.
var (
	Personalities  = []string{"开朗", "温柔", "活泼", "稳重", "傲娇"}
	SpeakingStyles = []string{"可爱", "正经", "俏皮", "温和", "幽默"}
)

const (
	defaultPersonality   = "开朗"
	defaultSpeakingStyle = "可爱"
	defaultAIName        = "AI智能助手"
	unknownStatus        = "未知"
)

type PersonaSettings struct {
	Name          string `json:"name"`
	Personality   string `json:"personality"`
	SpeakingStyle string `json:"speakingStyle"`
	Memories      string `json:"memories"`
}

type AIStatus struct {
	Mood     string `json:"mood"`
	Activity string `json:"activity"`
	Thought  string `json:"thought"`
	Name     string `json:"name"`
}

type PersonaService struct {
	Gateway  *Gateway
	Identity Identity
	Log      *Logger
}

// Load fetches the persona settings, filling product defaults for unset
// fields.
func (p *PersonaService) Load(ctx context.Context) (PersonaSettings, error) {
	data, err := p.Gateway.SendData(ctx, http.MethodGet, "/api/ai/settings?openid="+p.Identity.OpenID, nil)
	if err != nil {
		return PersonaSettings{}, err
	}
	var s PersonaSettings
	if err := decode("/api/ai/settings", data, &s); err != nil {
		return PersonaSettings{}, err
	}
	if s.Personality == "" {
		s.Personality = defaultPersonality
	}
	if s.SpeakingStyle == "" {
		s.SpeakingStyle = defaultSpeakingStyle
	}
	if strings.TrimSpace(s.Name) == "" {
		s.Name = defaultAIName
	}
	return s, nil
}

func (p *PersonaService) Save(ctx context.Context, s PersonaSettings) error {
	body := map[string]interface{}{
		"openid":        p.Identity.OpenID,
		"name":          s.Name,
		"personality":   s.Personality,
		"speakingStyle": s.SpeakingStyle,
		"memories":      s.Memories,
	}
	_, err := p.Gateway.SendData(ctx, http.MethodPost, "/api/ai/settings", body)
	return err
}

// Status fetches the live mood/activity/thought line for the home screen.
// Missing fields degrade to a fixed placeholder.
func (p *PersonaService) Status(ctx context.Context) (AIStatus, error) {
	raw, err := p.Gateway.Send(ctx, http.MethodPost, "/ai_status",
		map[string]string{"openid": p.Identity.OpenID})
	if err != nil {
		return AIStatus{}, err
	}
	var st AIStatus
	if err := decode("/ai_status", raw, &st); err != nil {
		return AIStatus{}, err
	}
	if st.Mood == "" {
		st.Mood = unknownStatus
	}
	if st.Activity == "" {
		st.Activity = unknownStatus
	}
	if st.Thought == "" {
		st.Thought = unknownStatus
	}
	if st.Name == "" {
		st.Name = defaultAIName
	}
	return st, nil
}
