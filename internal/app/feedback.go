package app

import (
	"context"
	"net/http"
	"strings"
	"time"
)

var FeedbackTypes = []string{"功能建议", "问题反馈", "其他"}

type Feedback struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	ContactInfo string `json:"contactInfo,omitempty"`
}

type FeedbackService struct {
	Gateway  *Gateway
	Identity Identity
}

// Submit rejects empty content locally, then posts the feedback.
func (f *FeedbackService) Submit(ctx context.Context, fb Feedback) error {
	if strings.TrimSpace(fb.Content) == "" {
		return ErrFeedbackRequired
	}
	if fb.Type == "" {
		fb.Type = FeedbackTypes[0]
	}
	body := map[string]interface{}{
		"openid":      f.Identity.OpenID,
		"type":        fb.Type,
		"content":     fb.Content,
		"contactInfo": fb.ContactInfo,
		"timestamp":   time.Now().UnixMilli(),
	}
	_, err := f.Gateway.SendData(ctx, http.MethodPost, "/api/feedback", body)
	return err
}
