package app

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SharedSessionContext is set once when a page is opened with a share
// reference and read-only afterwards.
type SharedSessionContext struct {
	ShareID         string      `json:"shareId"`
	IsSharedSession bool        `json:"isSharedSession"`
	OriginalUser    *SharedUser `json:"originalUser,omitempty"`
}

type SharedUser struct {
	OpenID      string `json:"openid"`
	DisplayName string `json:"displayName"`
}

// LoadedShare is the saved conversation fetched for a share id.
type LoadedShare struct {
	Messages        []Message            `json:"messages"`
	Recommendations []RecommendationItem `json:"recommendations"`
	OriginalUser    *SharedUser          `json:"originalUser,omitempty"`
}

type ShareService struct {
	Gateway *Gateway
	Log     *Logger
}

// Save uploads the session's transcript and recommendation history and
// returns the share id other users open it with.
func (s *ShareService) Save(ctx context.Context, messages []Message, recommendations []RecommendationItem) (string, error) {
	shareID := uuid.NewString()
	body := map[string]interface{}{
		"shareId":         shareID,
		"messages":        messages,
		"recommendations": recommendations,
		"timestamp":       time.Now().UnixMilli(),
	}
	if _, err := s.Gateway.SendData(ctx, http.MethodPost, "/api/share/save", body); err != nil {
		return "", err
	}
	s.Log.Info("session shared", map[string]interface{}{"share_id": shareID, "messages": len(messages)})
	return shareID, nil
}

// Load fetches a shared conversation and builds the context the chat page
// runs in shared mode with.
func (s *ShareService) Load(ctx context.Context, shareID string) (*LoadedShare, *SharedSessionContext, error) {
	data, err := s.Gateway.SendData(ctx, http.MethodGet, "/api/share/"+shareID, nil)
	if err != nil {
		return nil, nil, err
	}
	var loaded LoadedShare
	if err := decode("/api/share/:id", data, &loaded); err != nil {
		return nil, nil, err
	}
	sctx := &SharedSessionContext{
		ShareID:         shareID,
		IsSharedSession: true,
		OriginalUser:    loaded.OriginalUser,
	}
	return &loaded, sctx, nil
}
