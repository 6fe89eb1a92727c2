package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Identity is the stable anonymous user reference plus its session token.
type Identity struct {
	OpenID  string   `json:"openid"`
	Token   string   `json:"token"`
	Profile *Profile `json:"profile,omitempty"`
}

type Profile struct {
	Nickname  string `json:"nickname,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// CredentialStore persists the token and profile under the storage dir.
// This is the only durable client-side state besides the config file.
type CredentialStore struct {
	Root string
}

type storedCredentials struct {
	Identity  Identity  `json:"identity"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewCredentialStore(root string) *CredentialStore {
	return &CredentialStore{Root: root}
}

func (s *CredentialStore) path() string {
	return filepath.Join(s.Root, "credentials.json")
}

func (s *CredentialStore) Load() (*Identity, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var sc storedCredentials
	if err := json.Unmarshal(data, &sc); err != nil {
		// A corrupted cache is the same as no cache.
		return nil, nil
	}
	if sc.Identity.OpenID == "" || sc.Identity.Token == "" {
		return nil, nil
	}
	return &sc.Identity, nil
}

func (s *CredentialStore) Save(id Identity) error {
	if err := os.MkdirAll(s.Root, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(storedCredentials{Identity: id, UpdatedAt: time.Now()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(), data, 0600)
}

func (s *CredentialStore) Clear() error {
	err := os.Remove(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Resolver lazily establishes the process-wide identity: cached credentials
// win; otherwise a one-time platform code is exchanged for an openid and a
// session token. Concurrent callers coalesce behind the mutex so the
// exchange runs at most once per process.
type Resolver struct {
	Gateway *Gateway
	Auth    PlatformAuth
	Store   *CredentialStore
	Locator PlatformLocation
	Log     *Logger

	mu     sync.Mutex
	cached *Identity
}

// Token is safe to hand to a Gateway as its token source; it never blocks
// on network work.
func (r *Resolver) Token() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil {
		return r.cached.Token
	}
	return ""
}

func (r *Resolver) EnsureIdentity(ctx context.Context) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return *r.cached, nil
	}
	if r.Store != nil {
		if id, err := r.Store.Load(); err == nil && id != nil {
			r.cached = id
			return *id, nil
		}
	}

	code, err := r.Auth.LoginCode(ctx)
	if err != nil {
		return Identity{}, err
	}

	raw, err := r.Gateway.Send(ctx, http.MethodPost, "/api/wx/openid", map[string]string{"code": code})
	if err != nil {
		return Identity{}, err
	}
	var open struct {
		OpenID string `json:"openid"`
	}
	if err := decode("/api/wx/openid", raw, &open); err != nil {
		return Identity{}, err
	}
	if open.OpenID == "" {
		return Identity{}, &APIError{Kind: ErrDecode, Path: "/api/wx/openid", Err: errors.New("missing openid")}
	}

	// Location is best effort on login; the backend tolerates its absence.
	var loc *Location
	if r.Locator != nil {
		loc, _ = r.Locator.Current(ctx)
	}

	loginBody := map[string]interface{}{"code": code}
	if loc != nil {
		loginBody["location"] = loc
	}
	data, err := r.Gateway.SendData(ctx, http.MethodPost, "/api/login", loginBody)
	if err != nil {
		return Identity{}, err
	}
	var login struct {
		Token     string `json:"token"`
		Nickname  string `json:"nickname"`
		AvatarURL string `json:"avatarUrl"`
	}
	if err := decode("/api/login", data, &login); err != nil {
		return Identity{}, err
	}
	if login.Token == "" {
		return Identity{}, &APIError{Kind: ErrDecode, Path: "/api/login", Err: errors.New("missing token")}
	}

	id := Identity{OpenID: open.OpenID, Token: login.Token}
	if login.Nickname != "" || login.AvatarURL != "" {
		id.Profile = &Profile{Nickname: login.Nickname, AvatarURL: login.AvatarURL}
	}
	r.cached = &id
	if r.Store != nil {
		if err := r.Store.Save(id); err != nil {
			r.Log.Warn("credential cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	r.Log.Info("identity established", map[string]interface{}{"openid": id.OpenID})
	return id, nil
}

// Logout drops the in-memory identity and the durable cache.
func (r *Resolver) Logout() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
	if r.Store != nil {
		return r.Store.Clear()
	}
	return nil
}
