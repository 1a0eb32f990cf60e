package appctx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// AuthInfoKey is the single session storage key holding the auth token and user.
const AuthInfoKey = "AUTH_INFO"

// ErrNotLoggedIn is returned when no access token is stored.
var ErrNotLoggedIn = errors.New("not logged in")

// User is the signed-in user as returned by the login endpoint.
type User struct {
	ID       string `toml:"id" json:"id"`
	Username string `toml:"username,omitempty" json:"username,omitempty"`
	Nickname string `toml:"nickname,omitempty" json:"nickname,omitempty"`
}

// AuthInfo is the value stored under AuthInfoKey.
type AuthInfo struct {
	AccessToken string `toml:"access_token" json:"access_token"`
	User        User   `toml:"user" json:"user"`
}

type storageFile struct {
	AuthInfo *AuthInfo `toml:"AUTH_INFO,omitempty"`
}

// SessionStorage persists AuthInfo in a TOML file. It is the only writer of
// the file.
type SessionStorage struct {
	mu   sync.Mutex
	path string
}

func NewSessionStorage(path string) *SessionStorage {
	return &SessionStorage{path: path}
}

// Load returns the stored auth info, or nil when nothing is stored.
func (s *SessionStorage) Load() (*AuthInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *SessionStorage) loadLocked() (*AuthInfo, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session storage: %w", err)
	}
	var f storageFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse session storage: %w", err)
	}
	return f.AuthInfo, nil
}

// Save replaces the stored auth info.
func (s *SessionStorage) Save(info AuthInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := toml.Marshal(storageFile{AuthInfo: &info})
	if err != nil {
		return fmt.Errorf("encode session storage: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := s.path + ".part"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session storage: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Clear removes the stored auth info.
func (s *SessionStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear session storage: %w", err)
	}
	return nil
}

// Token returns the stored access token.
func (s *SessionStorage) Token() (string, error) {
	info, err := s.Load()
	if err != nil {
		return "", err
	}
	if info == nil || info.AccessToken == "" {
		return "", ErrNotLoggedIn
	}
	return info.AccessToken, nil
}

// UserID returns the stored user id, or "" when unknown.
func (s *SessionStorage) UserID() string {
	info, err := s.Load()
	if err != nil || info == nil {
		return ""
	}
	return info.User.ID
}
