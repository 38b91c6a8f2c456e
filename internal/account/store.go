package account

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

// Store persists the pool's account state so a restart does not forget
// refresh-token-derived access tokens or live cooldowns. A deployment that
// doesn't care about warm restarts never calls SetStore and Pool runs with
// no persistence at all.
type Store interface {
	Save(accounts []*Account) error
	Load() ([]*persistedAccount, error)
}

// persistedAccount is the on-disk shape of one accounts.json entry: the
// operator-provided credential fields plus the runtime token/cooldown
// state the pool writes back through the same file.
type persistedAccount struct {
	Email             string                     `json:"email"`
	Label             string                     `json:"label,omitempty"`
	RefreshToken      string                     `json:"refresh_token,omitempty"`
	ProjectID         string                     `json:"project_id,omitempty"`
	Disabled          bool                       `json:"disabled,omitempty"`
	AccessToken       string                     `json:"access_token,omitempty"`
	TokenExpiry       time.Time                  `json:"token_expiry,omitempty"`
	LastUsed          time.Time                  `json:"last_used,omitempty"`
	LastUsedSessionID string                     `json:"last_used_session_id,omitempty"`
	RateLimit         map[string]*ModelRateLimit `json:"rate_limit,omitempty"`
}

// FileStore persists account state as a single JSON file, written with a
// temp-file-plus-rename so a crash mid-write never leaves a truncated file
// behind (the on-disk file is always either the old or the new state).
type FileStore struct {
	path string
}

// NewFileStore wires a Store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(accounts []*Account) error {
	out := make([]persistedAccount, 0, len(accounts))
	for _, a := range accounts {
		a.mu.Lock()
		out = append(out, persistedAccount{
			Email:             a.Email,
			Label:             a.Label,
			RefreshToken:      a.RefreshToken,
			ProjectID:         a.ProjectID,
			Disabled:          a.Disabled,
			AccessToken:       a.AccessToken,
			TokenExpiry:       a.TokenExpiry,
			LastUsed:          a.LastUsed,
			LastUsedSessionID: a.LastUsedSessionID,
			RateLimit:         a.RateLimit,
		})
		a.mu.Unlock()
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Load() ([]*persistedAccount, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	// Operators may hand-edit this file with comments; tolerate them.
	if std, err := hujson.Standardize(data); err == nil {
		data = std
	}
	var out []*persistedAccount
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyPersisted merges previously-saved token/cooldown state back onto
// accounts, matched by email. Called once at startup after accounts are
// loaded from their credential files.
func ApplyPersisted(accounts []*Account, saved []*persistedAccount) {
	byEmail := make(map[string]*persistedAccount, len(saved))
	for _, s := range saved {
		byEmail[s.Email] = s
	}
	for _, a := range accounts {
		s, ok := byEmail[a.Email]
		if !ok {
			continue
		}
		a.mu.Lock()
		a.AccessToken = s.AccessToken
		a.TokenExpiry = s.TokenExpiry
		a.LastUsed = s.LastUsed
		a.LastUsedSessionID = s.LastUsedSessionID
		if s.RateLimit != nil {
			a.RateLimit = s.RateLimit
		}
		a.mu.Unlock()
	}
}
