package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Credential is one entry of the operator-managed accounts.json: the
// logical schema of a pooled upstream credential. How the refresh token
// was originally obtained (the device-code flow) is outside the gateway.
type Credential struct {
	Email        string `json:"email"`
	Label        string `json:"label,omitempty"`
	RefreshToken string `json:"refresh_token"`
	ProjectID    string `json:"project_id"`
	Disabled     bool   `json:"disabled,omitempty"`
}

// LoadCredentials reads accounts.json under dir. A missing file yields an
// empty pool (the gateway boots and serves errors until credentials are
// provided), but a malformed file is an error: silently dropping all
// accounts over a typo would look identical to total rate-limit
// exhaustion from the outside.
func LoadCredentials(dir string) ([]Credential, error) {
	path := filepath.Join(dir, "accounts.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	// Operators hand-edit this file; tolerate comments and trailing commas.
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var creds []Credential
	if err := json.Unmarshal(std, &creds); err != nil {
		// Also accept the wrapped {"accounts": [...]} shape older releases wrote.
		var wrapped struct {
			Accounts []Credential `json:"accounts"`
		}
		if err2 := json.Unmarshal(std, &wrapped); err2 != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		creds = wrapped.Accounts
	}
	out := creds[:0]
	for _, c := range creds {
		if c.Email == "" || c.RefreshToken == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// CredentialsPath returns where LoadCredentials looks, for the watcher.
func CredentialsPath(dir string) string {
	return filepath.Join(dir, "accounts.json")
}
