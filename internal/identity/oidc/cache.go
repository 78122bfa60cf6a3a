package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/identity"
)

var ErrCacheMiss = errors.New("oidc: token cache empty")

// CacheEntry is the persisted session.
type CacheEntry struct {
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// FileCache stores one CacheEntry as a user-only JSON file.
type FileCache struct {
	path string
}

func NewFileCache(path string) *FileCache { return &FileCache{path: path} }

// DefaultCachePath is $XDG_CONFIG_HOME/dws/token.json (or the OS equivalent).
func DefaultCachePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dws", "token.json"), nil
}

func (f *FileCache) Load() (CacheEntry, error) {
	var e CacheEntry
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return e, ErrCacheMiss
	}
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("oidc: decode token cache: %w", err)
	}
	if e.IDToken == "" {
		return e, ErrCacheMiss
	}
	return e, nil
}

func (f *FileCache) Save(e CacheEntry) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".token-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileCache) Clear() error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// accountFromIDToken reads claims from a token whose signature was checked
// when it was issued to us.
func accountFromIDToken(raw string) (*identity.Account, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("oidc: parse id token: %w", err)
	}
	c := identity.Claims(claims)
	oid, tid, sub := c.String("oid"), c.String("tid"), c.String("sub")

	acct := &identity.Account{
		LocalAccountID: oid,
		TenantID:       tid,
		Username:       c.String("preferred_username"),
		Name:           c.String("name"),
		IDTokenClaims:  c,
	}
	acct.ID = identity.AccountID(oid, tid, sub)
	if acct.Key() == "" {
		return nil, errors.New("oidc: id token carries no subject")
	}
	return acct, nil
}
