// Package profile defines the user profile row and the store contract used
// by the view-model builder.
package profile

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("profile: not found")
	ErrInvalidInput = errors.New("profile: invalid input")
)

// Default values applied when a profile is absent or incomplete.
const (
	DefaultRole    = "viewer"
	DefaultSegment = "employee"
)

// Row mirrors one users_local record.
type Row struct {
	ID        string
	Email     string
	Name      string
	Username  string
	AzureID   string
	Role      string
	Segment   string
	Domain    string
	UpdatedAt time.Time
}

// Store reads and writes profile rows keyed by the stable id.
type Store interface {
	Read(ctx context.Context, id string) (Row, error)
	Upsert(ctx context.Context, row Row) error
	ResponsibilityRoles(ctx context.Context, id string) ([]string, error)
}

// Access administers the authorization columns of existing profiles.
type Access interface {
	GrantResponsibility(ctx context.Context, id, role string) error
	RevokeResponsibility(ctx context.Context, id, role string) error
	SetAccess(ctx context.Context, id, role, segment string) error
}

// Result is the outcome of a profile read.
type Result struct {
	Row Row
	Err error
}

// Found reports whether the read produced a row.
func (r Result) Found() bool { return r.Err == nil }

// NotFound reports whether the read ended with ErrNotFound.
func (r Result) NotFound() bool { return errors.Is(r.Err, ErrNotFound) }

// ReadResult performs Read and captures its outcome.
func ReadResult(ctx context.Context, s Store, id string) Result {
	row, err := s.Read(ctx, id)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Row: row}
}

var roleAliases = map[string]string{
	"viewer":        "viewer",
	"read":          "viewer",
	"reader":        "viewer",
	"guest":         "viewer",
	"member":        "member",
	"user":          "member",
	"contributor":   "member",
	"editor":        "member",
	"admin":         "admin",
	"administrator": "admin",
	"owner":         "admin",
}

// NormalizeRole maps a raw stored role onto a progressive role.
// Absent or unrecognised values become DefaultRole.
func NormalizeRole(raw string) string {
	if role, ok := roleAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return role
	}
	return DefaultRole
}

// KnownRole reports whether raw names a progressive role or one of its aliases.
func KnownRole(raw string) bool {
	_, ok := roleAliases[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// NormalizeSegment lower-cases the segment, defaulting to DefaultSegment.
func NormalizeSegment(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return DefaultSegment
	}
	return strings.ReplaceAll(s, "-", "_")
}

// NormalizeResponsibility trims a responsibility role and lower-cases it.
func NormalizeResponsibility(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Validate checks the fields required for an upsert.
func (r Row) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.Join(ErrInvalidInput, errors.New("id is required"))
	}
	return nil
}
