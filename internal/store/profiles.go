package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/profile"
)

// Profiles persists users_local and user_responsibility_roles.
type Profiles struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ profile.Store = (*Profiles)(nil)

// NewProfiles wraps an open database.
func NewProfiles(db *sql.DB, dialect Dialect) *Profiles {
	return &Profiles{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying handle for readiness probes and migrations.
func (p *Profiles) DB() *sql.DB { return p.db }

// Ping checks connectivity.
func (p *Profiles) Ping(ctx context.Context) error {
	if p.db == nil {
		return errNoDB
	}
	return p.db.PingContext(ctx)
}

func (p *Profiles) Read(ctx context.Context, id string) (profile.Row, error) {
	if p.db == nil {
		return profile.Row{}, errNoDB
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return profile.Row{}, fmt.Errorf("%w: id is required", profile.ErrInvalidInput)
	}
	var (
		row                                                   profile.Row
		email, name, username, azureID, role, segment, domain sql.NullString
		updated                                               scanTime
	)
	err := p.db.QueryRowContext(ctx, p.dialect.Rebind(`
		select id, email, name, username, azure_id, role, segment, domain, updated_at
		from users_local
		where id = $1
	`), id).Scan(&row.ID, &email, &name, &username, &azureID, &role, &segment, &domain, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Row{}, profile.ErrNotFound
	}
	if err != nil {
		return profile.Row{}, err
	}
	row.Email = email.String
	row.Name = name.String
	row.Username = username.String
	row.AzureID = azureID.String
	row.Role = role.String
	row.Segment = segment.String
	row.Domain = domain.String
	row.UpdatedAt = updated.Time
	return row, nil
}

// Upsert creates the row with default role and segment, or refreshes the
// identity columns of an existing one. Role, segment and domain are never
// overwritten here, and a blank email or name keeps the stored value.
func (p *Profiles) Upsert(ctx context.Context, row profile.Row) error {
	if p.db == nil {
		return errNoDB
	}
	if err := row.Validate(); err != nil {
		return err
	}
	updated := row.UpdatedAt
	if updated.IsZero() {
		updated = p.now()
	}
	role := profile.DefaultRole
	if strings.TrimSpace(row.Role) != "" {
		role = profile.NormalizeRole(row.Role)
	}
	segment := profile.NormalizeSegment(row.Segment)

	_, err := p.db.ExecContext(ctx, p.dialect.Rebind(`
		insert into users_local (id, email, name, username, azure_id, role, segment, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (id) do update set
			email = coalesce(nullif(excluded.email, ''), users_local.email),
			name = coalesce(nullif(excluded.name, ''), users_local.name),
			username = excluded.username,
			azure_id = excluded.azure_id,
			updated_at = excluded.updated_at
	`), strings.TrimSpace(row.ID), strings.TrimSpace(row.Email), strings.TrimSpace(row.Name),
		strings.TrimSpace(row.Username), strings.TrimSpace(row.AzureID), role, segment, updated)
	return err
}

func (p *Profiles) ResponsibilityRoles(ctx context.Context, id string) ([]string, error) {
	if p.db == nil {
		return nil, errNoDB
	}
	rows, err := p.db.QueryContext(ctx, p.dialect.Rebind(`
		select role from user_responsibility_roles
		where user_id = $1
		order by role
	`), strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// GrantResponsibility attaches a responsibility role. Granting twice is a no-op.
func (p *Profiles) GrantResponsibility(ctx context.Context, id, role string) error {
	if p.db == nil {
		return errNoDB
	}
	id, role = strings.TrimSpace(id), profile.NormalizeResponsibility(role)
	if id == "" || role == "" {
		return fmt.Errorf("%w: id and role are required", profile.ErrInvalidInput)
	}
	if _, err := p.Read(ctx, id); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, p.dialect.Rebind(`
		insert into user_responsibility_roles (user_id, role)
		values ($1, $2)
		on conflict (user_id, role) do nothing
	`), id, role)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return profile.ErrNotFound
	}
	return err
}

// RevokeResponsibility removes a responsibility role.
func (p *Profiles) RevokeResponsibility(ctx context.Context, id, role string) error {
	if p.db == nil {
		return errNoDB
	}
	res, err := p.db.ExecContext(ctx, p.dialect.Rebind(`
		delete from user_responsibility_roles where user_id = $1 and role = $2
	`), strings.TrimSpace(id), profile.NormalizeResponsibility(role))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return profile.ErrNotFound
	}
	return nil
}

// SetAccess updates the progressive role and segment of an existing row.
func (p *Profiles) SetAccess(ctx context.Context, id, role, segment string) error {
	if p.db == nil {
		return errNoDB
	}
	if !profile.KnownRole(role) {
		return fmt.Errorf("%w: unknown role %q", profile.ErrInvalidInput, role)
	}
	res, err := p.db.ExecContext(ctx, p.dialect.Rebind(`
		update users_local set role = $1, segment = $2, updated_at = $3 where id = $4
	`), profile.NormalizeRole(role), profile.NormalizeSegment(segment), p.now(), strings.TrimSpace(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return profile.ErrNotFound
	}
	return nil
}
