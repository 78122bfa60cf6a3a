package profile

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and offline tooling.
type MemoryStore struct {
	mu    sync.RWMutex
	rows  map[string]Row
	roles map[string][]string
	now   func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:  make(map[string]Row),
		roles: make(map[string][]string),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Read(ctx context.Context, id string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[strings.TrimSpace(id)]
	if !ok {
		return Row{}, ErrNotFound
	}
	return row, nil
}

// Upsert inserts defaults for new ids and updates only identity columns of existing rows.
func (m *MemoryStore) Upsert(ctx context.Context, row Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := row.Validate(); err != nil {
		return err
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rows[row.ID]
	if !ok {
		if row.Role == "" {
			row.Role = DefaultRole
		}
		if row.Segment == "" {
			row.Segment = DefaultSegment
		}
		m.rows[row.ID] = row
		return nil
	}
	if row.Email != "" {
		existing.Email = row.Email
	}
	if row.Name != "" {
		existing.Name = row.Name
	}
	existing.Username = row.Username
	existing.AzureID = row.AzureID
	existing.UpdatedAt = row.UpdatedAt
	m.rows[row.ID] = existing
	return nil
}

func (m *MemoryStore) ResponsibilityRoles(ctx context.Context, id string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.roles[id]), nil
}

// Put replaces a row wholesale.
func (m *MemoryStore) Put(row Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.ID] = row
}

// Grant adds a responsibility role to id.
func (m *MemoryStore) Grant(id, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.roles[id], role) {
		m.roles[id] = append(m.roles[id], role)
	}
}

// Len returns the number of stored rows.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

func (m *MemoryStore) GrantResponsibility(ctx context.Context, id, role string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, role = strings.TrimSpace(id), NormalizeResponsibility(role)
	if id == "" || role == "" {
		return errors.Join(ErrInvalidInput, errors.New("id and role are required"))
	}
	m.mu.RLock()
	_, ok := m.rows[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	m.Grant(id, role)
	return nil
}

func (m *MemoryStore) RevokeResponsibility(ctx context.Context, id, role string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, role = strings.TrimSpace(id), NormalizeResponsibility(role)
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.Index(m.roles[id], role)
	if i < 0 {
		return ErrNotFound
	}
	m.roles[id] = slices.Delete(m.roles[id], i, i+1)
	return nil
}

func (m *MemoryStore) SetAccess(ctx context.Context, id, role, segment string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !KnownRole(role) {
		return errors.Join(ErrInvalidInput, errors.New("unknown role "+role))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[strings.TrimSpace(id)]
	if !ok {
		return ErrNotFound
	}
	row.Role = NormalizeRole(role)
	row.Segment = NormalizeSegment(segment)
	row.UpdatedAt = m.now()
	m.rows[row.ID] = row
	return nil
}
