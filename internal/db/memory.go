package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/outcomeops/outcomeops-analytics/internal/keys"
	"github.com/outcomeops/outcomeops-analytics/internal/models"
)

// MemoryStore is an in-process Store and AdminUsers implementation with
// the same semantics as the Postgres store. It backs tests and
// STORE_BACKEND=memory for local development.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[Table]map[[2]string]Item
	admins map[string]*models.AdminUser
	now    func() time.Time
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ AdminUsers = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[Table]map[[2]string]Item),
		admins: make(map[string]*models.AdminUser),
		now:    time.Now,
	}
}

// SetClock overrides the store's notion of now (used for TTL checks).
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Len returns the number of stored items in a table, expired or not.
func (m *MemoryStore) Len(table Table) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items[table])
}

func (m *MemoryStore) PutItems(_ context.Context, table Table, items []Item) ([]Item, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if len(items) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d items (max %d)", ErrBatchTooLarge, len(items), MaxBatchSize)
	}
	for i, it := range items {
		if it.PK == "" || it.SK == "" {
			return items, fmt.Errorf("item %d: partition and sort key are required", i)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[table]
	if !ok {
		t = make(map[[2]string]Item)
		m.items[table] = t
	}
	for _, it := range items {
		if len(it.Data) == 0 {
			it.Data = []byte("{}")
		}
		t[[2]string{it.PK, it.SK}] = it
	}
	return nil, nil
}

func (m *MemoryStore) Query(_ context.Context, q Query) ([]Item, error) {
	if !q.Table.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, q.Table)
	}
	if _, _, err := indexColumns(q.Index); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()

	var out []Item
	for _, part := range q.Partitions {
		var matched []Item
		for _, it := range m.items[q.Table] {
			if it.Expired(now) {
				continue
			}
			pk, sk := indexKeys(it, q.Index)
			if pk == "" || pk != part {
				continue
			}
			if q.SortPrefix != "" && !strings.HasPrefix(sk, q.SortPrefix) {
				continue
			}
			if q.SortFrom != "" && sk < q.SortFrom {
				continue
			}
			if q.SortTo != "" && sk > q.SortTo {
				continue
			}
			matched = append(matched, it)
		}
		sort.Slice(matched, func(i, j int) bool {
			_, si := indexKeys(matched[i], q.Index)
			_, sj := indexKeys(matched[j], q.Index)
			if si != sj {
				return si < sj
			}
			if matched[i].PK != matched[j].PK {
				return matched[i].PK < matched[j].PK
			}
			return matched[i].SK < matched[j].SK
		})
		out = append(out, matched...)
		if q.Limit > 0 && len(out) >= q.Limit {
			return out[:q.Limit], nil
		}
	}
	return out, nil
}

func indexKeys(it Item, idx keys.Index) (string, string) {
	switch idx {
	case keys.GSI1:
		return it.GSI1PK, it.GSI1SK
	case keys.GSI2:
		return it.GSI2PK, it.GSI2SK
	}
	return it.PK, it.SK
}

func (m *MemoryStore) GetItem(_ context.Context, table Table, pk, sk string) (Item, error) {
	if !table.Valid() {
		return Item{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[table][[2]string{pk, sk}]
	if !ok || it.Expired(m.now()) {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.items {
		for k, it := range t {
			if it.Expired(now) {
				delete(t, k)
				n++
			}
		}
	}
	return n, nil
}

func (m *MemoryStore) UpsertAdminUser(_ context.Context, email, name string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if u, ok := m.admins[email]; ok {
		u.Name, u.Active, u.UpdatedAt = name, active, now
		return nil
	}
	m.admins[email] = &models.AdminUser{Email: email, Name: name, Active: active, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (m *MemoryStore) GetAdminUser(_ context.Context, email string) (*models.AdminUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.admins[email]
	if !ok {
		return nil, ErrAdminUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) SetMagicToken(_ context.Context, email, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.admins[email]
	if !ok {
		return ErrAdminUserNotFound
	}
	exp := expiresAt
	u.MagicTokenHash, u.MagicTokenExpiresAt, u.UpdatedAt = tokenHash, &exp, m.now()
	return nil
}

func (m *MemoryStore) ConsumeMagicToken(_ context.Context, tokenHash string, now time.Time) (*models.AdminUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tokenHash == "" {
		return nil, ErrMagicTokenInvalid
	}
	for _, u := range m.admins {
		if u.MagicTokenHash != tokenHash {
			continue
		}
		if u.MagicTokenExpiresAt == nil || !u.MagicTokenExpiresAt.After(now) {
			return nil, ErrMagicTokenInvalid
		}
		u.MagicTokenHash, u.MagicTokenExpiresAt, u.UpdatedAt = "", nil, now
		cp := *u
		return &cp, nil
	}
	return nil, ErrMagicTokenInvalid
}
