package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/outcomeops/outcomeops-analytics/internal/keys"
)

// Table names a logical table in the key-value store.
type Table string

const (
	TableEvents   Table = "events"
	TableSessions Table = "sessions"
	TableCache    Table = "cache"
)

// Valid reports whether t is a known table.
func (t Table) Valid() bool {
	switch t {
	case TableEvents, TableSessions, TableCache:
		return true
	}
	return false
}

// MaxBatchSize is the most items a single PutItems call accepts.
const MaxBatchSize = 25

// Item is one row of the single-table store. Secondary index keys are
// optional; an empty GSI partition keeps the item out of that index.
type Item struct {
	PK        string          `json:"pk"`
	SK        string          `json:"sk"`
	GSI1PK    string          `json:"gsi1pk,omitempty"`
	GSI1SK    string          `json:"gsi1sk,omitempty"`
	GSI2PK    string          `json:"gsi2pk,omitempty"`
	GSI2SK    string          `json:"gsi2sk,omitempty"`
	Data      json.RawMessage `json:"data"`
	ExpiresAt time.Time       `json:"expires_at,omitempty"`
}

// Expired reports whether the item's TTL has passed at now.
func (it Item) Expired(now time.Time) bool {
	return !it.ExpiresAt.IsZero() && !it.ExpiresAt.After(now)
}

// Query selects items from one index of a table. Items from every listed
// partition are returned ordered by (partition order, sort key).
type Query struct {
	Table      Table
	Index      keys.Index
	Partitions []string
	// SortPrefix restricts to sort keys beginning with the prefix.
	SortPrefix string
	// SortFrom and SortTo bound the sort key inclusively when set.
	SortFrom string
	SortTo   string
	Limit    int
}

// Store is the key-value store with two secondary indexes that backs
// Events, Session Events and the cache namespace. Writes are upserts keyed
// by (table, PK, SK) so replays overwrite rather than duplicate.
type Store interface {
	// PutItems upserts up to MaxBatchSize items. Items that could not be
	// written are returned as unprocessed for the caller to retry.
	PutItems(ctx context.Context, table Table, items []Item) (unprocessed []Item, err error)
	Query(ctx context.Context, q Query) ([]Item, error)
	GetItem(ctx context.Context, table Table, pk, sk string) (Item, error)
	// DeleteExpired purges items whose TTL passed before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RetryPolicy bounds retries of transient store errors.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times starting at 50ms.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
}

// BackOff returns a fresh context-aware backoff for one operation.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

// withRetry runs op, retrying transient failures. Non-transient errors stop
// immediately. Exhausted retries are reported wrapped in ErrTransient.
func withRetry[T any](ctx context.Context, p RetryPolicy, op func() (T, error)) (T, error) {
	var zero T
	result, err := backoff.RetryWithData(func() (T, error) {
		v, err := op()
		if err != nil {
			if isTransient(err) {
				return zero, err
			}
			return zero, backoff.Permanent(err)
		}
		return v, nil
	}, p.BackOff(ctx))
	if err != nil && isTransient(err) && !errors.Is(err, ErrTransient) {
		return zero, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return result, err
}

var _ Store = (*DB)(nil)
