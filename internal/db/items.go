package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/outcomeops/outcomeops-analytics/internal/keys"
)

// paramBuilder tracks $N indices for dynamic SQL parameter construction.
type paramBuilder struct {
	args    []interface{}
	nextIdx int
}

func newParamBuilder() *paramBuilder {
	return &paramBuilder{nextIdx: 1}
}

// add appends a value and returns its $N placeholder.
func (pb *paramBuilder) add(val interface{}) string {
	placeholder := fmt.Sprintf("$%d", pb.nextIdx)
	pb.args = append(pb.args, val)
	pb.nextIdx++
	return placeholder
}

// addArray appends a string slice as pq.Array and returns its $N placeholder.
func (pb *paramBuilder) addArray(vals []string) string {
	return pb.add(pq.Array(vals))
}

// indexColumns maps an index to its partition and sort columns.
func indexColumns(idx keys.Index) (pkCol, skCol string, err error) {
	switch idx {
	case keys.Primary, "":
		return "pk", "sk", nil
	case keys.GSI1:
		return "gsi1pk", "gsi1sk", nil
	case keys.GSI2:
		return "gsi2pk", "gsi2sk", nil
	}
	return "", "", fmt.Errorf("unknown index %q", idx)
}

// dedupe keeps the last item for each (PK, SK). Postgres rejects an upsert
// that touches the same row twice in one statement.
func dedupe(items []Item) []Item {
	seen := make(map[[2]string]int, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		k := [2]string{it.PK, it.SK}
		if i, ok := seen[k]; ok {
			out[i] = it
			continue
		}
		seen[k] = len(out)
		out = append(out, it)
	}
	return out
}

const upsertItemsSQL = `
	INSERT INTO kv_items (tbl, pk, sk, gsi1pk, gsi1sk, gsi2pk, gsi2sk, data, expires_at, updated_at)
	SELECT $1, u.pk, u.sk,
		NULLIF(u.gsi1pk, ''), NULLIF(u.gsi1sk, ''),
		NULLIF(u.gsi2pk, ''), NULLIF(u.gsi2sk, ''),
		u.data::jsonb, NULLIF(u.expires_at, '')::timestamptz, NOW()
	FROM unnest($2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[], $8::text[], $9::text[])
		AS u(pk, sk, gsi1pk, gsi1sk, gsi2pk, gsi2sk, data, expires_at)
	ON CONFLICT (tbl, pk, sk) DO UPDATE SET
		gsi1pk = EXCLUDED.gsi1pk,
		gsi1sk = EXCLUDED.gsi1sk,
		gsi2pk = EXCLUDED.gsi2pk,
		gsi2sk = EXCLUDED.gsi2sk,
		data = EXCLUDED.data,
		expires_at = EXCLUDED.expires_at,
		updated_at = NOW()`

// PutItems upserts a batch in one statement. On failure every item is
// returned as unprocessed along with the error.
func (db *DB) PutItems(ctx context.Context, table Table, items []Item) ([]Item, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if len(items) == 0 {
		return nil, nil
	}
	if len(items) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d items (max %d)", ErrBatchTooLarge, len(items), MaxBatchSize)
	}

	ctx, span := tracer.Start(ctx, "db.put_items",
		trace.WithAttributes(
			attribute.String("table", string(table)),
			attribute.Int("items.count", len(items)),
		))
	defer span.End()

	batch := dedupe(items)
	cols := make([][]string, 8)
	for i := range cols {
		cols[i] = make([]string, len(batch))
	}
	for i, it := range batch {
		if it.PK == "" || it.SK == "" {
			return items, fmt.Errorf("item %d: partition and sort key are required", i)
		}
		data := string(it.Data)
		if data == "" {
			data = "{}"
		}
		var expires string
		if !it.ExpiresAt.IsZero() {
			expires = it.ExpiresAt.UTC().Format(time.RFC3339Nano)
		}
		cols[0][i], cols[1][i] = it.PK, it.SK
		cols[2][i], cols[3][i] = it.GSI1PK, it.GSI1SK
		cols[4][i], cols[5][i] = it.GSI2PK, it.GSI2SK
		cols[6][i], cols[7][i] = data, expires
	}

	args := []interface{}{string(table)}
	for _, c := range cols {
		args = append(args, pq.Array(c))
	}

	_, err := withRetry(ctx, db.retry, func() (sql.Result, error) {
		return db.conn.ExecContext(ctx, upsertItemsSQL, args...)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return items, fmt.Errorf("failed to put items: %w", err)
	}
	return nil, nil
}

// Query reads items from one index. Expired items are never returned.
func (db *DB) Query(ctx context.Context, q Query) ([]Item, error) {
	if !q.Table.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, q.Table)
	}
	pkCol, skCol, err := indexColumns(q.Index)
	if err != nil {
		return nil, err
	}
	if len(q.Partitions) == 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "db.query",
		trace.WithAttributes(
			attribute.String("table", string(q.Table)),
			attribute.String("index", string(q.Index)),
			attribute.Int("partitions.count", len(q.Partitions)),
		))
	defer span.End()

	pb := newParamBuilder()
	tblParam := pb.add(string(q.Table))
	partsParam := pb.addArray(q.Partitions)

	var where strings.Builder
	fmt.Fprintf(&where, "tbl = %s AND %s = ANY(%s::text[]) AND (expires_at IS NULL OR expires_at > NOW())",
		tblParam, pkCol, partsParam)
	if q.SortPrefix != "" {
		fmt.Fprintf(&where, " AND starts_with(%s, %s)", skCol, pb.add(q.SortPrefix))
	}
	if q.SortFrom != "" {
		fmt.Fprintf(&where, " AND %s >= %s", skCol, pb.add(q.SortFrom))
	}
	if q.SortTo != "" {
		fmt.Fprintf(&where, " AND %s <= %s", skCol, pb.add(q.SortTo))
	}

	query := fmt.Sprintf(`
		SELECT pk, sk, gsi1pk, gsi1sk, gsi2pk, gsi2sk, data, expires_at
		FROM kv_items
		WHERE %s
		ORDER BY array_position(%s::text[], %s), %s, pk, sk`,
		where.String(), partsParam, pkCol, skCol)
	if q.Limit > 0 {
		query += " LIMIT " + pb.add(q.Limit)
	}

	items, err := withRetry(ctx, db.retry, func() ([]Item, error) {
		return db.queryItems(ctx, query, pb.args...)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	span.SetAttributes(attribute.Int("items.count", len(items)))
	return items, nil
}

func (db *DB) queryItems(ctx context.Context, query string, args ...interface{}) ([]Item, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		it                             Item
		gsi1pk, gsi1sk, gsi2pk, gsi2sk sql.NullString
		data                           []byte
		expires                        sql.NullTime
	)
	if err := row.Scan(&it.PK, &it.SK, &gsi1pk, &gsi1sk, &gsi2pk, &gsi2sk, &data, &expires); err != nil {
		return Item{}, err
	}
	it.GSI1PK, it.GSI1SK = gsi1pk.String, gsi1sk.String
	it.GSI2PK, it.GSI2SK = gsi2pk.String, gsi2sk.String
	it.Data = data
	if expires.Valid {
		it.ExpiresAt = expires.Time.UTC()
	}
	return it, nil
}

// GetItem reads one item by primary key.
func (db *DB) GetItem(ctx context.Context, table Table, pk, sk string) (Item, error) {
	if !table.Valid() {
		return Item{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	query := `
		SELECT pk, sk, gsi1pk, gsi1sk, gsi2pk, gsi2sk, data, expires_at
		FROM kv_items
		WHERE tbl = $1 AND pk = $2 AND sk = $3
		  AND (expires_at IS NULL OR expires_at > NOW())`

	it, err := withRetry(ctx, db.retry, func() (Item, error) {
		it, err := scanItem(db.conn.QueryRowContext(ctx, query, string(table), pk, sk))
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return it, err
	})
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

// DeleteExpired purges items whose TTL passed at or before now.
func (db *DB) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "db.delete_expired")
	defer span.End()

	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM kv_items WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to delete expired items: %w", err)
	}
	n, _ := res.RowsAffected()
	span.SetAttributes(attribute.Int64("items.deleted", n))
	return n, nil
}
