package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaHasOneSpecPerEntityIndex(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range Schema {
		k := string(s.Entity) + "/" + string(s.Index)
		assert.False(t, seen[k], "duplicate key spec %s", k)
		seen[k] = true
		assert.NotEmpty(t, Fields(s.Partition), "%s partition has no placeholders", k)
	}
}

func TestBuildEventKeys(t *testing.T) {
	vals := Values{
		"domain":     "example.com",
		"date":       "2025-01-15",
		"timestamp":  "2025-01-15T12:00:00Z",
		"request_id": "abc",
		"path":       "/blog/x",
	}

	pk, sk, err := Build(EntityEvent, Primary, vals)
	require.NoError(t, err)
	assert.Equal(t, "example.com#2025-01-15", pk)
	assert.Equal(t, "2025-01-15T12:00:00Z#abc", sk)

	pk, sk, err = Build(EntityEvent, GSI1, vals)
	require.NoError(t, err)
	assert.Equal(t, "example.com#/blog/x", pk)
	assert.Equal(t, "2025-01-15T12:00:00Z", sk)
}

func TestBuildReportsMissingValues(t *testing.T) {
	_, _, err := Build(EntityEvent, GSI2, Values{"domain": "example.com", "timestamp": "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "referrer_domain")
}

func TestBuildUnknownSpec(t *testing.T) {
	_, _, err := Build(EntityCache, GSI1, Values{})
	assert.Error(t, err)
}

func TestSortPrefix(t *testing.T) {
	p, err := SortPrefix(EntityCache, Primary, Values{"metric": "stats"})
	require.NoError(t, err)
	assert.Equal(t, "stats#", p)

	p, err = SortPrefix(EntitySessionEvent, Primary, Values{})
	require.NoError(t, err)
	assert.Equal(t, "EVENT#", p)
}

func TestPartition(t *testing.T) {
	pk, err := Partition(EntitySessionEvent, GSI1, Values{"domain": "example.com", "date": "2025-01-15"})
	require.NoError(t, err)
	assert.Equal(t, "DOMAIN#example.com#DATE#2025-01-15", pk)
}
