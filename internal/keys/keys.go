// Package keys is the single place where partition and sort keys are
// defined. Every (entity, index) pair has exactly one template; writers
// and readers both build keys through Build so the two can never drift.
package keys

import (
	"fmt"
	"regexp"
	"strings"
)

// Entity names a record family stored in the key-value store.
type Entity string

const (
	EntityEvent        Entity = "event"
	EntitySessionEvent Entity = "session_event"
	EntityCache        Entity = "cache"
)

// Index names an access pattern over a table.
type Index string

const (
	Primary Index = "primary"
	GSI1    Index = "gsi1"
	GSI2    Index = "gsi2"
)

// Spec is one row of the key schema.
type Spec struct {
	Entity    Entity
	Index     Index
	Partition string
	Sort      string
	Purpose   string
}

// Schema is the complete key layout. Templates use {name} placeholders.
var Schema = []Spec{
	{EntityEvent, Primary, "{domain}#{date}", "{timestamp}#{request_id}", "events by domain and day"},
	{EntityEvent, GSI1, "{domain}#{path}", "{timestamp}", "hits for one path"},
	{EntityEvent, GSI2, "{domain}#{referrer_domain}", "{timestamp}", "hits from one referrer domain"},

	{EntitySessionEvent, Primary, "SESSION#{session_id}", "EVENT#{timestamp}#{event_key}", "one session's events in time order"},
	{EntitySessionEvent, GSI1, "DOMAIN#{domain}#DATE#{date}", "SESSION#{session_id}", "session events by domain and day"},
	{EntitySessionEvent, GSI2, "DOMAIN#{domain}#PATH#{path}", "{timestamp}", "session events for one path"},

	{EntityCache, Primary, "CACHE#{domain}", "{metric}#{from}#{to}", "pre-aggregated rollups"},
}

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// Lookup returns the spec for an entity and index.
func Lookup(entity Entity, index Index) (Spec, bool) {
	for _, s := range Schema {
		if s.Entity == entity && s.Index == index {
			return s, true
		}
	}
	return Spec{}, false
}

// Fields returns the placeholder names used by a template, in order.
func Fields(template string) []string {
	matches := placeholder.FindAllStringSubmatch(template, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// Values supplies placeholder values for Build.
type Values map[string]string

// Build renders the partition and sort key for an entity/index pair.
// Every placeholder must be present in vals.
func Build(entity Entity, index Index, vals Values) (pk, sk string, err error) {
	spec, ok := Lookup(entity, index)
	if !ok {
		return "", "", fmt.Errorf("no key spec for %s/%s", entity, index)
	}
	pk, err = render(spec.Partition, vals)
	if err != nil {
		return "", "", fmt.Errorf("%s/%s partition: %w", entity, index, err)
	}
	sk, err = render(spec.Sort, vals)
	if err != nil {
		return "", "", fmt.Errorf("%s/%s sort: %w", entity, index, err)
	}
	return pk, sk, nil
}

// Partition renders only the partition key. Readers use it to address a
// partition without knowing sort values.
func Partition(entity Entity, index Index, vals Values) (string, error) {
	spec, ok := Lookup(entity, index)
	if !ok {
		return "", fmt.Errorf("no key spec for %s/%s", entity, index)
	}
	return render(spec.Partition, vals)
}

// SortPrefix renders the sort template up to the first placeholder that has
// no value, for begins-with queries.
func SortPrefix(entity Entity, index Index, vals Values) (string, error) {
	spec, ok := Lookup(entity, index)
	if !ok {
		return "", fmt.Errorf("no key spec for %s/%s", entity, index)
	}
	var b strings.Builder
	rest := spec.Sort
	for {
		loc := placeholder.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:loc[0]])
		v, ok := vals[rest[loc[2]:loc[3]]]
		if !ok {
			return b.String(), nil
		}
		b.WriteString(v)
		rest = rest[loc[1]:]
	}
}

func render(template string, vals Values) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := vals[name]
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing key values: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
