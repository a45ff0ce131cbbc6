package analytics

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// Pattern is one named heuristic for URLs an AI assistant made up.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// PatternSet is an ordered rule list; the first matching rule wins.
type PatternSet struct {
	patterns []Pattern
}

type patternFile struct {
	Patterns []struct {
		Name    string `yaml:"name"`
		Pattern string `yaml:"pattern"`
	} `yaml:"patterns"`
}

// defaultPatterns are the built-in rules used when no pattern file is
// configured.
var defaultPatterns = [][2]string{
	{"long-slug", `^/(blogs?|posts?|articles?)/[a-z0-9]+(-[a-z0-9]+){6,}/?$`},
	{"dated-path", `^/(blogs?/|posts?/)?\d{4}/\d{2}(/\d{2})?/`},
	{"docs-guess", `^/(docs|documentation|guides?|tutorials?|learn)(/|$)`},
	{"api-reference", `^/(api|reference)/(v\d+/)?`},
	{"legacy-extension", `\.(html?|php|aspx?)$`},
	{"deep-category", `^/(category|categories|tags?|topics?)/[^/]+/[^/]+`},
}

// DefaultPatterns returns the built-in rule set.
func DefaultPatterns() *PatternSet {
	ps, err := NewPatternSet(defaultPatterns)
	if err != nil {
		panic(err)
	}
	return ps
}

// NewPatternSet compiles ordered (name, regexp) pairs.
func NewPatternSet(rules [][2]string) (*PatternSet, error) {
	ps := &PatternSet{}
	for _, r := range rules {
		if r[0] == "" {
			return nil, fmt.Errorf("pattern %q has no name", r[1])
		}
		re, err := regexp.Compile(r[1])
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", r[0], err)
		}
		ps.patterns = append(ps.patterns, Pattern{Name: r[0], Re: re})
	}
	return ps, nil
}

// ParsePatterns reads a YAML rule list:
//
//	patterns:
//	  - name: long-slug
//	    pattern: '^/blog/[a-z0-9-]{40,}$'
func ParsePatterns(data []byte) (*PatternSet, error) {
	var f patternFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse patterns: %w", err)
	}
	if len(f.Patterns) == 0 {
		return nil, fmt.Errorf("parse patterns: no patterns defined")
	}
	rules := make([][2]string, 0, len(f.Patterns))
	for _, p := range f.Patterns {
		rules = append(rules, [2]string{p.Name, p.Pattern})
	}
	return NewPatternSet(rules)
}

// LoadPatterns reads a YAML rule file. An empty path selects the
// built-in rules.
func LoadPatterns(path string) (*PatternSet, error) {
	if path == "" {
		return DefaultPatterns(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns: %w", err)
	}
	return ParsePatterns(data)
}

// Match returns the name of the first rule matching path.
func (ps *PatternSet) Match(path string) (string, bool) {
	for _, p := range ps.patterns {
		if p.Re.MatchString(path) {
			return p.Name, true
		}
	}
	return "", false
}

// Len is the number of rules.
func (ps *PatternSet) Len() int {
	return len(ps.patterns)
}

// Hallucinations classifies the range's 404 Events against the pattern
// set. Classification happens here, at read time, so rule changes apply
// to historical data.
func (e *Engine) Hallucinations(ctx context.Context, req Request) (*HallucinationsResult, error) {
	ctx, span, err := e.begin(ctx, "hallucinations", req)
	defer span.End()
	if err != nil {
		return nil, err
	}

	events, err := e.loadEvents(ctx, req.Domain, req.Range)
	if err != nil {
		return nil, fail(span, err)
	}

	type pathStat struct {
		count   int
		pattern string
	}
	paths := make(map[string]*pathStat)
	patterns := make(map[string]int)
	var matches []Hallucination
	total := 0

	for _, ev := range events {
		if ev.Status != http.StatusNotFound {
			continue
		}
		total++
		ps, ok := paths[ev.Path]
		if !ok {
			ps = &pathStat{}
			paths[ev.Path] = ps
		}
		ps.count++

		name, matched := e.cfg.Patterns.Match(ev.Path)
		if !matched {
			continue
		}
		ps.pattern = name
		patterns[name]++
		matches = append(matches, Hallucination{
			Path:           ev.Path,
			Timestamp:      ev.Timestamp,
			Referrer:       ev.Referrer,
			MatchedPattern: name,
		})
	}

	res := &HallucinationsResult{
		Window:               windowOf(req),
		Total404s:            total,
		AIHallucinations:     len(matches),
		AIPercentage:         percent(len(matches), total),
		Patterns:             []PatternCount{},
		TopPaths:             []NotFoundPath{},
		RecentHallucinations: []Hallucination{},
	}
	for _, kc := range rank(patterns, 0) {
		res.Patterns = append(res.Patterns, PatternCount{Pattern: kc.key, Count: kc.count})
	}

	counts := make(map[string]int, len(paths))
	for p, ps := range paths {
		counts[p] = ps.count
	}
	for _, kc := range rank(counts, topNotFoundPaths) {
		np := NotFoundPath{Path: kc.key, Count: kc.count}
		if name := paths[kc.key].pattern; name != "" {
			np.IsAIPattern = true
			np.MatchedPattern = &name
		}
		res.TopPaths = append(res.TopPaths, np)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Timestamp.After(matches[j].Timestamp)
	})
	if len(matches) > recentHallucination {
		matches = matches[:recentHallucination]
	}
	res.RecentHallucinations = append(res.RecentHallucinations, matches...)

	span.SetAttributes(
		attribute.Int("total_404s", total),
		attribute.Int("ai_hallucinations", res.AIHallucinations),
	)
	return res, nil
}
