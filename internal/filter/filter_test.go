package filter

import (
	"reflect"
	"testing"
)

func TestShouldRecord(t *testing.T) {
	exts := []string{".css", ".js", ".PNG"}
	prefixes := []string{"/wp-", "/admin/"}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"plain page", "/blog/x", true},
		{"css excluded", "/static/site.css", false},
		{"extension case-insensitive", "/static/SITE.CSS", false},
		{"configured upper-case extension", "/img/logo.png", false},
		{"extension only as suffix", "/blog/about.css-tricks", true},
		{"prefix excluded", "/wp-login.php", false},
		{"prefix case-sensitive", "/WP-login.php", true},
		{"prefix must be at start", "/blog/wp-tips", true},
		{"root", "/", true},
		{"empty path", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRecord(tt.path, exts, prefixes); got != tt.want {
				t.Errorf("ShouldRecord(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestShouldRecordEmptyListsExcludeNothing(t *testing.T) {
	for _, p := range []string{"/a.css", "/wp-admin", "", "/x"} {
		if !ShouldRecord(p, nil, nil) {
			t.Errorf("ShouldRecord(%q, nil, nil) = false, want true", p)
		}
	}
}

func TestShouldRecordIgnoresBlankEntries(t *testing.T) {
	if !ShouldRecord("/page", []string{""}, []string{""}) {
		t.Error("blank list entries must not exclude every path")
	}
}

func TestClassifierRecord(t *testing.T) {
	c := NewClassifier([]string{".ico"}, []string{"/.env"}, []string{"Googlebot", " ahrefs "})

	tests := []struct {
		name string
		path string
		ua   string
		want bool
	}{
		{"browser", "/blog/x", "Mozilla/5.0", true},
		{"bot ua", "/blog/x", "Mozilla/5.0 (compatible; googlebot/2.1)", false},
		{"trimmed bot entry", "/blog/x", "AhrefsBot/7.0", false},
		{"excluded ext", "/favicon.ico", "Mozilla/5.0", false},
		{"excluded prefix", "/.env", "curl/8", false},
		{"empty ua", "/blog/x", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Record(tt.path, tt.ua); got != tt.want {
				t.Errorf("Record(%q, %q) = %v, want %v", tt.path, tt.ua, got, tt.want)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	got := ParseList(" .css, .js ,,")
	want := []string{".css", ".js"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseList = %v, want %v", got, want)
	}
	if ParseList("   ") != nil {
		t.Error("blank input should yield nil")
	}
}
