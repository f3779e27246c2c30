package steam

import (
	"encoding/json"
	"strings"
	"testing"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return v
}

func TestUpgradeSize(t *testing.T) {
	tests := []struct {
		input, expected string
	}{
		{"https://x/economy/image/abc/62fx62f", "https://x/economy/image/abc/360fx360f"},
		{"https://x/economy/image/abc/96fx96f?x=1", "https://x/economy/image/abc/360fx360f?x=1"},
		{"https://x/economy/image/abc", "https://x/economy/image/abc"},
		{"https://x/economy/image/abc/62x62", "https://x/economy/image/abc/62x62"},
	}

	for _, test := range tests {
		if got := UpgradeSize(test.input); got != test.expected {
			t.Errorf("UpgradeSize(%q) = %q, expected %q", test.input, got, test.expected)
		}
	}
}

func TestCompleteURL(t *testing.T) {
	tests := []struct {
		input, expected string
	}{
		{"abc123", StaticAssetBase + "abc123"},
		{"/abc123", StaticAssetBase + "abc123"},
		{"https://cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"//cdn.example.com/a.png", "https://cdn.example.com/a.png"},
	}

	for _, test := range tests {
		if got := completeURL(test.input); got != test.expected {
			t.Errorf("completeURL(%q) = %q, expected %q", test.input, got, test.expected)
		}
	}
}

func TestExtractImageURLFromNestedAssets(t *testing.T) {
	root := decode(t, `{
		"success": true,
		"assets": {"730": {"2": {"123": {"classid": "1", "icon_url": "hash-small"}}}}
	}`)

	got, ok := ExtractImageURL(root)
	if !ok {
		t.Fatal("expected an image URL")
	}
	if got != StaticAssetBase+"hash-small" {
		t.Errorf("unexpected URL %q", got)
	}
}

func TestExtractImageURLPrefersLargeIcon(t *testing.T) {
	root := decode(t, `{
		"results": [{"asset_description": {"icon_url": "small", "icon_url_large": "large"}}]
	}`)

	got, ok := ExtractImageURL(root)
	if !ok || got != StaticAssetBase+"large" {
		t.Errorf("expected large icon, got %q (%v)", got, ok)
	}
}

func TestExtractImageURLStopsAtFirstMatchingNode(t *testing.T) {
	root := decode(t, `{
		"results": [{"asset_description": {"icon_url": "small", "nested": {"icon_url_large": "large"}}}]
	}`)

	got, ok := ExtractImageURL(root)
	if !ok || got != StaticAssetBase+"small" {
		t.Errorf("expected the icon from the outer node, got %q (%v)", got, ok)
	}
}

func TestExtractImageURLSkipsEmptyValues(t *testing.T) {
	root := decode(t, `{"a": {"icon_url_large": ""}, "b": {"icon_url": "real"}}`)

	got, ok := ExtractImageURL(root)
	if !ok || got != StaticAssetBase+"real" {
		t.Errorf("expected fallback to icon_url, got %q (%v)", got, ok)
	}
}

func TestExtractImageURLFromHTML(t *testing.T) {
	root := decode(t, `{
		"success": true,
		"results_html": "<div><img src=\"https://other.example.com/logo.png\"><img class=\"x\" src=\"https://community.cloudflare.steamstatic.com/economy/image/abc/62fx62f?a=1&amp;b=2\" /></div>"
	}`)

	got, ok := ExtractImageURL(root)
	if !ok {
		t.Fatal("expected an image URL from HTML")
	}
	expected := "https://community.cloudflare.steamstatic.com/economy/image/abc/360fx360f?a=1&b=2"
	if got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}
}

func TestExtractImageURLFromHTMLAnyDomain(t *testing.T) {
	root := decode(t, `{"results_html": "<img alt='x' src='https://cdn.example.com/item.png'>"}`)

	got, ok := ExtractImageURL(root)
	if !ok || got != "https://cdn.example.com/item.png" {
		t.Errorf("expected first img src, got %q (%v)", got, ok)
	}
}

func TestExtractImageURLFromHTMLIgnoresDataSrc(t *testing.T) {
	root := decode(t, `{
		"results_html": "<img data-src=\"https://lazy.example.com/p.gif\" src=\"https://community.cloudflare.steamstatic.com/economy/image/real\">"
	}`)

	got, ok := ExtractImageURL(root)
	if !ok || got != "https://community.cloudflare.steamstatic.com/economy/image/real" {
		t.Errorf("expected the src attribute, got %q (%v)", got, ok)
	}
}

func TestExtractImageURLTreeWinsOverHTML(t *testing.T) {
	root := decode(t, `{
		"results_html": "<img src=\"https://community.cloudflare.steamstatic.com/economy/image/from-html\">",
		"assets": {"x": {"icon_url": "from-tree"}}
	}`)

	got, ok := ExtractImageURL(root)
	if !ok || !strings.HasSuffix(got, "from-tree") {
		t.Errorf("expected structured result to win, got %q", got)
	}
}

func TestExtractImageURLNothingFound(t *testing.T) {
	for _, raw := range []string{`{}`, `{"success": true, "results_html": "<div>No listings</div>"}`, `[]`, `"text"`} {
		if got, ok := ExtractImageURL(decode(t, raw)); ok {
			t.Errorf("expected no image for %s, got %q", raw, got)
		}
	}
}

func TestFindStringFieldDepthBound(t *testing.T) {
	var root any = map[string]any{"icon_url": "deep"}
	for i := 0; i < maxTraversalDepth+5; i++ {
		root = map[string]any{"next": root}
	}

	if _, ok := findStringField(root, "icon_url"); ok {
		t.Error("expected traversal to stop at the depth bound")
	}
}
