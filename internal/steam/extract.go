package steam

import (
	"regexp"
	"sort"
	"strings"
)

const (
	// StaticAssetBase prefixes icon paths that come back without a host.
	StaticAssetBase   = "https://community.cloudflare.steamstatic.com/economy/image/"
	staticAssetDomain = "steamstatic.com"
	largeImageSize    = "/360fx360f"

	maxTraversalDepth = 64
	maxTraversalNodes = 10000
)

var (
	sizeTokenPattern = regexp.MustCompile(`/\d+fx\d+f`)
	imgSrcPattern    = regexp.MustCompile(`(?is)<img\b[^>]*?\ssrc\s*=\s*["']([^"']+)["']`)
)

// iconKeys are checked in order at every node.
var iconKeys = []string{"icon_url_large", "icon_url"}

type frame struct {
	value any
	depth int
}

// findStringField walks a decoded JSON tree with an explicit stack and returns
// the first non-empty string stored under one of keys. Within a node the keys
// are tried in order. The walk is LIFO, so when matches exist in several
// places there is no promise about which one wins.
func findStringField(root any, keys ...string) (string, bool) {
	stack := []frame{{value: root}}
	visited := 0

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		visited++
		if visited > maxTraversalNodes {
			return "", false
		}

		switch node := top.value.(type) {
		case map[string]any:
			for _, key := range keys {
				if s, ok := node[key].(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s), true
				}
			}
			if top.depth >= maxTraversalDepth {
				continue
			}
			keys := make([]string, 0, len(node))
			for k := range node {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				switch node[k].(type) {
				case map[string]any, []any:
					stack = append(stack, frame{value: node[k], depth: top.depth + 1})
				}
			}
		case []any:
			if top.depth >= maxTraversalDepth {
				continue
			}
			for _, child := range node {
				switch child.(type) {
				case map[string]any, []any:
					stack = append(stack, frame{value: child, depth: top.depth + 1})
				}
			}
		}
	}
	return "", false
}

// iconFromTree is the structured strategy: look for an icon field anywhere in
// the response.
func iconFromTree(root any) (string, bool) {
	return findStringField(root, iconKeys...)
}

// iconFromHTML is the fallback strategy: scrape the rendered results markup,
// preferring images served from the static asset domain.
func iconFromHTML(html string) (string, bool) {
	matches := imgSrcPattern.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		return "", false
	}

	src := matches[0][1]
	for _, m := range matches {
		if strings.Contains(m[1], staticAssetDomain) {
			src = m[1]
			break
		}
	}
	src = strings.TrimSpace(strings.ReplaceAll(src, "&amp;", "&"))
	return src, src != ""
}

// completeURL turns a bare icon hash or relative path into an absolute URL.
func completeURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"), strings.HasPrefix(u, "http://"):
		return u
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	default:
		return StaticAssetBase + strings.TrimPrefix(u, "/")
	}
}

// UpgradeSize swaps a size descriptor such as /62fx62f for the large variant.
// URLs without one are returned unchanged.
func UpgradeSize(u string) string {
	return sizeTokenPattern.ReplaceAllString(u, largeImageSize)
}

// ExtractImageURL runs both strategies over a decoded search response. The
// first strategy that yields something wins; the two are never compared.
func ExtractImageURL(root any) (string, bool) {
	icon, ok := iconFromTree(root)
	if !ok {
		if obj, isObj := root.(map[string]any); isObj {
			if html, isStr := obj["results_html"].(string); isStr {
				icon, ok = iconFromHTML(html)
			}
		}
	}
	if !ok {
		return "", false
	}
	return UpgradeSize(completeURL(icon)), true
}
