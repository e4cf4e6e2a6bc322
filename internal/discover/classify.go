package discover

import (
	"path"
	"strings"
)

// Plan is the configured source list split by how each entry is crawled.
type Plan struct {
	Direct []string // fetched once as subscription files
	Pages  []string // scanned as HTML, depth 1
	Globs  []string // page links matching one of these are followed
}

var directMarkers = []string{"subscribe", "feed", ".txt", ".yaml", ".yml"}

// Classify splits sources. A source containing '*' is a glob: crawling
// starts at its prefix up to the last '/' before the first '*'. Duplicate
// and blank entries are dropped.
func Classify(sources []string) Plan {
	var p Plan
	seen := make(map[string]struct{}, len(sources))
	addPage := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		p.Pages = append(p.Pages, u)
	}

	for _, raw := range sources {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if star := strings.IndexByte(s, '*'); star >= 0 {
			p.Globs = append(p.Globs, s)
			prefix := s[:star]
			if start := prefix[:strings.LastIndexByte(prefix, '/')+1]; start != "" {
				addPage(start)
			}
			continue
		}
		if isDirect(s) {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			p.Direct = append(p.Direct, s)
			continue
		}
		addPage(s)
	}
	return p
}

func isDirect(u string) bool {
	for _, m := range directMarkers {
		if strings.Contains(u, m) {
			return true
		}
	}
	return false
}

// matchGlob reports whether u matches any glob. '*' does not cross '/'.
func matchGlob(globs []string, u string) bool {
	for _, g := range globs {
		if ok, err := path.Match(g, u); err == nil && ok {
			return true
		}
	}
	return false
}
