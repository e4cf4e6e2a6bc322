package discover

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var subFileSuffixes = []string{".txt", ".yaml", ".yml"}

var subURLPattern = regexp.MustCompile(`https?://[^\s"'<>]+\.(?:txt|yaml|yml)`)

// Page is what a crawled HTML document contributes.
type Page struct {
	Text     string   // text content of <body>, one text node per line
	Links    []string // every <a href>, absolute
	SubLinks []string // links that point at subscription files
}

// ParsePage extracts body text and links from an HTML document. Relative
// hrefs are resolved against base.
func ParsePage(base *url.URL, body string) (Page, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return Page{}, err
	}

	var (
		text  strings.Builder
		links []string
		subs  []string
		seen  = map[string]struct{}{}
	)
	addSub := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		subs = append(subs, u)
	}

	var walk func(n *html.Node, inBody bool)
	walk = func(n *html.Node, inBody bool) {
		switch n.Type {
		case html.ElementNode:
			if n.Data == "body" {
				inBody = true
			}
			if n.Data == "a" {
				if href, ok := attr(n, "href"); ok {
					if abs := resolve(base, href); abs != "" {
						links = append(links, abs)
						if hasSubSuffix(href) {
							addSub(abs)
						}
					}
				}
			}
		case html.TextNode:
			if inBody {
				if s := strings.TrimSpace(n.Data); s != "" {
					text.WriteString(s)
					text.WriteByte('\n')
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inBody)
		}
	}
	walk(doc, false)

	t := text.String()
	for _, m := range subURLPattern.FindAllString(t, -1) {
		addSub(m)
	}
	return Page{Text: t, Links: links, SubLinks: subs}, nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val), true
		}
	}
	return "", false
}

func resolve(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func hasSubSuffix(href string) bool {
	for _, s := range subFileSuffixes {
		if strings.HasSuffix(href, s) {
			return true
		}
	}
	return false
}
