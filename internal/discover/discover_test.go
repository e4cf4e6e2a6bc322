package discover

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/John-Robertt/spider-clash/internal/fetch"
)

func TestClassify(t *testing.T) {
	p := Classify([]string{
		"https://oneclash.cc/a/*.html",
		"https://oneclash.cc/a/2312.html",
		"https://example.com/subscribe?token=x",
		"https://raw.example.com/nodes.yaml",
		"  ",
		"https://oneclash.cc/a/2312.html",
	})
	assert.Equal(t, []string{"https://example.com/subscribe?token=x", "https://raw.example.com/nodes.yaml"}, p.Direct)
	assert.Equal(t, []string{"https://oneclash.cc/a/", "https://oneclash.cc/a/2312.html"}, p.Pages)
	assert.Equal(t, []string{"https://oneclash.cc/a/*.html"}, p.Globs)
}

func TestMatchGlob(t *testing.T) {
	globs := []string{"https://x.com/a/*.html"}
	assert.True(t, matchGlob(globs, "https://x.com/a/1.html"))
	assert.False(t, matchGlob(globs, "https://x.com/a/b/1.html"))
	assert.False(t, matchGlob(globs, "https://x.com/b/1.html"))
}

func TestParsePage(t *testing.T) {
	base, _ := url.Parse("https://site.example/post/")
	body := `<html><head><title>skip me</title></head><body>
<p>node: vmess://abc123</p>
<a href="nodes.txt">list</a>
<a href="https://cdn.example/clash.yml">clash</a>
<a href="/about.html">about</a>
<a href="#top">top</a>
<a href="mailto:x@y">mail</a>
<div>mirror https://mirror.example/free/v2ray.txt</div>
</body></html>`

	page, err := ParsePage(base, body)
	require.NoError(t, err)

	assert.Contains(t, page.Text, "vmess://abc123")
	assert.NotContains(t, page.Text, "skip me")
	assert.Equal(t, []string{
		"https://site.example/post/nodes.txt",
		"https://cdn.example/clash.yml",
		"https://mirror.example/free/v2ray.txt",
	}, page.SubLinks)
	assert.Equal(t, []string{
		"https://site.example/post/nodes.txt",
		"https://cdn.example/clash.yml",
		"https://site.example/about.html",
	}, page.Links)
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var ts *httptest.Server
	mux.HandleFunc("/a/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<body>index <a href="%s/a/1.html">one</a> <a href="/a/deep/2.html">deep</a></body>`, ts.URL)
	})
	mux.HandleFunc("/a/1.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<body>trojan://pw@h.example:443#one <a href="/files/n.txt">n</a> <a href="/a/3.html">three</a></body>`)
	})
	mux.HandleFunc("/a/3.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<body>too deep</body>`)
	})
	mux.HandleFunc("/files/n.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "dHJvamFuOi8vcHdAaC5leGFtcGxlOjQ0MyNvbmU=")
	})
	mux.HandleFunc("/subscribe", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "vless://id@v.example:443")
	})
	mux.HandleFunc("/broken/subscribe", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	ts = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func sources(blobs []Blob) []string {
	out := make([]string, 0, len(blobs))
	for _, b := range blobs {
		out = append(out, b.Kind.String()+" "+b.Source)
	}
	sort.Strings(out)
	return out
}

func TestCrawler_FollowsGlobsToMaxDepth(t *testing.T) {
	ts := newSite(t)
	c := New([]string{ts.URL + "/a/*.html", ts.URL + "/subscribe"}, Options{MaxDepth: 2}, fetch.New(fetch.Options{}), nil)

	blobs, err := c.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"page " + ts.URL + "/a/",
		"page " + ts.URL + "/a/1.html",
		"subscription " + ts.URL + "/files/n.txt",
		"subscription " + ts.URL + "/subscribe",
	}, sources(blobs))
}

func TestCrawler_FetchFailuresAreWarnings(t *testing.T) {
	ts := newSite(t)
	c := New([]string{ts.URL + "/broken/subscribe", ts.URL + "/subscribe"}, Options{}, fetch.New(fetch.Options{}), nil)

	blobs, err := c.Discover(context.Background())
	require.Len(t, blobs, 1)
	assert.Equal(t, "vless://id@v.example:443", blobs[0].Content)

	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	var fe *fetch.FetchError
	require.True(t, errors.As(errs[0], &fe))
	assert.Equal(t, "FETCH_FAILED", fe.AppError.Code)
}

type recordingFetcher struct {
	mu    sync.Mutex
	pages []string
}

func (f *recordingFetcher) Fetch(_ context.Context, kind fetch.Kind, u string) (string, error) {
	if kind == fetch.KindPage {
		f.mu.Lock()
		f.pages = append(f.pages, u)
		f.mu.Unlock()
	}
	return "<body></body>", nil
}

func TestCrawler_RequestBudget(t *testing.T) {
	f := &recordingFetcher{}
	srcs := []string{"https://a.example/1", "https://a.example/2", "https://a.example/3"}
	c := New(srcs, Options{MaxRequests: 2}, f, nil)

	blobs, err := c.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, blobs, 2)
	assert.Len(t, f.pages, 2)
}

func TestStatic(t *testing.T) {
	s := Static{{Source: "local", Content: "x"}}
	blobs, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Blob(s), blobs)
}
