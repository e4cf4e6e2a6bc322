// Package discover crawls the configured sources and returns the raw text
// blobs that links are extracted from. Fetch failures are collected as
// warnings and never abort a crawl.
package discover

import (
	"context"
	"net/url"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/spider-clash/internal/fetch"
)

type BlobKind int

const (
	BlobPage BlobKind = iota
	BlobSubscription
)

func (k BlobKind) String() string {
	if k == BlobSubscription {
		return "subscription"
	}
	return "page"
}

// Blob is one fetched document.
type Blob struct {
	Source  string
	Content string
	Kind    BlobKind
}

type Options struct {
	MaxRequests int // pages fetched per run, default 50
	MaxDepth    int // 1 = configured pages only, default 2
	Concurrency int // default 8
}

func (o Options) withDefaults() Options {
	if o.MaxRequests <= 0 {
		o.MaxRequests = 50
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 2
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	return o
}

type Fetcher interface {
	Fetch(ctx context.Context, kind fetch.Kind, rawURL string) (string, error)
}

// Discoverer is what the orchestrator depends on.
type Discoverer interface {
	Discover(ctx context.Context) ([]Blob, error)
}

type Crawler struct {
	sources []string
	opt     Options
	fetcher Fetcher
	log     *zap.Logger
}

func New(sources []string, opt Options, fetcher Fetcher, log *zap.Logger) *Crawler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Crawler{
		sources: sources,
		opt:     opt.withDefaults(),
		fetcher: fetcher,
		log:     log,
	}
}

type fetched struct {
	url  string
	body string
	err  error
}

// fetchAll fetches urls with at most Concurrency requests in flight. The
// result keeps the order of urls.
func (c *Crawler) fetchAll(ctx context.Context, kind fetch.Kind, urls []string) []fetched {
	out := make([]fetched, len(urls))
	var g errgroup.Group
	g.SetLimit(c.opt.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			body, err := c.fetcher.Fetch(ctx, kind, u)
			out[i] = fetched{url: u, body: body, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Discover crawls every source. The returned error, when non-nil, combines
// the per-URL failures (see multierr.Errors); blobs are valid either way.
func (c *Crawler) Discover(ctx context.Context) ([]Blob, error) {
	plan := Classify(c.sources)
	c.log.Info("crawl started",
		zap.Int("direct", len(plan.Direct)),
		zap.Int("pages", len(plan.Pages)),
		zap.Int("globs", len(plan.Globs)))

	var (
		blobs    []Blob
		warnings error
	)
	seenSub := make(map[string]struct{})
	collect := func(kind BlobKind, res []fetched) {
		for _, r := range res {
			if r.err != nil {
				c.log.Warn("fetch failed", zap.String("url", r.url), zap.Error(r.err))
				warnings = multierr.Append(warnings, r.err)
				continue
			}
			blobs = append(blobs, Blob{Source: r.url, Content: r.body, Kind: kind})
		}
	}

	for _, u := range plan.Direct {
		seenSub[u] = struct{}{}
	}
	collect(BlobSubscription, c.fetchAll(ctx, fetch.KindSubscription, plan.Direct))

	visited := make(map[string]struct{}, len(plan.Pages))
	for _, u := range plan.Pages {
		visited[u] = struct{}{}
	}
	frontier := plan.Pages
	requests := 0
	for depth := 1; len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return blobs, multierr.Append(warnings, err)
		}
		if left := c.opt.MaxRequests - requests; len(frontier) > left {
			c.log.Info("request budget exhausted", zap.Int("dropped", len(frontier)-left))
			frontier = frontier[:left]
		}
		requests += len(frontier)

		var subLinks, next []string
		for _, r := range c.fetchAll(ctx, fetch.KindPage, frontier) {
			if r.err != nil {
				c.log.Warn("page fetch failed", zap.String("url", r.url), zap.Error(r.err))
				warnings = multierr.Append(warnings, r.err)
				continue
			}
			base, _ := url.Parse(r.url)
			page, err := ParsePage(base, r.body)
			if err != nil {
				warnings = multierr.Append(warnings, err)
				continue
			}
			blobs = append(blobs, Blob{Source: r.url, Content: page.Text, Kind: BlobPage})
			c.log.Debug("page scanned",
				zap.String("url", r.url),
				zap.Int("depth", depth),
				zap.Int("sub_links", len(page.SubLinks)))

			for _, s := range page.SubLinks {
				if _, ok := seenSub[s]; ok {
					continue
				}
				seenSub[s] = struct{}{}
				subLinks = append(subLinks, s)
			}
			if depth >= c.opt.MaxDepth || len(plan.Globs) == 0 {
				continue
			}
			for _, l := range page.Links {
				if _, ok := visited[l]; ok || !matchGlob(plan.Globs, l) {
					continue
				}
				visited[l] = struct{}{}
				next = append(next, l)
			}
		}
		collect(BlobSubscription, c.fetchAll(ctx, fetch.KindSubscription, subLinks))
		frontier = next
	}

	c.log.Info("crawl finished",
		zap.Int("blobs", len(blobs)),
		zap.Int("page_requests", requests),
		zap.Int("warnings", len(multierr.Errors(warnings))))
	return blobs, warnings
}

// Static serves a fixed blob list. It backs one-off runs over local input.
type Static []Blob

func (s Static) Discover(context.Context) ([]Blob, error) { return s, nil }

var _ Discoverer = (*Crawler)(nil)
var _ Discoverer = Static(nil)
var _ Fetcher = (*fetch.Fetcher)(nil)
