// Package probe checks TCP reachability of nodes under a hard bound on the
// number of connection attempts in flight.
package probe

import (
	"context"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/John-Robertt/spider-clash/internal/model"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout     = 3 * time.Second
	DefaultAttempts    = 2
	DefaultConcurrency = 20
	DefaultThresholdMs = 3000

	resolveCacheSize = 4096
)

type Options struct {
	// Timeout bounds a single connect attempt.
	Timeout time.Duration
	// Attempts is the number of connects per node. Latency is the average
	// over the successful ones.
	Attempts int
	// Concurrency is the maximum number of connects in flight at any instant.
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type Prober struct {
	opt      Options
	dialer   Dialer
	resolver Resolver
	log      *zap.Logger
}

type Option func(*Prober)

func WithDialer(d Dialer) Option { return func(p *Prober) { p.dialer = d } }

func WithResolver(r Resolver) Option { return func(p *Prober) { p.resolver = r } }

func WithLogger(l *zap.Logger) Option { return func(p *Prober) { p.log = l } }

func New(opt Options, opts ...Option) *Prober {
	p := &Prober{
		opt:      opt.withDefaults(),
		dialer:   &net.Dialer{},
		resolver: net.DefaultResolver,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Prober) Options() Options { return p.opt }

// Probe returns a copy of nodes, in input order, with LatencyMs set on every
// element. Individual failures are never returned as errors: they show up as
// model.LatencyUnreachable.
func (p *Prober) Probe(ctx context.Context, nodes []model.Node) []model.Node {
	out := make([]model.Node, len(nodes))
	copy(out, nodes)
	if len(nodes) == 0 {
		return out
	}

	// Hostnames are resolved once per run so DNS time stays out of the
	// connect latency.
	cache, _ := lru.New[string, string](resolveCacheSize)

	// Each probe owns latencies[i] until Wait returns.
	latencies := make([]int, len(nodes))
	g := new(errgroup.Group)
	g.SetLimit(p.opt.Concurrency)
	for i := range nodes {
		if !nodes[i].Probeable() {
			latencies[i] = model.LatencyUnreachable
			continue
		}
		g.Go(func() error {
			latencies[i] = p.probeOne(ctx, cache, nodes[i])
			return nil
		})
	}
	_ = g.Wait()

	reachable := 0
	for i := range out {
		out[i].LatencyMs = latencies[i]
		if latencies[i] > 0 {
			reachable++
		}
	}
	p.log.Info("probe finished",
		zap.Int("nodes", len(nodes)),
		zap.Int("reachable", reachable),
		zap.Int("concurrency", p.opt.Concurrency),
	)
	return out
}

func (p *Prober) probeOne(ctx context.Context, cache *lru.Cache[string, string], n model.Node) int {
	host, ok := p.resolve(ctx, cache, n.Address)
	if !ok {
		p.log.Debug("resolve failed", zap.String("host", n.Address))
		return model.LatencyUnreachable
	}
	target := net.JoinHostPort(host, strconv.Itoa(n.Port))

	var total time.Duration
	successes := 0
	for attempt := 0; attempt < p.opt.Attempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		if d, ok := p.connect(ctx, target); ok {
			total += d
			successes++
		}
	}
	if successes == 0 {
		return model.LatencyUnreachable
	}
	ms := int(math.Round(float64(total.Microseconds()) / float64(successes) / 1000))
	if ms < 1 {
		// A sub-millisecond connect is still a success; 0 means "not probed".
		ms = 1
	}
	return ms
}

func (p *Prober) connect(ctx context.Context, target string) (time.Duration, bool) {
	actx, cancel := context.WithTimeout(ctx, p.opt.Timeout)
	defer cancel()

	start := time.Now()
	conn, err := p.dialer.DialContext(actx, "tcp", target)
	elapsed := time.Since(start)
	if err != nil {
		return 0, false
	}
	_ = conn.Close()
	return elapsed, true
}

func (p *Prober) resolve(ctx context.Context, cache *lru.Cache[string, string], host string) (string, bool) {
	if net.ParseIP(host) != nil {
		return host, true
	}
	if ip, ok := cache.Get(host); ok {
		return ip, ip != ""
	}

	rctx, cancel := context.WithTimeout(ctx, p.opt.Timeout)
	defer cancel()
	addrs, err := p.resolver.LookupHost(rctx, host)
	ip := ""
	if err == nil && len(addrs) > 0 {
		ip = addrs[0]
	}
	cache.Add(host, ip)
	return ip, ip != ""
}

// Available keeps nodes with 0 < LatencyMs < thresholdMs.
func Available(nodes []model.Node, thresholdMs int) []model.Node {
	if thresholdMs <= 0 {
		thresholdMs = DefaultThresholdMs
	}
	out := make([]model.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.LatencyMs > 0 && n.LatencyMs < thresholdMs {
			out = append(out, n)
		}
	}
	return out
}
