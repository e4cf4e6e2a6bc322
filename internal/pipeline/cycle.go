// Package pipeline runs one ingestion cycle: discover, decode and dedup,
// probe, publish. A run always ends with a run log, in the done or the
// failed state.
package pipeline

import (
	"context"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/John-Robertt/spider-clash/internal/dedup"
	"github.com/John-Robertt/spider-clash/internal/discover"
	"github.com/John-Robertt/spider-clash/internal/extract"
	"github.com/John-Robertt/spider-clash/internal/metrics"
	"github.com/John-Robertt/spider-clash/internal/model"
	"github.com/John-Robertt/spider-clash/internal/probe"
	"github.com/John-Robertt/spider-clash/internal/sub"
)

// maxErrorLines caps the per-node decode errors copied into a run log.
const maxErrorLines = 50

type Prober interface {
	Probe(ctx context.Context, nodes []model.Node) []model.Node
}

type Options struct {
	ThresholdMs int  // default probe.DefaultThresholdMs
	SkipProbe   bool // publish the full set only

	Prober  Prober      // default probe.New with default options
	Clock   clock.Clock // default wall clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.ThresholdMs <= 0 {
		o.ThresholdMs = probe.DefaultThresholdMs
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Prober == nil {
		o.Prober = probe.New(probe.Options{}, probe.WithLogger(o.Logger.Named("probe")))
	}
	return o
}

// RunIngestionCycle turns fetched blobs into the full node set and the
// available subset. full is the deduplicated set as decoded, before any
// probing; available carries the measured latencies. stats is populated on
// every path; err is a *FatalError wrapping ErrNoLinks when no link was
// found, or the context error when the run was cancelled.
func RunIngestionCycle(ctx context.Context, blobs []discover.Blob, opt Options) (full, available []model.Node, stats model.RunLog, err error) {
	opt = opt.withDefaults()
	stats = newRunLog(opt.Clock)
	full, err = decodeDedup(blobs, opt, &stats)
	if err == nil && !opt.SkipProbe {
		available, err = probeNodes(ctx, full, opt, &stats)
	}
	if err == nil {
		stats.State = model.StateDone
	}
	finish(&stats, opt.Clock, err)
	return full, available, stats, err
}

func newRunLog(clk clock.Clock) model.RunLog {
	return model.RunLog{
		RunID:     uuid.NewString(),
		StartedAt: clk.Now(),
		State:     model.StateDiscover,
		Errors:    []string{},
	}
}

func finish(stats *model.RunLog, clk clock.Clock, err error) {
	stats.FinishedAt = clk.Now()
	stats.Duration = stats.FinishedAt.Sub(stats.StartedAt)
	if err != nil {
		stats.State = model.StateFailed
		stats.Fatal = describe(err)
	}
}

// decodeDedup extracts, decodes and deduplicates. The result is the full set.
func decodeDedup(blobs []discover.Blob, opt Options, stats *model.RunLog) ([]model.Node, error) {
	log := opt.Logger
	stats.State = model.StateDecodeDedup

	var nodes []model.Node
	seen := make(map[string]struct{})
	for _, b := range blobs {
		var links []string
		for _, l := range extract.Extract(b.Content) {
			if _, dup := seen[l]; dup {
				continue
			}
			seen[l] = struct{}{}
			links = append(links, l)
		}
		stats.TotalLinks += len(links)
		nodes = append(nodes, sub.DecodeAll(b.Source, links)...)

		if b.Kind != discover.BlobSubscription || !sub.LooksLikeClash(b.Content) {
			continue
		}
		proxies, perr := sub.ParseClashProxies(b.Source, b.Content)
		if perr != nil {
			recordError(stats, opt.Metrics, perr)
			continue
		}
		stats.TotalLinks += len(proxies)
		nodes = append(nodes, proxies...)
	}
	if stats.TotalLinks == 0 {
		return nil, fatal(model.StateDecodeDedup, "NO_LINKS", "未发现任何节点链接", ErrNoLinks)
	}

	valid := make([]model.Node, 0, len(nodes))
	logged := 0
	for _, n := range nodes {
		switch {
		case n.Failed():
			stats.InvalidFormatNodes++
			opt.Metrics.IncAppError(n.DecodeError.Stage, n.DecodeError.Code)
			if logged < maxErrorLines {
				stats.Errors = append(stats.Errors, n.DecodeError.String())
				logged++
			}
		case n.Scheme == model.SchemeUnknown:
			stats.InvalidFormatNodes++
		default:
			valid = append(valid, n)
		}
	}
	stats.ValidFormatNodes = len(valid)

	res := dedup.Dedup(valid)
	full := res.Nodes
	stats.UniqueNodes = len(full)
	log.Info("nodes decoded",
		zap.Int("links", stats.TotalLinks),
		zap.Int("valid", stats.ValidFormatNodes),
		zap.Int("invalid", stats.InvalidFormatNodes),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("unique", stats.UniqueNodes))

	return full, nil
}

// probeNodes measures full and returns the available subset, fastest first.
// full itself is left untouched.
func probeNodes(ctx context.Context, full []model.Node, opt Options, stats *model.RunLog) ([]model.Node, error) {
	log := opt.Logger
	stats.State = model.StateProbe
	stats.ProbedNodes = len(dedup.Probeable(full))
	probed := opt.Prober.Probe(ctx, full)
	if cerr := ctx.Err(); cerr != nil {
		return nil, fatal(model.StateProbe, "CANCELED", "运行被取消", cerr)
	}
	opt.Metrics.ObserveLatencies(probed)

	available := probe.Available(probed, opt.ThresholdMs)
	sort.SliceStable(available, func(i, j int) bool {
		return available[i].LatencyMs < available[j].LatencyMs
	})
	stats.AvailableNodes = len(available)
	log.Info("nodes probed",
		zap.Int("probed", stats.ProbedNodes),
		zap.Int("available", stats.AvailableNodes),
		zap.Int("threshold_ms", opt.ThresholdMs))
	return available, nil
}

func recordError(stats *model.RunLog, m *metrics.Metrics, err error) {
	stats.Errors = append(stats.Errors, describe(err))
	if app, ok := appErrorOf(err); ok {
		m.IncAppError(app.Stage, app.Code)
	}
}
