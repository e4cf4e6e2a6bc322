package pipeline

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/John-Robertt/spider-clash/internal/discover"
	"github.com/John-Robertt/spider-clash/internal/model"
	"github.com/John-Robertt/spider-clash/internal/publish"
	"github.com/John-Robertt/spider-clash/internal/render"
)

// Runner wires the collaborators of a run.
type Runner struct {
	Discoverer discover.Discoverer
	Publisher  publish.Publisher // default publish.Discard
	Clash      render.ClashOptions
	Options    Options
}

type Result struct {
	Full      []model.Node
	Available []model.Node
	Stats     model.RunLog
	Artifacts publish.Artifacts
}

// Run executes one cycle. The result is never nil; its Stats hold the run
// log whatever happened. Only a *FatalError is returned.
//
// The full artifacts are rendered from the decoded set before probing, so a
// run that fails later still publishes them alongside its run log.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	opt := r.Options.withDefaults()
	publisher := r.Publisher
	if publisher == nil {
		publisher = publish.Discard{}
	}

	stats := newRunLog(opt.Clock)
	opt.Logger = opt.Logger.With(zap.String("run_id", stats.RunID))
	log := opt.Logger
	log.Info("run started")

	res := &Result{}
	var arts publish.Artifacts
	full, err := r.discoverAndDecode(ctx, opt, &stats)
	res.Full = full

	if err == nil {
		arts.Full, err = r.render(full)
	}
	if err == nil && !opt.SkipProbe {
		res.Available, err = probeNodes(ctx, full, opt, &stats)
		if err == nil {
			arts.Available, err = r.render(res.Available)
		}
	}

	publishFailed := false
	if err == nil {
		stats.State = model.StatePublish
		finish(&stats, opt.Clock, nil)
		// The run log describes the outcome of a successful publish.
		arts.RunLog = stats
		arts.RunLog.State = model.StateDone
		if perr := publisher.Publish(ctx, arts); perr != nil {
			err = fatal(model.StatePublish, "PUBLISH_FAILED", "发布产物失败", perr)
			publishFailed = true
		} else {
			stats.State = model.StateDone
			arts.RunLog = stats
		}
	}

	if err != nil {
		finish(&stats, opt.Clock, err)
		if app, ok := appErrorOf(err); ok {
			opt.Metrics.IncAppError(app.Stage, app.Code)
		}
		failed := publish.Artifacts{RunLog: stats}
		if !publishFailed {
			failed.Full = arts.Full
		}
		// Publish even when ctx is cancelled so the failure is visible.
		if perr := publisher.Publish(context.WithoutCancel(ctx), failed); perr != nil {
			log.Warn("publish run log failed", zap.Error(perr))
		}
		arts = failed
		log.Error("run failed", zap.String("state", string(stats.State)), zap.Error(err))
	} else {
		log.Info("run finished",
			zap.Duration("duration", stats.Duration),
			zap.Int("unique", stats.UniqueNodes),
			zap.Int("available", stats.AvailableNodes))
	}

	res.Artifacts = arts
	res.Stats = stats
	opt.Metrics.ObserveRun(stats)
	return res, err
}

func (r *Runner) discoverAndDecode(ctx context.Context, opt Options, stats *model.RunLog) ([]model.Node, error) {
	if r.Discoverer == nil {
		return nil, fatal(model.StateDiscover, "INVALID_ARGUMENT", "未配置发现器", nil)
	}
	blobs, warnings := r.Discoverer.Discover(ctx)
	for _, w := range multierr.Errors(warnings) {
		recordError(stats, opt.Metrics, w)
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, fatal(model.StateDiscover, "CANCELED", "运行被取消", cerr)
	}
	return decodeDedup(blobs, opt, stats)
}

func (r *Runner) render(nodes []model.Node) (*render.Artifacts, error) {
	a, err := render.Render(nodes, r.Clash)
	if err != nil {
		return nil, fatal(model.StatePublish, "RENDER_ERROR", "渲染产物失败", err)
	}
	return &a, nil
}
