package httpapi

import (
	"go.uber.org/zap"

	"github.com/John-Robertt/spider-clash/internal/metrics"
	"github.com/John-Robertt/spider-clash/internal/publish"
)

// Snapshot is the read side of the latest published run.
type Snapshot interface {
	Latest() (publish.Artifacts, bool)
}

type Options struct {
	Store   Snapshot
	Metrics *metrics.Metrics // nil disables /metrics content and counters
	Logger  *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Store == nil {
		o.Store = publish.NewMemory()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
