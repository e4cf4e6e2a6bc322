// Package publish persists the artifacts of a run: the routing document and
// subscription blob for both node sets, plus the run log.
package publish

import (
	"context"

	"go.uber.org/multierr"

	"github.com/John-Robertt/spider-clash/internal/model"
	"github.com/John-Robertt/spider-clash/internal/render"
)

// Artifacts is everything one run hands to its publishers.
type Artifacts struct {
	RunLog model.RunLog

	// Full covers every unique node. Nil when the run failed before
	// rendering.
	Full *render.Artifacts

	// Available covers reachable nodes only. Nil when probing was skipped
	// or the run failed.
	Available *render.Artifacts
}

type Publisher interface {
	Publish(ctx context.Context, a Artifacts) error
}

// Multi publishes to every publisher, even after one fails.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, a Artifacts) error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Publish(ctx, a))
	}
	return err
}

// Discard drops everything.
type Discard struct{}

func (Discard) Publish(context.Context, Artifacts) error { return nil }
