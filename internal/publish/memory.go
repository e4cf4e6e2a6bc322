package publish

import (
	"context"
	"sync"

	"github.com/John-Robertt/spider-clash/internal/model"
)

// Memory keeps the latest artifacts for the HTTP surface. A failed run
// updates the run log and whatever artifacts it did produce; the rest stay
// from the last good run.
type Memory struct {
	mu     sync.RWMutex
	latest Artifacts
	ok     bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(_ context.Context, a Artifacts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Full == nil {
		a.Full = m.latest.Full
	}
	if a.Available == nil && a.RunLog.State == model.StateFailed {
		a.Available = m.latest.Available
	}
	m.latest = a
	m.ok = true
	return nil
}

// Latest returns the current snapshot and whether any run has published.
func (m *Memory) Latest() (Artifacts, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.ok
}
