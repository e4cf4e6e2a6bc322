package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/John-Robertt/spider-clash/internal/model"
	"github.com/John-Robertt/spider-clash/internal/render"
)

func sampleArtifacts() Artifacts {
	return Artifacts{
		RunLog: model.RunLog{
			RunID:          "run-1",
			FinishedAt:     time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
			Duration:       1500 * time.Millisecond,
			TotalLinks:     3,
			AvailableNodes: 1,
			State:          model.StateDone,
		},
		Full:      &render.Artifacts{Clash: []byte("full: 1\n"), Subscription: "ZnVsbA=="},
		Available: &render.Artifacts{Clash: []byte("avail: 1\n"), Subscription: "YXZhaWw="},
	}
}

func TestFileStore_WritesAllArtifacts(t *testing.T) {
	dir := t.TempDir()
	s := &FileStore{Dir: dir, Sources: []string{"https://example.com/"}}

	require.NoError(t, s.Publish(context.Background(), sampleArtifacts()))

	read := func(name string) string {
		b, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		return string(b)
	}
	assert.Equal(t, "full: 1\n", read("clash_all.yaml"))
	assert.Equal(t, "ZnVsbA==", read("subscribe_all.txt"))
	assert.Equal(t, "avail: 1\n", read("clash.yaml"))
	assert.Equal(t, "YXZhaWw=", read("subscribe.txt"))

	log := read(filepath.Join("logs", "run_2026-03-04T05-06-07.000Z.log"))
	assert.Contains(t, log, "Duration: 1500ms")
	assert.Contains(t, log, "Total Raw Links Found: 3")
	assert.Contains(t, log, "https://example.com/")
	assert.Contains(t, log, "[Errors]\nNone\n")
}

func TestFileStore_FailedRunWritesOnlyLog(t *testing.T) {
	dir := t.TempDir()
	s := &FileStore{Dir: dir, LogDir: filepath.Join(dir, "l")}

	a := Artifacts{RunLog: model.RunLog{State: model.StateFailed, Fatal: "no links", Errors: []string{"fetch_sub: FETCH_FAILED"}}}
	require.NoError(t, s.Publish(context.Background(), a))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "l", entries[0].Name())

	logs, err := os.ReadDir(filepath.Join(dir, "l"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	b, err := os.ReadFile(filepath.Join(dir, "l", logs[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(b), "Fatal: no links")
	assert.Contains(t, string(b), "fetch_sub: FETCH_FAILED")
}

func TestMemory_KeepsLastGoodArtifacts(t *testing.T) {
	m := NewMemory()
	_, ok := m.Latest()
	assert.False(t, ok)

	good := sampleArtifacts()
	require.NoError(t, m.Publish(context.Background(), good))
	require.NoError(t, m.Publish(context.Background(), Artifacts{RunLog: model.RunLog{RunID: "run-2", State: model.StateFailed}}))

	got, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, "run-2", got.RunLog.RunID)
	require.NotNil(t, got.Full)
	assert.Equal(t, good.Full.Subscription, got.Full.Subscription)
}

type failing struct{ err error }

func (f failing) Publish(context.Context, Artifacts) error { return f.err }

func TestMulti_PublishesToAllAndCombinesErrors(t *testing.T) {
	m := NewMemory()
	e1, e2 := errors.New("disk"), errors.New("redis")
	err := Multi{failing{e1}, m, failing{e2}}.Publish(context.Background(), sampleArtifacts())

	assert.Equal(t, []error{e1, e2}, multierr.Errors(err))
	_, ok := m.Latest()
	assert.True(t, ok)
}

func TestRedisStore_Key(t *testing.T) {
	s := NewRedisStoreWithClient(nil, "", 0)
	assert.Equal(t, "spider:clash_all", s.Key("clash_all"))
}

func TestMemory_FailedRunReplacesOnlyWhatItProduced(t *testing.T) {
	m := NewMemory()
	good := sampleArtifacts()
	require.NoError(t, m.Publish(context.Background(), good))

	fresh := &render.Artifacts{Subscription: "fresh"}
	require.NoError(t, m.Publish(context.Background(), Artifacts{
		RunLog: model.RunLog{RunID: "run-3", State: model.StateFailed},
		Full:   fresh,
	}))

	got, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, "fresh", got.Full.Subscription)
	require.NotNil(t, got.Available)
	assert.Equal(t, good.Available.Subscription, got.Available.Subscription)
}
