package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type FileNames struct {
	Clash                string // default clash.yaml
	Subscribe            string // default subscribe.txt
	UnvalidatedClash     string // default clash_all.yaml
	UnvalidatedSubscribe string // default subscribe_all.txt
}

func (n FileNames) withDefaults() FileNames {
	if n.Clash == "" {
		n.Clash = "clash.yaml"
	}
	if n.Subscribe == "" {
		n.Subscribe = "subscribe.txt"
	}
	if n.UnvalidatedClash == "" {
		n.UnvalidatedClash = "clash_all.yaml"
	}
	if n.UnvalidatedSubscribe == "" {
		n.UnvalidatedSubscribe = "subscribe_all.txt"
	}
	return n
}

// FileStore writes artifacts into Dir and one run log per run into LogDir.
// Each file is replaced atomically.
type FileStore struct {
	Dir     string
	LogDir  string // default <Dir>/logs
	Names   FileNames
	Sources []string // listed in the run log
	Logger  *zap.Logger
}

func (s *FileStore) Publish(ctx context.Context, a Artifacts) error {
	names := s.Names.withDefaults()
	logDir := s.LogDir
	if logDir == "" {
		logDir = filepath.Join(s.Dir, "logs")
	}
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	var err error
	write := func(name string, data []byte) {
		if ctx.Err() != nil {
			err = multierr.Append(err, ctx.Err())
			return
		}
		path := filepath.Join(s.Dir, name)
		if werr := writeFileAtomic(path, data); werr != nil {
			err = multierr.Append(err, werr)
			return
		}
		log.Info("artifact written", zap.String("path", path), zap.Int("bytes", len(data)))
	}

	if a.Full != nil {
		write(names.UnvalidatedClash, a.Full.Clash)
		write(names.UnvalidatedSubscribe, []byte(a.Full.Subscription))
	}
	if a.Available != nil {
		write(names.Clash, a.Available.Clash)
		write(names.Subscribe, []byte(a.Available.Subscription))
	}

	logPath := filepath.Join(logDir, runLogName(a.RunLog.FinishedAt))
	if werr := writeFileAtomic(logPath, []byte(FormatRunLog(a.RunLog, s.Sources))); werr != nil {
		err = multierr.Append(err, werr)
	}
	return err
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
