package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/spider-clash/internal/config"
	"github.com/John-Robertt/spider-clash/internal/discover"
	"github.com/John-Robertt/spider-clash/internal/fetch"
	"github.com/John-Robertt/spider-clash/internal/httpapi"
	"github.com/John-Robertt/spider-clash/internal/logging"
	"github.com/John-Robertt/spider-clash/internal/metrics"
	"github.com/John-Robertt/spider-clash/internal/pipeline"
	"github.com/John-Robertt/spider-clash/internal/probe"
	"github.com/John-Robertt/spider-clash/internal/publish"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "配置文件路径（默认查找 ./config.yaml 与 ./configs/config.yaml）")
	once := flag.Bool("once", false, "只运行一次后退出")
	listen := flag.String("listen", "", "HTTP 监听地址（覆盖 server.listen）")
	healthcheck := flag.Bool("healthcheck", false, "请求 /healthz 并以退出码报告结果（用于容器健康检查）")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
		cfg.Server.Enabled = true
	}

	if *healthcheck {
		u, err := deriveHealthzURL(cfg.Server.Listen)
		if err == nil {
			err = runHealthcheck(u, 3*time.Second)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "healthcheck: %v\n", err)
			os.Exit(1)
		}
		return
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once, log); err != nil {
		log.Error("exit", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, once bool, log *zap.Logger) error {
	clashOpt, err := cfg.ClashOptions()
	if err != nil {
		return err
	}

	m := metrics.New(metrics.DefaultNamespace)
	memory := publish.NewMemory()

	publishers := publish.Multi{
		&publish.FileStore{
			Dir:     cfg.Output.Dir,
			LogDir:  cfg.Output.LogDir,
			Names:   cfg.FileNames(),
			Sources: cfg.Sources,
			Logger:  logging.Component(log, "publish"),
		},
		memory,
	}
	if cfg.Redis.Enabled {
		store, client, err := publish.NewRedisStore(ctx, cfg.RedisOptions())
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		publishers = append(publishers, store)
	}

	runner := &pipeline.Runner{
		Discoverer: discover.New(cfg.Sources, cfg.DiscoverOptions(), fetch.New(cfg.FetchOptions()), logging.Component(log, "discover")),
		Publisher:  publishers,
		Clash:      clashOpt,
		Options: pipeline.Options{
			ThresholdMs: cfg.Validator.ThresholdMs,
			SkipProbe:   cfg.Validator.Skip,
			Prober:      probe.New(cfg.ProbeOptions(), probe.WithLogger(logging.Component(log, "probe"))),
			Logger:      logging.Component(log, "pipeline"),
			Metrics:     m,
		},
	}

	if once {
		_, err := runner.Run(ctx)
		return err
	}

	var srv *http.Server
	errCh := make(chan error, 1)
	if cfg.Server.Enabled {
		srv = &http.Server{
			Addr: cfg.Server.Listen,
			Handler: httpapi.NewHandler(httpapi.Options{
				Store:   memory,
				Metrics: m,
				Logger:  log,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info("listening", zap.String("addr", "http://"+cfg.Server.Listen))
		go func() {
			errCh <- srv.ListenAndServe()
		}()
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		schedule(ctx, cfg.Schedule.Interval, log, func() {
			// A failed run is already logged and published; keep the schedule going.
			_, _ = runner.Run(ctx)
		})
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	if srv != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			log.Warn("graceful shutdown failed", zap.Error(err))
			_ = srv.Close()
		}
	}
	<-loopDone
	return nil
}

// schedule calls fn immediately and then every interval until ctx is done.
func schedule(ctx context.Context, interval time.Duration, log *zap.Logger, fn func()) {
	fn()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			log.Debug("scheduled run")
			fn()
		}
	}
}

func deriveHealthzURL(listen string) (string, error) {
	s := strings.TrimSpace(listen)
	if s == "" {
		return "", errors.New("empty listen address")
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("invalid listen url %q", listen)
		}
		u.Path = "/healthz"
		u.RawQuery = ""
		u.Fragment = ""
		return u.String(), nil
	}
	if !strings.Contains(s, ":") {
		s = ":" + s
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	if port == "" {
		return "", fmt.Errorf("invalid listen address %q: missing port", listen)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/healthz", nil
}

func runHealthcheck(healthzURL string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(healthzURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
