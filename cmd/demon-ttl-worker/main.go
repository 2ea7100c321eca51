// Command demon-ttl-worker is the TTL worker's composition root: it
// runs the batch TTL worker loop against the shared event log,
// independent of the ritual engine process, as its own suspendable
// task.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/demon-run/ritual-control/internal/config"
	"github.com/demon-run/ritual-control/internal/errkit"
	"github.com/demon-run/ritual-control/internal/healthsrv"
	"github.com/demon-run/ritual-control/internal/obslog"
	"github.com/demon-run/ritual-control/pkg/approval"
	"github.com/demon-run/ritual-control/pkg/eventlog"
	"github.com/demon-run/ritual-control/pkg/metrics"
	"github.com/demon-run/ritual-control/pkg/ttlworker"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger, flush, err := obslog.New(obslog.Options{Development: os.Getenv("DEMON_ENV") != "production"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "demon-ttl-worker: building logger:", err)
		return 2
	}
	defer flush()

	if os.Getenv("TTL_WORKER_ENABLED") == "false" {
		logger.Info("TTL_WORKER_ENABLED=false, exiting without starting the worker")
		return 0
	}

	bundlePath := getenvDefault("BUNDLE_PATH", "examples/bundles/local-dev.yaml")
	bundle, err := config.Load(bundlePath)
	if err != nil {
		logger.Error(err, "failed to load bundle", "path", bundlePath)
		return errkit.ExitCode(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: getenvDefault("EVENTLOG_REDIS_ADDR", "127.0.0.1:6379")})
	defer rdb.Close()

	log, err := eventlog.Open(ctx, rdb, bundle.Stream.Name, bundle.DuplicateWindow(), logger)
	if err != nil {
		logger.Error(err, "failed to open event log")
		return errkit.ExitCode(err)
	}

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.New()
	metricsRegistry.MustRegister(reg)

	var notifier *approval.Notifier
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" {
		notifier = approval.NewNotifier(token, getenvDefault("SLACK_APPROVAL_CHANNEL", "#approvals"), logger)
	}

	ttl := ttlworker.TTLFromEnv(os.Getenv)
	worker := ttlworker.New(log, ttl, logger, ttlworker.WithNotifier(notifier), ttlworker.WithMetrics(metricsRegistry))

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		srv := &http.Server{Addr: getenvDefault("HEALTH_ADDR", ":8081"), Handler: healthsrv.New(reg, nil)}
		go func() {
			<-gctx.Done()
			_ = srv.Close()
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return worker.Run(gctx, loopInterval())
	})

	if err := group.Wait(); err != nil && gctx.Err() == nil {
		logger.Error(err, "demon-ttl-worker exited with an error")
		return 1
	}
	return 0
}

func loopInterval() time.Duration {
	return 10 * time.Second
}

func getenvDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
