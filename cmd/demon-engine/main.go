// Command demon-engine is the ritual engine's composition root: it
// loads the bootstrap bundle, wires the policy kernel, event log,
// capsule router, and ritual engine together, runs one ritual to
// completion, and serves the health/metrics surface alongside it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/demon-run/ritual-control/internal/config"
	"github.com/demon-run/ritual-control/internal/errkit"
	"github.com/demon-run/ritual-control/internal/healthsrv"
	"github.com/demon-run/ritual-control/internal/obslog"
	"github.com/demon-run/ritual-control/pkg/capsule"
	"github.com/demon-run/ritual-control/pkg/eventlog"
	"github.com/demon-run/ritual-control/pkg/metrics"
	"github.com/demon-run/ritual-control/pkg/ritual"
	"github.com/demon-run/ritual-control/pkg/wards"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger, flush, err := obslog.New(obslog.Options{Development: os.Getenv("DEMON_ENV") != "production"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "demon-engine: building logger:", err)
		return 2
	}
	defer flush()

	bundlePath := getenvDefault("BUNDLE_PATH", "examples/bundles/local-dev.yaml")
	bundle, err := config.Load(bundlePath)
	if err != nil {
		logger.Error(err, "failed to load bundle", "path", bundlePath)
		return errkit.ExitCode(err)
	}

	kernelCfg, err := wards.ConfigFromEnv(
		os.Getenv("TENANTING_ENABLED") == "true",
		os.Getenv("WARDS_GLOBAL_QUOTA"),
		os.Getenv("WARDS_QUOTAS"),
		os.Getenv("WARDS_CAP_QUOTAS"),
	)
	if err != nil {
		logger.Error(err, "invalid quota configuration")
		return errkit.ExitCode(err)
	}
	kernel := wards.New(kernelCfg)

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

	router := capsule.New(kernel, log, logger).WithMetrics(metricsRegistry)
	router.Register("capsule.echo", capsule.EchoHandler{})
	router.Register("capsule.http", capsule.NewHTTPHandler())
	router.Register("container-exec", capsule.NewContainerExecHandler())
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		router.Register("capsule.anthropic", capsule.NewAnthropicHandler(apiKey))
	}

	engine := ritual.New(router, log, logger)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		srv := &http.Server{Addr: getenvDefault("HEALTH_ADDR", ":8080"), Handler: healthsrv.New(reg, nil)}
		go func() {
			<-gctx.Done()
			_ = srv.Close()
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	specPath := getenvDefault("RITUAL_SPEC_PATH", "examples/rituals/echo.yaml")
	tenantID := getenvDefault("TENANT_ID", "GLOBAL")

	spec, loadDiagnostics, err := ritual.Load(specPath)
	if err != nil {
		logger.Error(err, "failed to load ritual spec", "path", specPath)
		cancel()
		_ = group.Wait()
		return errkit.ExitCode(err)
	}

	outcome, err := engine.Run(ctx, spec, tenantID, loadDiagnostics)
	if err != nil {
		logger.Error(err, "ritual run failed", "ritualId", spec.ID)
		cancel()
		_ = group.Wait()
		return errkit.ExitCode(err)
	}
	logger.Info("ritual completed", "runId", outcome.RunID, "success", outcome.Envelope.Result.Success)

	cancel()
	if err := group.Wait(); err != nil {
		logger.Error(err, "health server exited with an error")
		return 1
	}
	return 0
}

func getenvDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
