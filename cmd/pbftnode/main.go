// Command pbftnode runs an in-process cluster of pbft replicas and
// demonstrates request flow against it, exposing their metrics over HTTP.
// It is a local smoke-test harness, not a production deployment: a real
// deployment pairs one Replica per process with a real network transport
// (spec.md §1, §6 place transport out of the core's scope).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cerera/pbft/config"
	"github.com/cerera/pbft/internal/cluster"
	"github.com/cerera/pbft/internal/logger"
	"github.com/cerera/pbft/pbft"
)

func main() {
	fs := flag.NewFlagSet("pbftnode", flag.ExitOnError)
	build := config.FromFlags(fs)
	metricsAddr := fs.String("metrics-addr", ":9100", "address to serve /metrics on")
	demo := fs.Bool("demo", true, "submit a couple of demonstration requests on startup")
	fs.Parse(os.Args[1:])

	cfg := build()
	cfg.I = 0
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "pbftnode: invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(logger.Config{Level: cfg.LogLevel, Console: cfg.LogConsole})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbftnode: logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := log.Sugar()

	reg := prometheus.NewRegistry()
	c, err := cluster.New(cfg, pbft.IdentityApplication{}, pbft.AlwaysValidSigner{}, reg, log)
	if err != nil {
		sugar.Errorw("failed to build cluster", "error", err)
		os.Exit(1)
	}
	sugar.Infow("cluster started", "r", cfg.R, "f", cfg.F(), "max_out", cfg.MaxOut, "chkpt_int", cfg.ChkptInt)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Errorw("metrics server stopped", "error", err)
		}
	}()
	sugar.Infow("metrics server listening", "addr", *metricsAddr)

	if *demo {
		go runDemo(ctx, c, sugar)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("metrics server shutdown error", "error", err)
	}
	sugar.Info("pbftnode stopped")
}

func runDemo(ctx context.Context, c *cluster.Cluster, sugar interface {
	Infow(string, ...interface{})
}) {
	ops := []string{"set x=1", "set y=2", "incr x"}
	for i, op := range ops {
		select {
		case <-ctx.Done():
			return
		default:
		}
		replies, err := c.Submit([]byte(op), "demo-client", float64(i+1))
		if err != nil {
			continue
		}
		sugar.Infow("demo request executed", "op", op, "replies", len(replies))
	}
}
