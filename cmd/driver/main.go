// Command driver runs a solver-driver RPC surface: the /solve, /reveal,
// /settle, /quote endpoints internal/competition.DriverClient and
// internal/orderstore.Quoter call. Real solving algorithms are out of
// scope (spec.md explicitly: "the core does not... run solver logic
// in-process"), so this binary wires internal/driverapi.Router to a
// no-op Strategy that always reports no liquidity -- a reference
// implementation for exercising the wire protocol and the driver
// registration/dispatch machinery, not a trading solver. Grounded on
// the teacher's cmd/indexer/main.go bootstrap style.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/batchauction/engine/internal/competition"
	"github.com/batchauction/engine/internal/driverapi"
	"github.com/batchauction/engine/internal/platform/metrics"
)

const (
	exitOK             = 0
	exitRuntimeFailure = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logrus.WithField("app", "driver")

	listenAddr := flag.String("addr", envDefault("DRIVER_ADDR", ":8091"), "HTTP listen address")
	metricsAddr := flag.String("metrics-addr", envDefault("DRIVER_METRICS_ADDR", ":9103"), "address to serve /metrics on")
	flag.Parse()

	_ = metrics.New("driver", prometheus.DefaultRegisterer)

	router := driverapi.New(noLiquidityStrategy{}, nil)
	server := &http.Server{Addr: *listenAddr, Handler: router}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: metricsMux}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.ListenAndServe() }()
	log.WithField("addr", *listenAddr).Info("driver listening")
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutdown requested")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
			_ = metricsServer.Close()
			return exitRuntimeFailure
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
		_ = metricsServer.Close()
		return exitRuntimeFailure
	}
	_ = metricsServer.Close()
	return exitOK
}

// noLiquidityStrategy is the stand-in solving strategy: it never finds a
// fulfillment, so /solve and /quote both report the ordinary
// no-liquidity outcome rather than fabricating a trade.
type noLiquidityStrategy struct{}

func (noLiquidityStrategy) Solve(ctx context.Context, req competition.SolveRequest) ([]*competition.WireSolution, error) {
	return nil, nil
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
