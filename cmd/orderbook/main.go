// Command orderbook serves the order-entry API: accepts, validates,
// stores and cancels user orders, and refreshes expired quotes on
// Limit-class orders via the registered price-estimation drivers.
// Grounded on the teacher's cmd/indexer/main.go bootstrap style (plain
// flag.Parse, logrus, signal.Notify shutdown).
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/batchauction/engine/internal/chain"
	"github.com/batchauction/engine/internal/orderbookapi"
	"github.com/batchauction/engine/internal/orderstore"
	"github.com/batchauction/engine/internal/platform/erc20"
	"github.com/batchauction/engine/internal/platform/metrics"
)

const (
	exitOK             = 0
	exitMisconfigured  = 1
	exitRuntimeFailure = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logrus.WithField("app", "orderbook")

	ethrpc := flag.String("ethrpc", envDefault("ORDERBOOK_ETHRPC", ""), "Ethereum JSON-RPC endpoint")
	dbURL := flag.String("db-url", envDefault("ORDERBOOK_DB_URL", ""), "Postgres connection string")
	vaultRelayer := flag.String("vault-relayer", envDefault("ORDERBOOK_VAULT_RELAYER", ""), "vault relayer address allowances are checked against")
	priceEstimationDrivers := flag.String("price-estimation-drivers", envDefault("ORDERBOOK_PRICE_ESTIMATION_DRIVERS", ""), "comma-separated name|url driver entries used to requote expired Limit quotes")
	listenAddr := flag.String("addr", envDefault("ORDERBOOK_ADDR", ":8090"), "HTTP listen address")
	metricsAddr := flag.String("metrics-addr", envDefault("ORDERBOOK_METRICS_ADDR", ":9101"), "address to serve /metrics on")
	requoteCadence := flag.Int("requote-cadence", envIntDefault("ORDERBOOK_REQUOTE_CADENCE", 60), "seconds between expired-quote refresh sweeps")
	flag.Parse()

	if *ethrpc == "" || *dbURL == "" {
		log.Error("--ethrpc and --db-url are required")
		return exitMisconfigured
	}

	m := metrics.New("orderbook", prometheus.DefaultRegisterer)

	client, err := chain.NewClient(chain.Config{RPCURL: *ethrpc})
	if err != nil {
		log.WithError(err).Error("connect to ethereum rpc")
		return exitMisconfigured
	}
	defer client.Close()

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.WithError(err).Error("open database")
		return exitMisconfigured
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.WithError(err).Error("ping database")
		return exitMisconfigured
	}

	balanceReader, err := erc20.New(client, common.HexToAddress(*vaultRelayer))
	if err != nil {
		log.WithError(err).Error("build balance reader")
		return exitMisconfigured
	}
	store := orderstore.New(db, balanceReader, m)

	quoter, err := buildQuoter(*priceEstimationDrivers)
	if err != nil {
		log.WithError(err).Error("parse --price-estimation-drivers")
		return exitMisconfigured
	}

	router := orderbookapi.New(store)
	server := &http.Server{Addr: *listenAddr, Handler: router}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: metricsMux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if quoter != nil {
		go runRequoteLoop(ctx, quoter, store, client, log, time.Duration(*requoteCadence)*time.Second)
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.ListenAndServe() }()
	log.WithField("addr", *listenAddr).Info("orderbook listening")
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
			cancel()
			_ = metricsServer.Close()
			return exitRuntimeFailure
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
		_ = metricsServer.Close()
		return exitRuntimeFailure
	}
	_ = metricsServer.Close()
	return exitOK
}

// requoter is the slice of orderstore.Store runRequoteLoop needs beyond
// ListSolvableOrders: a place to persist the refreshed quote. This repo
// does not (yet) expose a quote-persisting method on Store, so the
// refreshed quote is only attached to the in-flight FeePolicy
// computation at auction-build time; the sweep here exists to warm the
// Quoter's upstream drivers and surface requoting failures in logs and
// metrics ahead of an auction needing the quote synchronously.
func runRequoteLoop(ctx context.Context, quoter *orderstore.Quoter, store *orderstore.Store, client *chain.EthRPCClient, log *logrus.Entry, cadence time.Duration) {
	if cadence <= 0 {
		cadence = time.Minute
	}
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			atBlock, err := client.BlockNumber(ctx)
			if err != nil {
				log.WithError(err).Warn("fetch chain tip for requoting")
				continue
			}
			orders, err := store.ListSolvableOrders(ctx, atBlock, now.Unix())
			if err != nil {
				log.WithError(err).Warn("list solvable orders for requoting")
				continue
			}
			for _, o := range orders {
				if _, err := quoter.RefreshIfExpired(ctx, o, nil, now); err != nil {
					log.WithError(err).WithField("order_uid", o.UID.String()).Warn("requote failed")
				}
			}
		}
	}
}

func buildQuoter(raw string) (*orderstore.Quoter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var drivers []orderstore.PriceEstimationDriver
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "|", 2)
		if len(parts) != 2 {
			return nil, errInvalidDriverEntry(entry)
		}
		d, err := orderstore.NewPriceEstimationDriver(parts[0], parts[1])
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return orderstore.NewQuoter(drivers, nil), nil
}

type errInvalidDriverEntry string

func (e errInvalidDriverEntry) Error() string {
	return "price estimation driver entry " + string(e) + " must be name|url"
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntDefault(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
