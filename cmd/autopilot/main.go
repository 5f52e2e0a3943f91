// Command autopilot runs the scheduler half of the batch-auction
// backend: it indexes on-chain settlement state, builds frozen auctions
// at a steady cadence, dispatches them to the registered solver drivers,
// and reconciles the resulting settlements. Grounded on the teacher's
// cmd/indexer/main.go (plain flag.Parse, logrus, signal.Notify-based
// shutdown) rather than cmd/gateway's MarbleRun enclave bootstrap, which
// has no analog here.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"math/big"
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

	"github.com/batchauction/engine/internal/autopilot"
	"github.com/batchauction/engine/internal/badsubject"
	"github.com/batchauction/engine/internal/chain"
	"github.com/batchauction/engine/internal/competition"
	"github.com/batchauction/engine/internal/domain"
	"github.com/batchauction/engine/internal/eventindexer"
	"github.com/batchauction/engine/internal/orderstore"
	"github.com/batchauction/engine/internal/platform/erc20"
	"github.com/batchauction/engine/internal/platform/metrics"
	"github.com/batchauction/engine/internal/platform/priceoracle"
	"github.com/batchauction/engine/internal/platform/pricecache"
	"github.com/batchauction/engine/internal/settlementtracker"
	"github.com/batchauction/engine/internal/verifier"
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
	log := logrus.WithField("app", "autopilot")

	ethrpc := flag.String("ethrpc", envDefault("AUTOPILOT_ETHRPC", ""), "Ethereum JSON-RPC endpoint")
	dbURL := flag.String("db-url", envDefault("AUTOPILOT_DB_URL", ""), "Postgres connection string")
	chainID := flag.Int64("chain", int64(envIntDefault("AUTOPILOT_CHAIN", 1)), "chain id, used to derive the settlement domain separator")
	driversFlag := flag.String("drivers", envDefault("AUTOPILOT_DRIVERS", ""), "comma-separated name|url|address[|https] solver driver entries")
	cadenceSeconds := flag.Int("auction-cadence", envIntDefault("AUTOPILOT_AUCTION_CADENCE", 2), "seconds between auction build attempts")
	submissionDeadlineBlocks := flag.Int("submission-deadline", envIntDefault("AUTOPILOT_SUBMISSION_DEADLINE", 3), "blocks a winning solution has to settle")
	maxReorgDepth := flag.Int("max-reorg-depth", envIntDefault("AUTOPILOT_MAX_REORG_DEPTH", 64), "blocks the event indexer re-scans on every tick")
	settlementAddr := flag.String("settlement-addr", envDefault("AUTOPILOT_SETTLEMENT_ADDR", ""), "settlement contract address")
	vaultRelayer := flag.String("vault-relayer", envDefault("AUTOPILOT_VAULT_RELAYER", ""), "vault relayer address allowances are checked against")
	priceFeedURL := flag.String("price-feed-url", envDefault("AUTOPILOT_PRICE_FEED_URL", ""), "native-token price feed base URL")
	metricsAddr := flag.String("metrics-addr", envDefault("AUTOPILOT_METRICS_ADDR", ":9102"), "address to serve /metrics on")
	cleanupRetention := flag.Duration("cleanup-retention", durationEnv("AUTOPILOT_CLEANUP_RETENTION", 30*24*time.Hour), "age at which auctions/settlement_executions rows are purged")
	flag.Parse()

	if *ethrpc == "" || *dbURL == "" || *settlementAddr == "" || *driversFlag == "" {
		log.Error("--ethrpc, --db-url, --settlement-addr and --drivers are required")
		return exitMisconfigured
	}

	m := metrics.New("autopilot", prometheus.DefaultRegisterer)

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

	drivers, err := parseDrivers(*driversFlag)
	if err != nil {
		log.WithError(err).Error("parse --drivers")
		return exitMisconfigured
	}
	driverClients := make([]*competition.DriverClient, 0, len(drivers))
	for _, d := range drivers {
		dc, err := competition.NewDriverClient(d.name, d.solver, d.url, d.requireHTTPS, nil)
		if err != nil {
			log.WithError(err).Error("construct driver client")
			return exitMisconfigured
		}
		driverClients = append(driverClients, dc)
	}

	settlementContract := common.HexToAddress(*settlementAddr)

	codec, err := chain.NewSettlementCodec()
	if err != nil {
		log.WithError(err).Error("build settlement codec")
		return exitMisconfigured
	}

	balanceReader, err := erc20.New(client, common.HexToAddress(*vaultRelayer))
	if err != nil {
		log.WithError(err).Error("build balance reader")
		return exitMisconfigured
	}

	indexerRepo := eventindexer.NewRepository(db)
	sources := []eventindexer.EventSource{
		eventindexer.NewSettlementSource(client, settlementContract),
		eventindexer.NewTradeSource(client, settlementContract),
		eventindexer.NewOrderInvalidatedSource(client, settlementContract),
		eventindexer.NewPreSignatureSource(client, settlementContract),
	}
	indexer := eventindexer.New(client, indexerRepo, sources, uint64(*maxReorgDepth), m)

	orders := orderstore.New(db, balanceReader, m)

	var priceSource autopilot.NativePriceOracle
	if *priceFeedURL != "" {
		cache, err := pricecache.New(pricecache.Config{})
		if err != nil {
			log.WithError(err).Error("build price cache")
			return exitMisconfigured
		}
		oracle, err := priceoracle.New(*priceFeedURL, false, nil, cache)
		if err != nil {
			log.WithError(err).Error("build price oracle")
			return exitMisconfigured
		}
		priceSource = oracle
	} else {
		log.Warn("no --price-feed-url configured; every auction will build with zero priced tokens")
		priceSource = noPriceOracle{}
	}

	auctionStore := autopilot.NewStore(db)
	feePolicyRepo := autopilot.NewFeePolicyRepository(db)
	builder := autopilot.New(client, orders, priceSource, auctionStore, feePolicyRepo, autopilot.Config{
		SubmissionDeadline: time.Duration(*submissionDeadlineBlocks) * 12 * time.Second,
	}, m)

	domainSeparator := domainSeparatorFor(*chainID, settlementContract)
	v := verifier.New(codec, verifier.Config{DomainSeparator: domainSeparator, SettlementAddr: settlementContract}, orders, client, feePolicyRepo)

	bsd := badsubject.New(badsubject.DefaultConfig(), m)
	bsdRepo := badsubject.NewRepository(db)
	if err := badsubject.Warm(context.Background(), bsd, bsdRepo); err != nil {
		log.WithError(err).Warn("warm bad-subject table; starting cold")
	}
	bsdPersister := badsubject.NewPersister(bsd, bsdRepo)
	bsdCron, err := bsdPersister.Schedule("@every 30s")
	if err != nil {
		log.WithError(err).Error("schedule bad-subject persister")
		return exitMisconfigured
	}
	defer bsdCron.Stop()

	compRepo := competition.NewSQLStore(db)
	coordinator := competition.New(driverClients, v, compRepo, bsd, 0, m)

	trackerRepo := settlementtracker.NewRepository(db)
	tracker := settlementtracker.New(trackerRepo, client, codec, indexerRepo, orders, settlementtracker.Config{
		MaxReorgDepth: uint64(*maxReorgDepth),
		Quality:       v,
		Auctions:      auctionStore,
		Orders:        orders,
		Competition:   compRepo,
	})
	trackerCron, err := tracker.Schedule("@every 10s")
	if err != nil {
		log.WithError(err).Error("schedule settlement tracker")
		return exitMisconfigured
	}
	defer trackerCron.Stop()

	cleanup := autopilot.NewCleanup(db, *cleanupRetention)
	cleanupCron, err := cleanup.Schedule("@every 1h")
	if err != nil {
		log.WithError(err).Error("schedule cleanup")
		return exitMisconfigured
	}
	defer cleanupCron.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go indexer.Run(ctx, time.Second)
	defer indexer.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- driveAuctions(ctx, builder, coordinator, log, time.Duration(*cadenceSeconds)*time.Second) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutdown requested")
	case err := <-runErr:
		if err != nil {
			log.WithError(err).Error("auction driving loop failed")
			cancel()
			_ = metricsServer.Close()
			return exitRuntimeFailure
		}
	}

	cancel()
	_ = metricsServer.Close()
	return exitOK
}

// driveAuctions ticks Builder at cadence, feeding every auction it
// actually produces into Coordinator.Run. autopilot.Builder.Run only
// logs a built auction's own errors and never hands the result to a
// caller, so this loop calls Tick directly instead of Run -- Tick
// returns a nil auction when the tip hasn't moved or a build is already
// in flight, which driveAuctions treats as "nothing to do this tick".
func driveAuctions(ctx context.Context, builder *autopilot.Builder, coordinator *competition.Coordinator, log *logrus.Entry, cadence time.Duration) error {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			auction, err := builder.Tick(ctx)
			if err != nil {
				log.WithError(err).Warn("auction build failed")
				continue
			}
			if auction == nil {
				continue
			}
			if _, err := coordinator.Run(ctx, auction); err != nil {
				log.WithError(err).WithField("auction_id", auction.ID).Warn("competition run failed")
			}
		}
	}
}

type driverEntry struct {
	name         string
	url          string
	solver       common.Address
	requireHTTPS bool
}

// parseDrivers parses --drivers entries shaped name|url|address[|https],
// per spec.md §6's CLI surface.
func parseDrivers(raw string) ([]driverEntry, error) {
	var out []driverEntry
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) < 3 {
			return nil, fmt.Errorf("driver entry %q must be name|url|address[|https]", entry)
		}
		d := driverEntry{name: parts[0], url: parts[1], solver: common.HexToAddress(parts[2])}
		if len(parts) >= 4 && strings.EqualFold(parts[3], "https") {
			d.requireHTTPS = true
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no driver entries parsed")
	}
	return out, nil
}

func domainSeparatorFor(chainID int64, settlementContract common.Address) [32]byte {
	return domain.ComputeDomainSeparator(big.NewInt(chainID), settlementContract)
}

// noPriceOracle is a last-resort stand-in when no --price-feed-url is
// configured; every lookup fails, which causes every order to be
// dropped from the auction per spec.md §4.3 step 3 rather than priced
// incorrectly.
type noPriceOracle struct{}

func (noPriceOracle) NativePrice(ctx context.Context, token common.Address, atBlock uint64) (*big.Int, bool) {
	return nil, false
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

func durationEnv(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
