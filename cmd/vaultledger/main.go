package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"VaultLedger/internal/chain"
	"VaultLedger/internal/chain/memchain"
	"VaultLedger/internal/config"
	"VaultLedger/internal/core"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/pipeline"
	"VaultLedger/internal/position"
	"VaultLedger/internal/projection"
	"VaultLedger/internal/query"
	"VaultLedger/internal/scheduler"
	"VaultLedger/internal/server"
	"VaultLedger/internal/staking"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const actorQueueSize = 1024

// devVault is the vault account used with VAULT_NO_CHAIN when the params
// file names none.
var devVault = common.HexToAddress("0x000000000000000000000000000000000000fa17")

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: VaultLedger starting...")

	if err := run(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	log.Println("INFO: VaultLedger shutdown complete")
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	paramsFile := cfg.ParamsFile
	if _, err := os.Stat(paramsFile); errors.Is(err, fs.ErrNotExist) {
		log.Printf("WARN: params file %s not found, using defaults", paramsFile)
		paramsFile = ""
	}
	params, err := config.LoadParams(paramsFile)
	if err != nil {
		return fmt.Errorf("params: %w", err)
	}

	logger := observability.NewLogger("vaultledger")
	metrics := observability.NewMetrics()
	deps := []string{"postgres", "recovery"}
	if !cfg.DisableNATS {
		deps = append(deps, "nats")
	}
	health := observability.NewHealthChecker(deps...)

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	log.Println("INFO: Postgres connected")

	if err := persistence.NewMigrator(db, logger).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	health.SetReady("postgres", true)

	// --- External collaborators ---
	var ext collaborators
	if cfg.NoChain {
		log.Println("WARN: VAULT_NO_CHAIN set, custody and venue are in memory and reset on restart")
		ext = memoryCollaborators(cfg, params)
	} else {
		ext, err = chainCollaborators(ctx, cfg, params, logger)
		if err != nil {
			return err
		}
		log.Printf("INFO: chain %d connected, vault %s", cfg.ChainID, ext.vault.Hex())
	}

	// --- Engine ---
	table, err := params.WeightTable()
	if err != nil {
		return err
	}
	pcfg := params.PositionConfig(position.DefaultConfig())
	pcfg.Vault = ext.vault
	if err := pcfg.Validate(); err != nil {
		return fmt.Errorf("position config: %w", err)
	}

	rewardLedger := ledger.NewRewardLedger()
	positions := position.NewManager(pcfg, ext.venue, ext.treasury, rewardLedger, nil, logger)
	machine := staking.NewMachine(staking.Deps{
		Ledger:      rewardLedger,
		Table:       table,
		Custody:     ext.custody,
		Settlement:  ext.settlement,
		Obligations: positions,
		Vault:       ext.vault,
		Logger:      logger,
	})

	// persist channel blocks (backpressure), projection channel drops
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	engine := core.NewEngine(
		core.Components{Ledger: rewardLedger, Machine: machine, Positions: positions},
		persistCoreChan,
		projectionCoreChan,
		persistence.NewPostgresIdempotencyChecker(db),
		metrics,
		logger,
	)

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	recoverer := &pipeline.Recoverer{
		DB:          db,
		Snapshots:   snapMgr,
		LRUCapacity: cfg.IdempotencyLRUCapacity,
		Metrics:     metrics,
		Logger:      logger,
	}
	stats, err := recoverer.Recover(ctx, engine)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	health.SetReady("recovery", true)
	log.Printf("INFO: recovered (snapshot=%d, replayed=%d, sequence=%d)",
		stats.SnapshotSequence, stats.Replayed, stats.LastSequence)

	actor := core.NewActor(engine, actorQueueSize, logger)
	coreCtx, stopCore := context.WithCancel(context.Background())
	defer stopCore()
	actorDone := make(chan error, 1)
	go func() { actorDone <- actor.Run(coreCtx) }()

	// --- Output pipeline ---
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	bridge := &pipeline.Bridge{
		PersistIn:     persistCoreChan,
		ProjectionIn:  projectionCoreChan,
		PersistOut:    persistWorkerChan,
		ProjectionOut: projectionWorkerChan,
		Metrics:       metrics,
		Logger:        logger,
	}

	// --- NATS ---
	var (
		subscriber *ingestion.NATSSubscriber
		publisher  *ingestion.OutboundPublisher
		rawChan    chan ingestion.RawCommand
	)
	if !cfg.DisableNATS {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		rawChan = make(chan ingestion.RawCommand, 4096)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, logger)
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
		bridge.PublishOut = publishChan
		publisher = ingestion.NewOutboundPublisher(js, publishChan, metrics, logger)
		health.SetReady("nats", true)
		log.Println("INFO: NATS connected")
	}

	// The back group runs until the engine's output channels close, so
	// everything committed is flushed before exit.
	var back errgroup.Group
	failed := func(name string, err error) error {
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ERROR: %s failed: %v, shutting down...", name, err)
			cancel()
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
	drainCtx := context.Background()
	back.Go(func() error { return failed("persist bridge", bridge.RunPersist(drainCtx)) })
	back.Go(func() error { return failed("projection bridge", bridge.RunProjection(drainCtx)) })
	back.Go(func() error {
		w := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, logger)
		return failed("persistence worker", w.Run(drainCtx))
	})
	back.Go(func() error {
		w := projection.NewProjectionWorker(db, projectionWorkerChan, metrics, logger)
		return failed("projection worker", w.Run(drainCtx))
	})
	if publisher != nil {
		back.Go(func() error { return failed("publisher", publisher.Run(drainCtx)) })
	}

	// --- Front: everything that submits commands or serves reads ---
	ingest := ingestion.NewDirectIngestService(actor)
	snapshotter := pipeline.NewSnapshotter(actor, snapMgr, nil, metrics, logger)
	sched, err := scheduler.NewRebalanceScheduler(scheduler.Config{
		Interval:   cfg.RebalanceInterval,
		Rebalancer: ingest,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	front, fctx := errgroup.WithContext(sigCtx)
	front.Go(func() error { return failed("scheduler", sched.Run(fctx)) })
	front.Go(func() error { return failed("snapshotter", snapshotter.Run(fctx, cfg.SnapshotInterval)) })
	front.Go(func() error { return failed("metrics server", serveMetrics(fctx, cfg.MetricsAddr)) })
	if rawChan != nil {
		dispatcher := ingestion.NewDispatcher(actor, metrics, logger)
		front.Go(func() error { return failed("dispatcher", dispatcher.Run(fctx, rawChan)) })
	}
	if !cfg.DisableServer {
		svc := server.NewVaultService(server.Deps{
			Actor:       actor,
			Ingest:      ingest,
			Queries:     query.NewQueryService(db, pcfg.SettlementIndex),
			DB:          db,
			Snapshotter: snapshotter,
			Limits:      server.NewCommandLimiter(cfg.RebalanceEvery, cfg.SeedEvery),
			Metrics:     metrics,
			Logger:      logger,
		})
		srv := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, svc, health, logger)
		front.Go(func() error { return failed("grpc server", srv.StartGRPC(fctx)) })
		front.Go(func() error { return failed("http gateway", srv.StartHTTPGateway(fctx)) })
		srv.SetServing(true)
	}

	log.Printf("INFO: VaultLedger ready (sequence=%d, grpc=%s, http=%s, metrics=%s)",
		engine.LastSequence(), cfg.GRPCAddr, cfg.HTTPAddr, cfg.MetricsAddr)

	// --- Graceful shutdown ---
	// stop intake, stop the engine, flush the outputs, then snapshot
	<-fctx.Done()
	log.Println("INFO: shutting down...")
	if subscriber != nil {
		subscriber.Stop()
	}
	frontErr := front.Wait()

	stopCore()
	if err := <-actorDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("ERROR: actor: %v", err)
	}
	close(persistCoreChan)
	close(projectionCoreChan)
	backErr := back.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if seq, size, err := snapshotter.Final(shutdownCtx, engine); err != nil {
		log.Printf("ERROR: final snapshot failed: %v", err)
	} else if size > 0 {
		log.Printf("INFO: final snapshot saved (sequence=%d, bytes=%d)", seq, size)
	}

	return errors.Join(frontErr, backErr)
}

// collaborators are the engine's external effects.
type collaborators struct {
	vault      common.Address
	custody    staking.Custody
	settlement staking.Settlement
	treasury   position.Treasury
	venue      position.Venue
}

// chainCollaborators dials the RPC endpoint and binds the contracts named
// in the params. The vault account must be the signer.
func chainCollaborators(ctx context.Context, cfg config.Config, params config.Params, logger zerolog.Logger) (collaborators, error) {
	if err := params.RequireAddresses(); err != nil {
		return collaborators{}, err
	}
	client, err := chain.Dial(ctx, cfg.RPCURL, cfg.SignerKeyHex, cfg.ChainID, cfg.ChainTimeout, logger)
	if err != nil {
		return collaborators{}, fmt.Errorf("chain: %w", err)
	}
	vault := config.Address(params.Addresses.Vault)
	if vault != client.From() {
		return collaborators{}, fmt.Errorf("vault address %s is not the signer %s", vault.Hex(), client.From().Hex())
	}

	token0 := client.ERC20(config.Address(params.Addresses.Token0))
	token1 := client.ERC20(config.Address(params.Addresses.Token1))
	settlement := token0
	if params.SettlementIndex == 1 {
		settlement = token1
	}
	rng := chain.Range{Fee: params.Venue.Fee, TickLower: params.Venue.TickLower, TickUpper: params.Venue.TickUpper}
	return collaborators{
		vault:      vault,
		custody:    client.ERC721(config.Address(params.Addresses.StakingToken)),
		settlement: settlement,
		treasury:   settlement,
		venue:      client.PositionManager(config.Address(params.Addresses.PositionManager), token0, token1, rng),
	}, nil
}

func memoryCollaborators(cfg config.Config, params config.Params) collaborators {
	vault := config.Address(params.Addresses.Vault)
	if vault == (common.Address{}) {
		vault = devVault
	}
	settlement := memchain.NewSettlement(vault)
	custody := memchain.NewCustody(vault)
	custody.AutoMint = true
	venue := memchain.NewVenue()
	venue.Settlement = settlement
	venue.SettlementIndex = params.SettlementIndex
	venue.Vault = vault
	if cfg.DevFeeDrip > 0 {
		venue.Drip = fpmath.ZeroAmounts().With(params.SettlementIndex, uint256.NewInt(uint64(cfg.DevFeeDrip)))
	}
	return collaborators{
		vault:      vault,
		custody:    custody,
		settlement: settlement,
		treasury:   settlement,
		venue:      venue,
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = srv.Shutdown(shutCtx)
	}()
	log.Printf("INFO: Metrics server listening on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
