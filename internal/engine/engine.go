package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	internalcommon "github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/confirmation"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/db"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/decoder"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/metrics"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/migrations"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/reconciler"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/rpc"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/scanner"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/store"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/subscriber"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/api"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
	pkgrpc "github.com/wjz5788/leverageguard-attestor-sub002/pkg/rpc"
	"golang.org/x/sync/errgroup"
)

const stopTimeout = 5 * time.Second

// ErrNoConfig is returned when the engine is built without a configuration.
var ErrNoConfig = errors.New("configuration is required")

// Engine owns the database handle, the RPC clients and every reconciliation component.
type Engine struct {
	cfg *config.Config

	db          *sql.DB
	maintenance db.Maintenance

	client pkgrpc.EthClient
	stream pkgrpc.EthClient

	cursor *store.CursorStore
	orders *store.OrderStore
	ledger *store.Ledger

	pipeline   *reconciler.Pipeline
	scanner    *scanner.Scanner
	subscriber *subscriber.Subscriber
	sweeper    *reconciler.Sweeper

	metricsServer *metrics.Server
	apiServer     *api.Server

	log *logger.Logger
}

// New dials the configured endpoints, migrates and opens the database and wires the engine.
// cfg must already carry defaults and be validated.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, ErrNoConfig
	}

	r := &cfg.Reconciler
	log := logger.NewComponentLoggerFromConfig(internalcommon.ComponentEngine, cfg.Logging)
	rpcLog := logger.NewComponentLoggerFromConfig(internalcommon.ComponentRPC, cfg.Logging)

	log.Infow("connecting to RPC endpoint", "url", r.RPCURL)
	client, err := rpc.NewClient(ctx, r.RPCURL, r.Retry,
		rpc.WithRequestTimeout(r.RequestTimeout.Duration),
		rpc.WithLogger(rpcLog),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}

	var stream pkgrpc.EthClient = client
	if url := r.SubscriptionURL(); url != r.RPCURL {
		log.Infow("connecting to subscription endpoint", "url", url)
		wsClient, err := rpc.NewClient(ctx, url, r.Retry,
			rpc.WithRequestTimeout(r.RequestTimeout.Duration),
			rpc.WithLogger(rpcLog),
		)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create subscription client: %w", err)
		}
		stream = wsClient
	}

	// the node must answer before anything touches the database
	if _, err := client.BlockNumber(ctx); err != nil {
		closeClients(client, stream)
		return nil, fmt.Errorf("RPC endpoint unreachable: %w", err)
	}

	database, err := OpenDatabase(cfg)
	if err != nil {
		closeClients(client, stream)
		return nil, err
	}

	e, err := build(cfg, database, client, stream)
	if err != nil {
		_ = database.Close()
		closeClients(client, stream)
		return nil, err
	}

	return e, nil
}

// OpenDatabase runs the schema migrations and opens the reconciler database.
func OpenDatabase(cfg *config.Config) (*sql.DB, error) {
	if err := migrations.RunMigrations(cfg.Reconciler.DB); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.Reconciler.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return database, nil
}

func build(cfg *config.Config, database *sql.DB, client, stream pkgrpc.EthClient) (*Engine, error) {
	r := &cfg.Reconciler
	componentLog := func(component string) *logger.Logger {
		return logger.NewComponentLoggerFromConfig(component, cfg.Logging)
	}

	maintenance := db.NewMaintenanceCoordinator(
		r.DB.Path,
		database,
		r.Maintenance,
		componentLog(internalcommon.ComponentMaintenance),
	)

	cursor := store.NewCursorStore(database, componentLog(internalcommon.ComponentCursorStore), maintenance)
	orders := store.NewOrderStore(database, componentLog(internalcommon.ComponentOrderStore), maintenance)
	ledger := store.NewLedger(database, componentLog(internalcommon.ComponentLedger), maintenance)

	dec, err := decoder.New(decoder.Config{ABIPath: r.ABIPath, Disable: r.DisableABI},
		componentLog(internalcommon.ComponentDecoder))
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	var verifier reconciler.TransferFinder
	if r.VerifyTransfer {
		verifier = decoder.NewTransferVerifier(client, componentLog(internalcommon.ComponentDecoder))
	}

	tracker := confirmation.NewTracker(r.Confirmations)
	matcherLog := componentLog(internalcommon.ComponentMatcher)

	matcher := reconciler.NewMatcher(
		reconciler.MatcherConfig{
			Token:    r.Token(),
			Treasury: r.Treasury(),
			Policy:   r.MismatchPolicy,
		},
		ledger,
		orders,
		tracker,
		verifier,
		matcherLog,
	)
	pipeline := reconciler.NewPipeline(dec, matcher, matcherLog)

	scan := scanner.New(
		scanner.Config{
			Contract:      r.Contract(),
			StartBlock:    r.StartBlock,
			ChunkSize:     r.ChunkSize,
			ChunkDelay:    r.ChunkDelay.Duration,
			MaxChunkDelay: r.MaxChunkDelay.Duration,
			ChunkTimeout:  r.ChunkTimeout.Duration,
		},
		client,
		cursor,
		pipeline,
		componentLog(internalcommon.ComponentScanner),
	)

	sub := subscriber.New(
		subscriber.Config{
			Contract:     r.Contract(),
			PollInterval: r.PollInterval.Duration,
			Retry:        r.Retry,
		},
		stream,
		pipeline,
		componentLog(internalcommon.ComponentSubscriber),
	)

	sweeper := reconciler.NewSweeper(
		orders,
		client,
		pipeline,
		tracker,
		r.SweepInterval.Duration,
		componentLog(internalcommon.ComponentSweeper),
	)

	e := &Engine{
		cfg:         cfg,
		db:          database,
		maintenance: maintenance,
		client:      client,
		stream:      stream,
		cursor:      cursor,
		orders:      orders,
		ledger:      ledger,
		pipeline:    pipeline,
		scanner:     scan,
		subscriber:  sub,
		sweeper:     sweeper,
		log:         componentLog(internalcommon.ComponentEngine),
	}

	if cfg.Metrics != nil {
		e.metricsServer = metrics.NewServer(cfg.Metrics, e.log)
	}

	if cfg.API != nil {
		e.apiServer = api.NewServer(cfg.API, api.Sources{
			Cursor: cursor,
			Orders: orders,
			Ledger: ledger,
			Chain:  client,
		}, componentLog(internalcommon.ComponentAPI))
	}

	return e, nil
}

// Run backfills up to the current tip, then keeps the orders in sync until ctx is done.
// The subscriber, periodic backfill, confirmation sweeper and ops API share one errgroup;
// the first of them to fail stops the rest.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start database maintenance: %w", err)
	}
	defer func() {
		if err := e.maintenance.Stop(); err != nil {
			e.log.Warnw("failed to stop database maintenance", "error", err)
		}
	}()

	if e.metricsServer != nil {
		if err := e.metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := e.metricsServer.Stop(stopCtx); err != nil {
				e.log.Warnw("failed to stop metrics server", "error", err)
			}
		}()
	}

	metrics.ComponentHealthSet(internalcommon.ComponentEngine, true)
	defer metrics.ComponentHealthSet(internalcommon.ComponentEngine, false)

	e.log.Infow("starting initial backfill",
		"contract", e.cfg.Reconciler.ContractAddress,
		"start_block", e.cfg.Reconciler.StartBlock,
		"confirmations", e.cfg.Reconciler.Confirmations,
	)

	next, err := e.scanner.Backfill(ctx)
	if err != nil {
		if ctx.Err() != nil {
			e.log.Infow("initial backfill interrupted", "cursor", next)
			return nil
		}
		return fmt.Errorf("initial backfill failed: %w", err)
	}

	e.log.Infow("initial backfill complete, following the chain", "cursor", next)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.subscriber.Run(gCtx, next)
	})

	g.Go(func() error {
		return e.scanner.Run(gCtx, e.cfg.Reconciler.BackfillInterval.Duration)
	})

	g.Go(func() error {
		return e.sweeper.Run(gCtx)
	})

	if e.apiServer != nil {
		g.Go(func() error {
			return e.apiServer.Start(gCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	e.log.Info("reconciler stopped")
	return nil
}

// Backfill runs a single scan pass from the cursor to the current tip.
func (e *Engine) Backfill(ctx context.Context) (uint64, error) {
	return e.scanner.Backfill(ctx)
}

// Sweep re-checks provisional payments once.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	return e.sweeper.Sweep(ctx)
}

// Cursor exposes the cursor store for operator commands.
func (e *Engine) Cursor() *store.CursorStore {
	return e.cursor
}

// Close releases the RPC clients and the database.
func (e *Engine) Close() error {
	closeClients(e.client, e.stream)

	if err := e.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

func closeClients(client, stream pkgrpc.EthClient) {
	if stream != nil && stream != client {
		stream.Close()
	}
	if client != nil {
		client.Close()
	}
}
