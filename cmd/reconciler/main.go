package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/config"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/engine"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/store"
	pkgconfig "github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║         Payment Reconciler v%s          ║
║   On-chain payments to off-chain orders   ║
╚═══════════════════════════════════════════╝
`
)

var (
	configPath  string
	forceCursor bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Payment reconciler - applies on-chain payment events to orders",
	Long: `The payment reconciler watches a payment contract, records every payment event
in an append-only ledger and moves the matching orders from pending to paid once
the payment has enough confirmations. It survives restarts, reorgs and flaky RPC
endpoints by resuming from a persisted block cursor.`,
	Version: version,
	RunE:    runReconciler,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Backfill from the cursor and follow the chain",
	RunE:  runReconciler,
}

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or move the scan cursor",
}

var cursorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the next block to scan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCursor(cmd.Context(), func(ctx context.Context, cursor *store.CursorStore) error {
			block, err := cursor.Get(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), block)
			return nil
		})
	},
}

var cursorSetCmd = &cobra.Command{
	Use:   "set <block>",
	Short: "Move the cursor forward, or anywhere with --force",
	Long: `Set the next block to scan. Moving the cursor backwards is refused unless
--force is given, in which case the blocks in between are scanned again on the
next run. Re-scanning is safe: every write is idempotent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		block, err := common.ParseBlockNumber(args[0])
		if err != nil {
			return fmt.Errorf("invalid block %q: %w", args[0], err)
		}

		return withCursor(cmd.Context(), func(ctx context.Context, cursor *store.CursorStore) error {
			if forceCursor {
				err = cursor.Reset(ctx, block)
			} else {
				err = cursor.Set(ctx, block)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cursor set to %d\n", block)
			return nil
		})
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := pkgconfig.JSONSchema()
		if err != nil {
			return fmt.Errorf("failed to generate schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(schema))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml",
		"path to configuration file (RECONCILER_* environment variables override it)")
	cursorSetCmd.Flags().BoolVar(&forceCursor, "force", false, "allow moving the cursor backwards")

	cursorCmd.AddCommand(cursorShowCmd, cursorSetCmd)
	rootCmd.AddCommand(runCmd, cursorCmd, schemaCmd)
}

func runReconciler(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	log := logger.NewComponentLoggerFromConfig(common.ComponentEngine, cfg.Logging)

	e, err := engine.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.Warnw("failed to close reconciler", "error", err)
		}
	}()

	log.Infow("payment reconciler starting",
		"contract", cfg.Reconciler.ContractAddress,
		"db", cfg.Reconciler.DB.Path,
	)

	if err := e.Run(ctx); err != nil {
		return fmt.Errorf("reconciler failed: %w", err)
	}

	return nil
}

// withCursor opens the configured database for an operator command.
func withCursor(ctx context.Context, fn func(context.Context, *store.CursorStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := engine.OpenDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	log := logger.NewComponentLoggerFromConfig(common.ComponentCursorStore, cfg.Logging)

	return fn(ctx, store.NewCursorStore(database, log, nil))
}
