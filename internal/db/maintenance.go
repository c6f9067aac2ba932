package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
)

// Maintenance serializes SQLite housekeeping against regular store operations.
type Maintenance interface {
	// Start begins background maintenance if enabled.
	Start(ctx context.Context) error
	// Stop stops background maintenance and waits for completion.
	Stop() error
	// AcquireOperationLock acquires a shared lock for a store operation.
	// The returned function releases it.
	AcquireOperationLock() func()
	// GetMetrics returns current maintenance metrics.
	GetMetrics() MaintenanceMetrics
	// RunMaintenance performs database maintenance operations (for manual invocation).
	RunMaintenance(ctx context.Context) error
}

// NoOpMaintenance is used when maintenance is not configured.
type NoOpMaintenance struct{}

func (m *NoOpMaintenance) Start(ctx context.Context) error { return nil }
func (m *NoOpMaintenance) Stop() error { return nil }
func (m *NoOpMaintenance) RunMaintenance(ctx context.Context) error { return nil }
func (m *NoOpMaintenance) AcquireOperationLock() func() { return func() {} }
func (m *NoOpMaintenance) GetMetrics() MaintenanceMetrics { return MaintenanceMetrics{} }

// MaintenanceCoordinator runs WAL checkpoints and VACUUM while holding the write side of
// an RWMutex. Store operations hold the read side, so they run concurrently with each
// other and never overlap with maintenance.
type MaintenanceCoordinator struct {
	db     *sql.DB
	config config.MaintenanceConfig
	dbPath string
	log    *logger.Logger

	opLock sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	metricsLock sync.Mutex
	metrics     MaintenanceMetrics
}

// NewMaintenanceCoordinator returns a coordinator for the database at dbPath,
// or a NoOpMaintenance when cfg is nil.
func NewMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg *config.MaintenanceConfig,
	log *logger.Logger,
) Maintenance {
	if cfg == nil {
		return &NoOpMaintenance{}
	}

	return newMaintenanceCoordinator(dbPath, db, *cfg, log)
}

func newMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg config.MaintenanceConfig,
	log *logger.Logger,
) *MaintenanceCoordinator {
	return &MaintenanceCoordinator{
		db:     db,
		config: cfg,
		dbPath: dbPath,
		log:    log.WithComponent(common.ComponentMaintenance),
	}
}

// Start begins background maintenance if enabled.
func (m *MaintenanceCoordinator) Start(ctx context.Context) error {
	if !m.config.Enabled {
		m.log.Info("background maintenance is disabled")
		return nil
	}

	if m.config.CheckInterval.Duration <= 0 {
		return fmt.Errorf("maintenance check interval must be positive, got %s", m.config.CheckInterval.Duration)
	}

	ctx, m.cancel = context.WithCancel(ctx)

	if m.config.VacuumOnStartup {
		m.log.Info("running startup maintenance")
		if err := m.RunMaintenance(ctx); err != nil {
			m.log.Warnf("startup maintenance failed: %v", err)
		}
	}

	m.wg.Add(1)
	go m.worker(ctx, m.config.CheckInterval.Duration)

	m.log.Infow("background maintenance started",
		"interval", m.config.CheckInterval.Duration,
		"checkpoint_mode", m.config.WALCheckpointMode,
	)

	return nil
}

// Stop stops background maintenance and waits for completion.
func (m *MaintenanceCoordinator) Stop() error {
	if m.cancel == nil {
		return nil
	}

	m.cancel()
	m.wg.Wait()
	m.log.Info("background maintenance stopped")

	return nil
}

func (m *MaintenanceCoordinator) worker(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunMaintenance(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Warnf("periodic maintenance failed: %v", err)
			}
		}
	}
}

// RunMaintenance checkpoints the WAL and vacuums the database.
// It blocks new store operations until done.
func (m *MaintenanceCoordinator) RunMaintenance(ctx context.Context) error {
	start := time.Now()
	MaintenanceRunsInc()

	m.opLock.Lock()
	defer m.opLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	initialSize, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnf("failed to get initial DB size: %v", err)
	}

	var maintenanceErr error
	if err := m.walCheckpoint(ctx); err != nil {
		maintenanceErr = fmt.Errorf("WAL checkpoint failed: %w", err)
	}

	if err := m.vacuum(ctx); err != nil {
		maintenanceErr = errors.Join(maintenanceErr, fmt.Errorf("VACUUM failed: %w", err))
	}

	finalSize, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnf("failed to get final DB size: %v", err)
	}

	duration := time.Since(start)

	m.metricsLock.Lock()
	m.metrics.LastMaintenanceTime = time.Now().UTC()
	m.metrics.MaintenanceCount++
	m.metrics.LastMaintenanceError = maintenanceErr
	m.metricsLock.Unlock()

	MaintenanceDurationLog(duration)
	DBSizeLog(finalSize)

	if maintenanceErr != nil {
		MaintenanceErrorInc()
		m.log.Warnf("maintenance completed with errors in %v: %v", duration, maintenanceErr)
		return maintenanceErr
	}

	MaintenanceSuccessInc()
	if initialSize > finalSize {
		reclaimed := uint64(initialSize - finalSize)
		MaintenanceSpaceReclaimedLog(reclaimed)
		m.log.Infof("maintenance completed in %v, reclaimed %d MB", duration, common.BytesToMB(reclaimed))
	} else {
		m.log.Infof("maintenance completed in %v", duration)
	}

	return nil
}

func (m *MaintenanceCoordinator) walCheckpoint(ctx context.Context) error {
	var mode string
	if err := m.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}

	if !strings.EqualFold(mode, "wal") {
		m.log.Debug("database not in WAL mode, skipping WAL checkpoint")
		return nil
	}

	var busy, logFrames, checkpointed int
	query := fmt.Sprintf("PRAGMA wal_checkpoint(%s)", m.config.WALCheckpointMode)
	if err := m.db.QueryRowContext(ctx, query).Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("failed to execute WAL checkpoint: %w", err)
	}

	WALCheckpointInc(strings.ToLower(m.config.WALCheckpointMode))
	m.log.Debugw("WAL checkpoint complete",
		"mode", m.config.WALCheckpointMode,
		"busy", busy,
		"log_frames", logFrames,
		"checkpointed", checkpointed,
	)

	if busy > 0 {
		m.log.Warnf("WAL checkpoint encountered %d busy pages", busy)
	}

	return nil
}

func (m *MaintenanceCoordinator) vacuum(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, "VACUUM"); err != nil {
		if strings.Contains(err.Error(), "database is locked") {
			return fmt.Errorf("cannot vacuum: database is locked (retry later)")
		}
		return err
	}

	VacuumRunsInc()
	return nil
}

// AcquireOperationLock acquires the shared side of the maintenance lock.
func (m *MaintenanceCoordinator) AcquireOperationLock() func() {
	m.opLock.RLock()
	return m.opLock.RUnlock
}

// GetMetrics returns current maintenance metrics.
func (m *MaintenanceCoordinator) GetMetrics() MaintenanceMetrics {
	m.metricsLock.Lock()
	defer m.metricsLock.Unlock()

	return m.metrics
}

// MaintenanceMetrics provides visibility into maintenance operations.
type MaintenanceMetrics struct {
	LastMaintenanceTime  time.Time
	MaintenanceCount     uint64
	LastMaintenanceError error
}
