package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/russross/meddler"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/db"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	pkgstore "github.com/wjz5788/leverageguard-attestor-sub002/pkg/store"
)

// Compile-time check to ensure CursorStore implements pkgstore.CursorStore interface.
var _ pkgstore.CursorStore = (*CursorStore)(nil)

const upsertCursorQuery = `
	INSERT INTO chain_cursor (id, last_block, updated_at) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET last_block = excluded.last_block, updated_at = excluded.updated_at
`

// CursorStore keeps the scanner position in the chain_cursor singleton row.
type CursorStore struct {
	db          *sql.DB
	log         *logger.Logger
	maintenance db.Maintenance
}

// NewCursorStore creates a new CursorStore.
func NewCursorStore(sqlDB *sql.DB, log *logger.Logger, maintenance db.Maintenance) *CursorStore {
	if maintenance == nil {
		maintenance = &db.NoOpMaintenance{}
	}

	return &CursorStore{
		db:          sqlDB,
		log:         log.WithComponent(common.ComponentCursorStore),
		maintenance: maintenance,
	}
}

// Get returns the next block to scan, 0 when the cursor was never written.
func (s *CursorStore) Get(ctx context.Context) (uint64, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	cursor, err := s.read(s.db)
	if err != nil {
		return 0, err
	}

	return cursor.LastBlock, nil
}

// Set advances the cursor. Rewinds are refused with ErrCursorRewind.
func (s *CursorStore) Set(ctx context.Context, block uint64) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.read(tx)
	if err != nil {
		return err
	}

	if block < current.LastBlock {
		return fmt.Errorf("%w: stored %d, requested %d", pkgstore.ErrCursorRewind, current.LastBlock, block)
	}

	if _, err := tx.ExecContext(ctx, upsertCursorQuery, block, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cursor: %w", err)
	}

	CursorBlockSet(block)
	s.log.Debugw("cursor advanced", "from", current.LastBlock, "to", block)

	return nil
}

// Reset overwrites the cursor, allowing it to move backwards.
func (s *CursorStore) Reset(ctx context.Context, block uint64) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	if _, err := s.db.ExecContext(ctx, upsertCursorQuery, block, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}

	CursorBlockSet(block)
	s.log.Warnw("cursor reset", "block", block)

	return nil
}

func (s *CursorStore) read(q meddler.DB) (*pkgstore.ChainCursor, error) {
	var cursor pkgstore.ChainCursor

	err := meddler.QueryRow(q, &cursor, `SELECT * FROM chain_cursor WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return &pkgstore.ChainCursor{ID: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	}

	return &cursor, nil
}
