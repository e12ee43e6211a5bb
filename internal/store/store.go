// Package store defines persistence for computed portfolio snapshots.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The calculation core owns no state; snapshots are stored so a client can
// read the last refresh without resubmitting raw chain data.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/atmx/lending-engine/internal/model"
)

// ErrNotFound is returned when an account has no stored snapshot.
var ErrNotFound = errors.New("store: snapshot not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// SaveSnapshot appends a computed snapshot. Snapshots are never updated.
	SaveSnapshot(ctx context.Context, snap *model.PortfolioSnapshot) error

	// GetLatestSnapshot returns the most recent snapshot for an account.
	GetLatestSnapshot(ctx context.Context, account string) (*model.PortfolioSnapshot, error)

	// ListSnapshots returns up to limit snapshots for an account, newest
	// first. A limit <= 0 returns all of them.
	ListSnapshots(ctx context.Context, account string, limit int) ([]model.PortfolioSnapshot, error)
}

// AccountKey canonicalizes an account address for storage.
func AccountKey(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
