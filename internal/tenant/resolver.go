/**
 * Tenant Resolver
 *
 * Maps a church id to its own database. Handles are opened lazily from a
 * DSN template and kept for the life of the process.
 */

package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	apperrors "github.com/adverant/nexus/recordfusion/internal/errors"
	"github.com/adverant/nexus/recordfusion/internal/logging"
	"github.com/adverant/nexus/recordfusion/internal/storage"
)

// Placeholder replaced by the church id in the DSN template
const Placeholder = "{church_id}"

// Resolver hands out one SQL store per church
type Resolver struct {
	dialect  storage.Dialect
	template string
	pool     storage.PoolOptions
	logger   *logging.Logger
	open     func(ctx context.Context, dialect storage.Dialect, dsn string, opts storage.PoolOptions) (*sql.DB, error)

	mu     sync.Mutex
	stores map[int64]*storage.SQLStore
}

// NewResolver creates a resolver for driver and a DSN template containing {church_id}
func NewResolver(driver, template string, pool storage.PoolOptions, logger *logging.Logger) (*Resolver, error) {
	dialect, err := storage.ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(template, Placeholder) {
		return nil, fmt.Errorf("DSN template must contain %s", Placeholder)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{
		dialect:  dialect,
		template: template,
		pool:     pool,
		logger:   logger,
		open:     storage.Open,
		stores:   make(map[int64]*storage.SQLStore),
	}, nil
}

// DSN renders the template for a church
func (r *Resolver) DSN(churchID int64) string {
	return strings.ReplaceAll(r.template, Placeholder, strconv.FormatInt(churchID, 10))
}

// Dialect returns the SQL dialect shared by every tenant
func (r *Resolver) Dialect() storage.Dialect {
	return r.dialect
}

// Store returns the store for churchID, opening it on first use.
// Opening happens outside the lock; a slow tenant only delays its own callers.
func (r *Resolver) Store(ctx context.Context, churchID int64) (*storage.SQLStore, error) {
	if churchID <= 0 {
		return nil, apperrors.NewInvalidInputError("church id must be positive", nil)
	}

	r.mu.Lock()
	s, ok := r.stores[churchID]
	r.mu.Unlock()
	if ok {
		return s, nil
	}

	db, err := r.open(ctx, r.dialect, r.DSN(churchID), r.pool)
	if err != nil {
		r.logger.Warn("Tenant database unavailable", "church_id", churchID, "error", err.Error())
		return nil, apperrors.NewTenantNotFoundError(churchID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have opened the same tenant meanwhile
	if existing, ok := r.stores[churchID]; ok {
		if err := db.Close(); err != nil {
			r.logger.Warn("Error closing duplicate tenant handle", "church_id", churchID, "error", err.Error())
		}
		return existing, nil
	}

	s = storage.NewSQLStore(db, r.dialect, r.logger.With("church_id", churchID))
	r.stores[churchID] = s
	r.logger.Info("Opened tenant database", "church_id", churchID, "driver", string(r.dialect))
	return s, nil
}

// Close closes every opened tenant database
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, s := range r.stores {
		if err := s.DB().Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close tenant %d: %w", id, err)
		}
		delete(r.stores, id)
	}
	return firstErr
}
