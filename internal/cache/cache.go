/**
 * Anchor Configuration Cache
 *
 * Caches loaded extractor configurations per church and extractor. Entries
 * expire after a TTL and are dropped explicitly when an extractor changes.
 */

package cache

import (
	"context"
	"fmt"

	"github.com/adverant/nexus/recordfusion/internal/storage"
)

// AnchorCache stores extractor configurations keyed by church and extractor
type AnchorCache interface {
	// Get returns the cached config and whether it was present
	Get(ctx context.Context, churchID, extractorID int64) (*storage.ExtractorConfig, bool, error)
	Set(ctx context.Context, churchID, extractorID int64, cfg *storage.ExtractorConfig) error
	Invalidate(ctx context.Context, churchID, extractorID int64) error
}

// Key returns the cache key for one extractor of one church
func Key(churchID, extractorID int64) string {
	return fmt.Sprintf("recordfusion:anchors:church:%d:extractor:%d", churchID, extractorID)
}
