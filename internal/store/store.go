// Package store archives parsed purchase records and gates reprocessing
// of unchanged extraction batches. The remote CRM remains the sole source
// of truth for reconciled entities; the archive exists for batch gating
// and auditability only.
package store

import (
	"context"
	"time"

	"github.com/SystemCRM24/tendersync/internal/model"
)

// Batch describes one archived extraction batch.
type Batch struct {
	ID          string    `json:"id"`
	ExtractedAt time.Time `json:"extracted_at"`
	RecordCount int       `json:"record_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the persistence interface for the record archive.
type Store interface {
	// LatestExtraction returns the extraction timestamp of the newest
	// archived batch, or the zero time when nothing is archived yet.
	LatestExtraction(ctx context.Context) (time.Time, error)

	// SaveBatch archives one extraction batch with its records.
	SaveBatch(ctx context.Context, extractedAt time.Time, records []model.PurchaseRecord) (*Batch, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
