// Package ingest turns purchase-win spreadsheets into PurchaseRecord
// batches. It is the concrete record source consumed by the polling
// driver; mailbox retrieval of the files themselves is out of scope.
package ingest

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/SystemCRM24/tendersync/internal/model"
)

// Source yields one finite, ordered batch of purchase records per load,
// stamped with the batch's extraction time.
type Source interface {
	Load(ctx context.Context) ([]model.PurchaseRecord, time.Time, error)
}

// XLSXSource reads a winners spreadsheet from disk. The file's
// modification time serves as the extraction timestamp of the batch.
type XLSXSource struct {
	Path string
}

// NewXLSXSource creates a source for the given spreadsheet path.
func NewXLSXSource(path string) *XLSXSource {
	return &XLSXSource{Path: path}
}

// Load parses the spreadsheet into records in row order.
func (s *XLSXSource) Load(ctx context.Context) ([]model.PurchaseRecord, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	info, err := os.Stat(s.Path)
	if err != nil {
		return nil, time.Time{}, eris.Wrapf(err, "ingest: stat %s", s.Path)
	}
	// The archive keeps whole-second timestamps; a sub-second mtime would
	// read back as "newer than its own archive entry" and defeat the
	// reprocessing gate.
	extractedAt := info.ModTime().UTC().Truncate(time.Second)

	records, err := ParseFile(s.Path, extractedAt)
	if err != nil {
		return nil, time.Time{}, err
	}
	return records, extractedAt, nil
}
