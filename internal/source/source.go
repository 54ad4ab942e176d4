// Package source provides storage and format adapters that feed the scan
// operator with batches of a declared schema.
package source

import (
	"context"

	"github.com/quarrydb/quarry/internal/batch"
	"github.com/quarrydb/quarry/pkg/types"
)

// Source produces batches matching Schema until it returns io.EOF.
// Sources are read-only and not restartable.
type Source interface {
	Schema() *types.Schema
	Next(ctx context.Context) (*batch.Batch, error)
	Close() error
}
