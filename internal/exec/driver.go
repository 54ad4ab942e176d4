package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/internal/observability"
	"github.com/quarrydb/quarry/pkg/types"
)

// Result is a fully materialized query result.
type Result struct {
	QueryID string
	Schema  *types.Schema
	Rows    [][]types.Value
	Batch   *batch.Batch
	Stats   *observability.QueryStats
	Elapsed time.Duration
}

// DriverConfig holds configuration for the driver.
type DriverConfig struct {
	// Verbose logs the plan and per-operator statistics of every query.
	Verbose bool
}

// Driver pulls an operator tree to completion.
type Driver struct {
	config DriverConfig
}

// NewDriver creates a driver.
func NewDriver(config DriverConfig) *Driver {
	return &Driver{config: config}
}

// Execute pulls batches from root until io.EOF and returns every row in
// output order. On failure the tree is closed and only the error is
// returned; no rows are observable. The tree is always closed on return.
// Cancelling ctx aborts between pulls.
func (d *Driver) Execute(ctx context.Context, root Operator) (*Result, error) {
	queryID := uuid.New().String()
	stats := observability.NewQueryStats()
	Instrument(root, stats)
	start := time.Now()

	if d.config.Verbose {
		log.Printf("driver: query %s plan:\n%s", queryID, Explain(root))
	}

	var batches []*batch.Batch
	for {
		if err := ctx.Err(); err != nil {
			_ = root.Close()
			return nil, fmt.Errorf("query %s: %w", queryID, err)
		}
		b, err := root.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = root.Close()
			log.Printf("driver: query %s failed: %v", queryID, err)
			return nil, queryError(queryID, err)
		}
		batches = append(batches, b)
	}

	if err := root.Close(); err != nil {
		return nil, queryError(queryID, err)
	}
	out, err := batch.Concat(root.Schema(), batches)
	if err != nil {
		return nil, queryError(queryID, err)
	}

	result := &Result{
		QueryID: queryID,
		Schema:  root.Schema(),
		Rows:    out.Rows(),
		Batch:   out,
		Stats:   stats,
		Elapsed: time.Since(start),
	}
	if d.config.Verbose {
		log.Printf("driver: query %s returned %d rows in %s\n%s",
			queryID, len(result.Rows), result.Elapsed, stats.Summary())
	}
	return result, nil
}

// queryError tags err with the query id, keeping its category and code.
func queryError(queryID string, err error) error {
	var qe *qerrors.QuarryError
	if errors.As(err, &qe) {
		return qe.WithDetails(map[string]interface{}{"query_id": queryID})
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("query %s: %w", queryID, err)
	}
	return qerrors.Wrap(qerrors.ErrCategoryExecution, qerrors.CodeUnexpected,
		fmt.Sprintf("query %s failed", queryID), err).
		WithDetails(map[string]interface{}{"query_id": queryID})
}
