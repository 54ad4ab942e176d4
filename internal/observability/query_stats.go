// Package observability provides per-query execution statistics for operator
// trees and predicate usage tracking.
package observability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// QueryStats collects metrics for one query execution.
type QueryStats struct {
	mu            sync.RWMutex
	operators     map[string]*OperatorStats
	order         []string
	predicateFreq map[string]*ColumnStats
	started       time.Time
}

// OperatorStats holds counters for one operator instance.
type OperatorStats struct {
	Operator   string
	RowsIn     int64
	RowsOut    int64
	BatchesOut int64
	Elapsed    time.Duration
}

// ColumnStats holds how often a column appeared in a filter predicate.
type ColumnStats struct {
	Column    string
	Frequency int64
	LastSeen  time.Time
	Operators map[string]int // operator → count (e.g., "<=" → 1)
}

// NewQueryStats creates an empty statistics collector.
func NewQueryStats() *QueryStats {
	return &QueryStats{
		operators:     make(map[string]*OperatorStats),
		predicateFreq: make(map[string]*ColumnStats),
		started:       time.Now(),
	}
}

func (q *QueryStats) operator(name string) *OperatorStats {
	stats, exists := q.operators[name]
	if !exists {
		stats = &OperatorStats{Operator: name}
		q.operators[name] = stats
		q.order = append(q.order, name)
	}
	return stats
}

// RecordInput adds rows consumed by an operator from its children.
func (q *QueryStats) RecordInput(op string, rows int) {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.operator(op).RowsIn += int64(rows)
}

// RecordOutput adds one produced batch and the time spent producing it.
func (q *QueryStats) RecordOutput(op string, rows int, elapsed time.Duration) {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := q.operator(op)
	stats.RowsOut += int64(rows)
	stats.BatchesOut++
	stats.Elapsed += elapsed
}

// RecordPredicate records a predicate access for a column.
// This method is O(1) and thread-safe.
func (q *QueryStats) RecordPredicate(column, operator string) {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	stats, exists := q.predicateFreq[column]
	if !exists {
		stats = &ColumnStats{
			Column:    column,
			Operators: make(map[string]int),
		}
		q.predicateFreq[column] = stats
	}

	stats.Frequency++
	stats.LastSeen = time.Now()
	stats.Operators[operator]++
}

// Operators returns a copy of every operator's counters in registration order.
func (q *QueryStats) Operators() []OperatorStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]OperatorStats, 0, len(q.order))
	for _, name := range q.order {
		out = append(out, *q.operators[name])
	}
	return out
}

// Operator returns the counters for one operator.
func (q *QueryStats) Operator(name string) (OperatorStats, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	stats, ok := q.operators[name]
	if !ok {
		return OperatorStats{}, false
	}
	return *stats, true
}

// GetTopPredicates returns the top N predicate columns by frequency.
// Returns a copy of the stats sorted by frequency (descending), ties by name.
func (q *QueryStats) GetTopPredicates(n int) []ColumnStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(q.predicateFreq) == 0 {
		return []ColumnStats{}
	}

	stats := make([]ColumnStats, 0, len(q.predicateFreq))
	for _, s := range q.predicateFreq {
		statsCopy := ColumnStats{
			Column:    s.Column,
			Frequency: s.Frequency,
			LastSeen:  s.LastSeen,
			Operators: make(map[string]int, len(s.Operators)),
		}
		for op, count := range s.Operators {
			statsCopy.Operators[op] = count
		}
		stats = append(stats, statsCopy)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Column < stats[j].Column
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Elapsed returns the wall time since the collector was created.
func (q *QueryStats) Elapsed() time.Duration {
	return time.Since(q.started)
}

// Summary renders one line per operator, for verbose logging.
func (q *QueryStats) Summary() string {
	var sb strings.Builder
	for _, s := range q.Operators() {
		fmt.Fprintf(&sb, "%s: in=%d out=%d batches=%d time=%s\n",
			s.Operator, s.RowsIn, s.RowsOut, s.BatchesOut, s.Elapsed)
	}
	return sb.String()
}
