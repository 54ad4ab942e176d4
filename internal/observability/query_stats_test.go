package observability

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// TestRecordPredicateConcurrent tests concurrent RecordPredicate calls for race conditions.
func TestRecordPredicateConcurrent(t *testing.T) {
	qs := NewQueryStats()
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				qs.RecordPredicate("l_shipdate", "<=")
				qs.RecordPredicate("l_discount", ">=")
				qs.RecordPredicate("l_quantity", "<")
			}
		}()
	}

	wg.Wait()

	top := qs.GetTopPredicates(10)
	if len(top) != 3 {
		t.Errorf("expected 3 predicates, got %d", len(top))
	}

	expectedFreq := int64(numGoroutines * recordsPerGoroutine)
	for _, stat := range top {
		if stat.Frequency != expectedFreq {
			t.Errorf("expected frequency %d for %s, got %d", expectedFreq, stat.Column, stat.Frequency)
		}
	}
}

// TestGetTopPredicatesOrdering tests that GetTopPredicates returns results sorted by frequency.
func TestGetTopPredicatesOrdering(t *testing.T) {
	qs := NewQueryStats()

	for i := 0; i < 10; i++ {
		qs.RecordPredicate("c_mktsegment", "=")
	}
	for i := 0; i < 5; i++ {
		qs.RecordPredicate("o_orderdate", "<")
	}
	for i := 0; i < 20; i++ {
		qs.RecordPredicate("l_shipdate", ">")
	}

	top := qs.GetTopPredicates(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 predicates, got %d", len(top))
	}
	if top[0].Column != "l_shipdate" || top[0].Frequency != 20 {
		t.Errorf("expected l_shipdate with frequency 20, got %s with %d", top[0].Column, top[0].Frequency)
	}
	if top[1].Column != "c_mktsegment" || top[1].Frequency != 10 {
		t.Errorf("expected c_mktsegment with frequency 10, got %s with %d", top[1].Column, top[1].Frequency)
	}
	if top[0].Operators[">"] != 20 {
		t.Errorf("expected operator count 20, got %d", top[0].Operators[">"])
	}

	if got := qs.GetTopPredicates(0); len(got) != 0 {
		t.Errorf("expected no predicates for n=0, got %d", len(got))
	}
}

func TestOperatorStats(t *testing.T) {
	qs := NewQueryStats()
	qs.RecordInput("filter#1", 100)
	qs.RecordOutput("scan#0", 100, time.Millisecond)
	qs.RecordOutput("filter#1", 40, 2*time.Millisecond)
	qs.RecordOutput("filter#1", 0, time.Millisecond)

	ops := qs.Operators()
	if len(ops) != 2 {
		t.Fatalf("expected 2 operators, got %d", len(ops))
	}
	if ops[0].Operator != "filter#1" {
		t.Errorf("expected registration order, got %s first", ops[0].Operator)
	}

	f, ok := qs.Operator("filter#1")
	if !ok {
		t.Fatal("filter#1 not recorded")
	}
	if f.RowsIn != 100 || f.RowsOut != 40 || f.BatchesOut != 2 || f.Elapsed != 3*time.Millisecond {
		t.Errorf("unexpected filter stats: %+v", f)
	}

	if !strings.Contains(qs.Summary(), "scan#0: in=0 out=100 batches=1") {
		t.Errorf("unexpected summary:\n%s", qs.Summary())
	}
}

func TestNilStatsIgnoresRecords(t *testing.T) {
	var qs *QueryStats
	qs.RecordInput("x", 1)
	qs.RecordOutput("x", 1, time.Second)
	qs.RecordPredicate("c", "=")
}
