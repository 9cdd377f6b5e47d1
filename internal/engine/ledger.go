package engine

import (
	"time"

	"github.com/IshaanNene/sitecrawl/internal/types"
)

// Ledger collects the failures worth retrying later, one record per URL.
type Ledger struct {
	records []types.FailureRecord
	index   map[string]int
}

// NewLedger creates a ledger seeded with records.
func NewLedger(records []types.FailureRecord) *Ledger {
	l := &Ledger{index: make(map[string]int, len(records))}
	for _, rec := range records {
		l.add(rec)
	}
	return l
}

// Record adds url with reason if the reason is ledger-eligible. A later
// failure of the same URL replaces the earlier record. Reports whether the
// URL was ledgered.
func (l *Ledger) Record(url string, reason types.FailureReason, at time.Time) bool {
	if !reason.Retryable() {
		return false
	}
	l.add(types.FailureRecord{URL: url, Reason: reason, Timestamp: at})
	return true
}

// Records returns the ledger entries in insertion order.
func (l *Ledger) Records() []types.FailureRecord {
	out := make([]types.FailureRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of ledgered URLs.
func (l *Ledger) Len() int {
	return len(l.records)
}

func (l *Ledger) add(rec types.FailureRecord) {
	if i, ok := l.index[rec.URL]; ok {
		l.records[i] = rec
		return
	}
	l.index[rec.URL] = len(l.records)
	l.records = append(l.records, rec)
}
