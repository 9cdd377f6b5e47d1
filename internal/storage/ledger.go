package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/IshaanNene/sitecrawl/internal/types"
)

// LedgerMetadata describes a failure ledger file.
type LedgerMetadata struct {
	Source      string `json:"source"`
	CrawledAt   string `json:"crawled_at"`
	TotalFailed int    `json:"total_failed"`
}

// LedgerFile is the on-disk failure ledger.
type LedgerFile struct {
	Metadata    LedgerMetadata        `json:"metadata"`
	FailedPages []types.FailureRecord `json:"failed_pages"`
}

// WriteLedger writes records to path. Nothing is written for an empty
// ledger; the result reports whether a file was written.
func WriteLedger(path, source string, records []types.FailureRecord, at time.Time) (bool, error) {
	if len(records) == 0 {
		return false, nil
	}

	ledger := &LedgerFile{
		Metadata: LedgerMetadata{
			Source:      source,
			CrawledAt:   at.Format(TimestampFormat),
			TotalFailed: len(records),
		},
		FailedPages: records,
	}
	err := writeFileAtomic(path, func(w io.Writer) error {
		return encodeJSON(w, ledger)
	})
	if err != nil {
		return false, &types.StorageError{Backend: "ledger", Err: err}
	}
	return true, nil
}

// ReadLedger loads the ledger at path. A missing file yields
// types.ErrNoLedger.
func ReadLedger(path string) (*LedgerFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", types.ErrNoLedger, path)
	}
	if err != nil {
		return nil, &types.StorageError{Backend: "ledger", Err: err}
	}

	var ledger LedgerFile
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, &types.StorageError{Backend: "ledger", Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return &ledger, nil
}

// RemoveLedger deletes the ledger file if present.
func RemoveLedger(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &types.StorageError{Backend: "ledger", Err: err}
	}
	return nil
}
