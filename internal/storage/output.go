package storage

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/IshaanNene/sitecrawl/internal/types"
)

// WriteOutput writes scrape or batch results to path. A .csv extension
// selects CSV; anything else is written as indented JSON.
func WriteOutput(path string, value any) error {
	err := writeFileAtomic(path, func(w io.Writer) error {
		return EncodeOutput(w, path, value)
	})
	if err != nil {
		return &types.StorageError{Backend: "output", Err: err}
	}
	return nil
}

// EncodeOutput encodes value in the format implied by name's extension.
func EncodeOutput(w io.Writer, name string, value any) error {
	if strings.EqualFold(filepath.Ext(name), ".csv") {
		return WriteCSV(w, value)
	}
	return encodeJSON(w, value)
}
