package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/IshaanNene/sitecrawl/internal/types"
)

// WriteCSV writes scrape output as CSV. It accepts a []string (one
// "value" column), table rows ([]any of map[string]string or []string),
// a map[string]string (key/value pairs), batch results (one url/value
// row per value), or items (flattened fields with
// the header taken from all items, sorted).
func WriteCSV(w io.Writer, value any) error {
	cw := csv.NewWriter(w)

	var rows [][]string
	switch v := value.(type) {
	case []string:
		rows = append(rows, []string{"value"})
		for _, s := range v {
			rows = append(rows, []string{s})
		}
	case map[string]string:
		rows = append(rows, []string{"key", "value"})
		for _, k := range sortedKeys(v) {
			rows = append(rows, []string{k, v[k]})
		}
	case map[string][]string:
		rows = append(rows, []string{"url", "value"})
		urls := make([]string, 0, len(v))
		for u := range v {
			urls = append(urls, u)
		}
		sort.Strings(urls)
		for _, u := range urls {
			for _, s := range v[u] {
				rows = append(rows, []string{u, s})
			}
		}
	case []any:
		rows = tableRows(v)
	case []*types.Item:
		flat := make([]map[string]string, len(v))
		for i, item := range v {
			flat[i] = item.ToFlatMap()
		}
		rows = mapRows(flat)
	default:
		return fmt.Errorf("cannot write %T as CSV", value)
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write CSV: %w", err)
	}
	return nil
}

// tableRows writes header-keyed rows under a shared header. Plain cell
// rows are written as-is after them.
func tableRows(rows []any) [][]string {
	var (
		keyed []map[string]string
		plain [][]string
	)
	for _, row := range rows {
		switch r := row.(type) {
		case map[string]string:
			keyed = append(keyed, r)
		case []string:
			plain = append(plain, r)
		}
	}
	return append(mapRows(keyed), plain...)
}

func mapRows(maps []map[string]string) [][]string {
	if len(maps) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var headers []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				headers = append(headers, k)
			}
		}
	}
	sort.Strings(headers)

	rows := [][]string{headers}
	for _, m := range maps {
		row := make([]string, len(headers))
		for i, h := range headers {
			row[i] = m[h]
		}
		rows = append(rows, row)
	}
	return rows
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
