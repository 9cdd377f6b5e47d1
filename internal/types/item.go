package types

import (
	"encoding/json"
	"time"
)

// Item is one record produced by field rules in the scrape command.
type Item struct {
	// Fields stores the extracted key-value data.
	Fields map[string]any `json:"fields"`

	// URL is the source page URL this item was extracted from.
	URL string `json:"url"`

	// Timestamp is when this item was created.
	Timestamp time.Time `json:"timestamp"`

	// Error is set when the page could not be scraped.
	Error string `json:"error,omitempty"`
}

// NewItem creates a new empty Item from a source URL.
func NewItem(sourceURL string) *Item {
	return &Item{
		Fields:    make(map[string]any),
		URL:       sourceURL,
		Timestamp: time.Now(),
	}
}

// Set sets a field value.
func (i *Item) Set(key string, value any) {
	i.Fields[key] = value
}

// Get retrieves a field value.
func (i *Item) Get(key string) (any, bool) {
	v, ok := i.Fields[key]
	return v, ok
}

// ToFlatMap returns a flat map suitable for CSV export.
func (i *Item) ToFlatMap() map[string]string {
	flat := make(map[string]string, len(i.Fields)+3)
	flat["_url"] = i.URL
	flat["_timestamp"] = i.Timestamp.Format(time.RFC3339)
	if i.Error != "" {
		flat["_error"] = i.Error
	}

	for k, v := range i.Fields {
		switch val := v.(type) {
		case string:
			flat[k] = val
		case []byte:
			flat[k] = string(val)
		default:
			b, _ := json.Marshal(val)
			flat[k] = string(b)
		}
	}
	return flat
}
