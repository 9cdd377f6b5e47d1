package fetcher

import (
	"context"

	"github.com/IshaanNene/sitecrawl/internal/types"
)

// Fetcher performs one fetch attempt and classifies its outcome.
type Fetcher interface {
	// Fetch retrieves rawURL. The response is non-nil only for OutcomeSuccess.
	Fetch(ctx context.Context, rawURL string) (*types.Response, types.Outcome)

	// Close releases any resources held by the fetcher.
	Close() error
}
