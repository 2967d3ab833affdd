package collector

import (
	"context"
	"encoding/json"

	"github.com/meridianlabs/postvault/model"
)

// RawRecord is one backend-specific record as returned by a Source, before
// normalization. Keeping records raw at this boundary keeps sources
// swappable and testable against fixed fixtures.
type RawRecord struct {
	Payload json.RawMessage
}

// Page is one bounded fetch result. NextCursor is opaque to the caller and
// only meaningful when passed back to the same Source instance. A Source
// without true cursoring returns HasMore=false after its first page and
// relies on the downstream dedup rule to discard already-known records.
type Page struct {
	Records    []RawRecord
	NextCursor string
	HasMore    bool
}

// Source fetches bounded pages of raw posts for a single account. A Source
// is selected once per job, not per page. Implementations classify their
// failures as TransientError or FatalError so the retry policy can decide
// what to do with them.
type Source interface {
	// Name identifies the backend variant, recorded on the job and on every
	// post it stores.
	Name() model.PostSource

	// FetchPage returns up to limit raw records newer than cursor. An empty
	// cursor means "from the most recent".
	FetchPage(ctx context.Context, cursor string, limit int) (*Page, error)
}
