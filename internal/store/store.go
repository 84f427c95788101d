package store

import "context"

// Store is the durable record store: a single-identity attribute/value
// row that survives across invocations. Get reports absence instead of
// failing so callers can apply fresh-start defaults; Set reports write
// failures so callers can decide whether durability matters for them.
//
// Known attributes: "cache" (serialized token cache blob), "onenote"
// (last-known credential record as JSON), "<handle>_section_count",
// "<handle>_last_page", and "recent_<handle>".
type Store interface {
	// Get retrieves an attribute value. Missing or unreadable data is
	// reported as absent, never as an error.
	Get(ctx context.Context, key string) (string, bool)
	// Set stores an attribute value, overwriting any previous one.
	Set(ctx context.Context, key, value string) error
	// Delete removes an attribute.
	Delete(ctx context.Context, key string) error
	// Close releases underlying resources.
	Close() error
}
