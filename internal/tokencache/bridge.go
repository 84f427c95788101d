package tokencache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/notifyer/notifyer/internal/logging"
	"github.com/notifyer/notifyer/internal/store"
)

// MinBlobSize is the smallest serialization accepted by Export. An
// empty contract serializes to roughly 50 bytes; anything smaller is a
// truncated write and must not poison the next cold start.
const MinBlobSize = 40

// Marshaler marshals an internal token cache to bytes.
type Marshaler interface {
	Marshal() ([]byte, error)
}

// Unmarshaler overwrites an internal token cache from bytes.
type Unmarshaler interface {
	Unmarshal([]byte) error
}

// Bridge keeps the authentication client's internal token cache, the
// ephemeral local cache file, and the durable record store in lockstep.
// Replace runs before the client reads its cache; Export runs after any
// operation that changed it. There is no asynchronous reconciliation:
// consistency is maintained at the point of change, best-effort.
type Bridge struct {
	path   string
	store  store.Store
	logger *logging.Logger
}

// NewBridge creates a bridge for the given ephemeral cache file path,
// mirroring accepted blobs into the durable store.
func NewBridge(path string, st store.Store, logger *logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Bridge{path: path, store: st, logger: logger}
}

// Path returns the ephemeral cache file path.
func (b *Bridge) Path() string {
	return b.path
}

// Replace hydrates the client cache from the ephemeral file. A missing,
// empty, unparsable, or ill-formed file is swallowed: the client simply
// proceeds with an empty cache. Replace never fails.
func (b *Bridge) Replace(ctx context.Context, cache Unmarshaler) error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			b.logger.WarnWithContext(ctx, "token cache file unreadable", "path", b.path, "error", err.Error())
		}
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	var probe Contract
	if err := json.Unmarshal(data, &probe); err != nil {
		b.logger.WarnWithContext(ctx, "token cache file unparsable, starting empty", "path", b.path)
		return nil
	}
	if !probe.WellFormed() {
		b.logger.WarnWithContext(ctx, "token cache file missing required sections, starting empty", "path", b.path)
		return nil
	}

	if err := cache.Unmarshal(data); err != nil {
		b.logger.WarnWithContext(ctx, "token cache hydration failed, starting empty", "error", err.Error())
	}
	return nil
}

// Export serializes the client cache and, if the blob passes the
// well-formedness and size gates, writes it to the ephemeral file and
// mirrors it to the durable store within the same call. Rejected blobs
// are discarded with a warning; an invalid serialization must never
// overwrite a good one.
func (b *Bridge) Export(ctx context.Context, cache Marshaler) error {
	data, err := cache.Marshal()
	if err != nil {
		b.logger.WarnWithContext(ctx, "token cache serialization failed, not persisting", "error", err.Error())
		return nil
	}

	if len(data) < MinBlobSize {
		b.logger.WarnWithContext(ctx, "token cache serialization suspiciously small, not persisting", "bytes", len(data))
		return nil
	}
	var probe Contract
	if err := json.Unmarshal(data, &probe); err != nil || !probe.WellFormed() {
		b.logger.WarnWithContext(ctx, "token cache serialization ill-formed, not persisting")
		return nil
	}

	if dir := filepath.Dir(b.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			b.logger.WarnWithContext(ctx, "token cache dir create failed", "path", dir, "error", err.Error())
			return nil
		}
	}
	if err := os.WriteFile(b.path, data, 0600); err != nil {
		b.logger.WarnWithContext(ctx, "token cache file write failed", "path", b.path, "error", err.Error())
	}

	if err := b.store.Set(ctx, "cache", string(data)); err != nil {
		b.logger.WarnWithContext(ctx, "token cache mirror to durable store failed", "error", err.Error())
	}
	return nil
}
