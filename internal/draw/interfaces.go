package draw

import (
	"context"
	"io"
	"time"
)

// Extractor reads raw candidates for every region of a draw. Implementations
// are owned by exactly one session and closed when it ends.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (Extraction, error)
	Close() error
}

// ExtractorFactory opens an exclusive extractor for one session.
type ExtractorFactory interface {
	Open(ctx context.Context, f Family, date time.Time) (Extractor, error)
}

// EventPublisher delivers change events to subscribers and maintains the
// companion snapshot of published values.
type EventPublisher interface {
	Publish(ctx context.Context, ch Channel, events []ChangeEvent) error
	Expire(ctx context.Context, ch Channel, ttl time.Duration) error
}

// RecordStore persists canonical records keyed by record ID.
type RecordStore interface {
	Get(ctx context.Context, id string) (Record, bool, error)
	Upsert(ctx context.Context, rec Record) error
}

// BlobStore archives final record documents.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Fingerprinter produces stable content fingerprints.
type Fingerprinter interface {
	Fingerprint(v any) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
