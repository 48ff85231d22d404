package output

import (
	"context"
	"io"
)

// ArchiveSink uploads completed downloads to long-term object storage
// after a run. Archive failures never affect run outcomes.
type ArchiveSink interface {
	// Store writes one object under the sink's configured prefix.
	Store(ctx context.Context, key string, body io.Reader, size int64) error
}
