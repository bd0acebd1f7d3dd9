package progress

import (
	"context"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
)

// Sink consumes batches of results. Implementations must be safe for repeated
// calls and honor ctx deadlines. The hub calls sinks from a single goroutine.
type Sink interface {
	Consume(ctx context.Context, batch []archive.Result) error
	Close(ctx context.Context) error
}

// Emitter publishes individual results; Hub satisfies this interface so
// workers stay agnostic about how results are buffered or persisted.
type Emitter interface {
	Emit(result archive.Result)
}

// NopEmitter discards every result.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(archive.Result) {}
