package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/multimodal-rag/internal/core/ports"
)

const defaultIndexSyncBatch = 128

// IndexSync copies embedded chunks from the primary store into an external
// search index so that backend can serve retrieval.
type IndexSync struct {
	source    ports.ChunkSource
	index     ports.ChunkIndex
	batchSize int
}

func NewIndexSync(source ports.ChunkSource, index ports.ChunkIndex, batchSize int) *IndexSync {
	if batchSize <= 0 {
		batchSize = defaultIndexSyncBatch
	}
	return &IndexSync{source: source, index: index, batchSize: batchSize}
}

// Sync walks every embedded chunk once and returns how many were indexed.
// Upserts are idempotent, so a failed pass can simply be repeated.
func (uc *IndexSync) Sync(ctx context.Context) (int, error) {
	start := time.Now()
	total := 0
	afterID := ""
	for {
		chunks, vectors, err := uc.source.ListEmbeddedChunks(ctx, afterID, uc.batchSize)
		if err != nil {
			return total, fmt.Errorf("list embedded chunks after %q: %w", afterID, err)
		}
		if len(chunks) == 0 {
			break
		}
		if len(chunks) != len(vectors) {
			return total, fmt.Errorf("chunk source returned %d chunks and %d vectors", len(chunks), len(vectors))
		}
		if err := uc.index.UpsertChunks(ctx, chunks, vectors); err != nil {
			return total, fmt.Errorf("index chunks after %q: %w", afterID, err)
		}
		total += len(chunks)
		afterID = chunks[len(chunks)-1].ID
		if len(chunks) < uc.batchSize {
			break
		}
	}
	slog.InfoContext(ctx, "index_sync_completed", "chunks", total, "duration_ms", time.Since(start).Milliseconds())
	return total, nil
}

// Run syncs immediately and then on every tick of interval until ctx ends.
// A zero interval syncs once.
func (uc *IndexSync) Run(ctx context.Context, interval time.Duration) {
	uc.syncOnce(ctx)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			uc.syncOnce(ctx)
		}
	}
}

func (uc *IndexSync) syncOnce(ctx context.Context) {
	if _, err := uc.Sync(ctx); err != nil && ctx.Err() == nil {
		slog.ErrorContext(ctx, "index_sync_failed", "error", err.Error())
	}
}
