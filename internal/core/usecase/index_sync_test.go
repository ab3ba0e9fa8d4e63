package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

type chunkSourceFake struct {
	chunks  []domain.Chunk
	err     error
	afterID []string
}

func (f *chunkSourceFake) ListEmbeddedChunks(_ context.Context, afterID string, limit int) ([]domain.Chunk, [][]float32, error) {
	f.afterID = append(f.afterID, afterID)
	if f.err != nil {
		return nil, nil, f.err
	}
	var page []domain.Chunk
	var vectors [][]float32
	for _, c := range f.chunks {
		if c.ID > afterID && len(page) < limit {
			page = append(page, c)
			vectors = append(vectors, []float32{float32(len(c.ID))})
		}
	}
	return page, vectors, nil
}

type chunkIndexFake struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (f *chunkIndexFake) UpsertChunks(_ context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("mismatch")
	}
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ID)
	}
	f.batches = append(f.batches, ids)
	return nil
}

func (f *chunkIndexFake) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestIndexSyncPagesByChunkID(t *testing.T) {
	source := &chunkSourceFake{chunks: []domain.Chunk{
		docChunk("c1", "doc-1"), docChunk("c2", "doc-1"), docChunk("c3", "doc-2"),
		docChunk("c4", "doc-2"), docChunk("c5", "doc-3"),
	}}
	index := &chunkIndexFake{}

	n, err := NewIndexSync(source, index, 2).Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 chunks indexed, got %d", n)
	}
	if len(index.batches) != 3 || index.batches[2][0] != "c5" {
		t.Fatalf("unexpected batches %v", index.batches)
	}
	want := []string{"", "c2", "c4"}
	if len(source.afterID) != len(want) {
		t.Fatalf("expected cursors %v, got %v", want, source.afterID)
	}
	for i := range want {
		if source.afterID[i] != want[i] {
			t.Fatalf("expected cursors %v, got %v", want, source.afterID)
		}
	}
}

func TestIndexSyncFullLastPageChecksForMore(t *testing.T) {
	source := &chunkSourceFake{chunks: []domain.Chunk{docChunk("c1", "doc-1"), docChunk("c2", "doc-1")}}
	index := &chunkIndexFake{}

	n, err := NewIndexSync(source, index, 2).Sync(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("expected 2 chunks, got %d %v", n, err)
	}
	if len(source.afterID) != 2 || source.afterID[1] != "c2" {
		t.Fatalf("expected a second empty page request, got %v", source.afterID)
	}
}

func TestIndexSyncStopsOnIndexError(t *testing.T) {
	source := &chunkSourceFake{chunks: []domain.Chunk{docChunk("c1", "doc-1")}}
	index := &chunkIndexFake{err: errors.New("qdrant unavailable")}

	n, err := NewIndexSync(source, index, 10).Sync(context.Background())
	if err == nil || n != 0 {
		t.Fatalf("expected index error with nothing counted, got %d %v", n, err)
	}
}

func TestIndexSyncWrapsSourceError(t *testing.T) {
	cause := errors.New("conn reset")
	_, err := NewIndexSync(&chunkSourceFake{err: cause}, &chunkIndexFake{}, 10).Sync(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}

func TestIndexSyncRunRepeatsUntilCancelled(t *testing.T) {
	source := &chunkSourceFake{chunks: []domain.Chunk{docChunk("c1", "doc-1")}}
	index := &chunkIndexFake{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewIndexSync(source, index, 10).Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for index.batchCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected repeated syncs, got %d", index.batchCount())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Run to stop after cancellation")
	}
}
