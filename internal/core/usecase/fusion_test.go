package usecase

import (
	"math"
	"testing"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

func rankedList(ids ...string) domain.RankedList {
	out := make(domain.RankedList, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Chunk{ID: id, DocumentID: "doc-" + id, ContentType: domain.ContentText, Content: "content " + id})
	}
	return out
}

func fusedIDs(fused []domain.FusedCandidate) []string {
	out := make([]string, 0, len(fused))
	for _, c := range fused {
		out = append(out, c.ChunkID)
	}
	return out
}

func TestFuseEmptyInput(t *testing.T) {
	if out := Fuse(nil, nil); len(out) != 0 {
		t.Fatalf("expected empty output, got %d", len(out))
	}
	if out := Fuse([]domain.RankedList{{}, {}}, []float64{1, 1}); len(out) != 0 {
		t.Fatalf("expected empty output for empty lists, got %d", len(out))
	}
}

func TestFuseSingleListPreservesOrder(t *testing.T) {
	out := Fuse([]domain.RankedList{rankedList("a", "b", "c")}, []float64{1.0})
	got := fusedIDs(out)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
	if math.Abs(out[0].FusedScore-1.0/61.0) > 1e-12 {
		t.Fatalf("unexpected rank-1 score %f", out[0].FusedScore)
	}
}

func TestFuseDeduplicatesByChunkID(t *testing.T) {
	out := Fuse([]domain.RankedList{rankedList("a", "b"), rankedList("b", "c")}, nil)
	if len(out) != 3 {
		t.Fatalf("expected 3 fused candidates, got %d", len(out))
	}
	if out[0].ChunkID != "b" || out[0].SourceCount != 2 {
		t.Fatalf("expected b first with two sources, got %+v", out[0])
	}
	want := 1.0/62.0 + 1.0/61.0
	if math.Abs(out[0].FusedScore-want) > 1e-12 {
		t.Fatalf("expected score %f, got %f", want, out[0].FusedScore)
	}
}

func TestFuseTieBreakFirstSeen(t *testing.T) {
	out := Fuse([]domain.RankedList{rankedList("x"), rankedList("y")}, nil)
	if out[0].ChunkID != "x" || out[1].ChunkID != "y" {
		t.Fatalf("expected first-seen order on tie, got %v", fusedIDs(out))
	}
}

func TestFuseTieBreakSourceCount(t *testing.T) {
	// p: 1/61 in one list; q: 1/122 twice under weight 0.5 each gives the same score
	out := FuseWithK(
		[]domain.RankedList{rankedList("p"), rankedList("q"), rankedList("q")},
		[]float64{1.0, 0.5, 0.5},
		60,
	)
	if out[0].ChunkID != "q" {
		t.Fatalf("expected q to win the tie by source count, got %v", fusedIDs(out))
	}
}

func TestFuseWeightMismatchFallsBackToUniform(t *testing.T) {
	lists := []domain.RankedList{rankedList("a"), rankedList("b")}
	mismatched := Fuse(lists, []float64{10})
	uniform := Fuse(lists, nil)
	for i := range uniform {
		if mismatched[i] != uniform[i] {
			t.Fatalf("expected uniform weights on mismatch, got %+v vs %+v", mismatched, uniform)
		}
	}
}

func TestFuseZeroWeightStillCountsSource(t *testing.T) {
	out := Fuse([]domain.RankedList{rankedList("a"), rankedList("b")}, []float64{1, 0})
	if out[1].ChunkID != "b" || out[1].FusedScore != 0 || out[1].SourceCount != 1 {
		t.Fatalf("unexpected zero weight candidate %+v", out[1])
	}
}

func TestFuseIgnoresRepeatedIDWithinList(t *testing.T) {
	out := Fuse([]domain.RankedList{rankedList("a", "a", "b")}, nil)
	if len(out) != 2 || out[0].SourceCount != 1 {
		t.Fatalf("expected repeated id collapsed, got %+v", out)
	}
	if math.Abs(out[1].FusedScore-1.0/63.0) > 1e-12 {
		t.Fatalf("expected b to keep its list position, got %f", out[1].FusedScore)
	}
}

func TestFusedToRankedListUsesLookup(t *testing.T) {
	lists := []domain.RankedList{rankedList("a", "b")}
	lookup := collectChunks(nil, lists)
	ranked := fusedToRankedList(Fuse(lists, nil), lookup)
	if len(ranked) != 2 || ranked[0].ID != "a" || ranked[0].Content != "content a" {
		t.Fatalf("unexpected ranked list %+v", ranked)
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Fatalf("expected fused scores carried over, got %+v", ranked)
	}
}

func TestCollectChunksPrefersRicherRecord(t *testing.T) {
	sparse := domain.RankedList{{ID: "a"}}
	rich := domain.RankedList{{ID: "a", DocumentID: "doc-1", Content: "full", ContentType: domain.ContentTable, Locator: domain.Locator{Page: 3}}}
	lookup := collectChunks(nil, []domain.RankedList{sparse, rich})
	got := lookup["a"]
	if got.DocumentID != "doc-1" || got.Content != "full" || got.ContentType != domain.ContentTable || got.Locator.Page != 3 {
		t.Fatalf("expected enriched chunk, got %+v", got)
	}
}

func TestTrimCandidates(t *testing.T) {
	fused := Fuse([]domain.RankedList{rankedList("a", "b", "c")}, nil)
	if got := trimCandidates(fused, 2); len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got := trimCandidates(fused, 0); len(got) != 3 {
		t.Fatalf("expected no trim for zero limit, got %d", len(got))
	}
}
