package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
	"github.com/kirillkom/multimodal-rag/internal/core/ports"
)

// AssembleContext buckets fused candidates by content type in fused order and
// assigns one 1-based citation per document in first-occurrence order.
// Candidates missing from lookup are skipped.
func AssembleContext(fused []domain.FusedCandidate, lookup map[string]domain.Chunk) domain.AssembledContext {
	out := domain.AssembledContext{
		Texts:          []string{},
		Tables:         []string{},
		Images:         []string{},
		Citations:      []domain.Citation{},
		TextCitations:  []int{},
		TableCitations: []int{},
	}
	citationByDoc := make(map[string]int)

	for _, candidate := range fused {
		chunk, ok := lookup[candidate.ChunkID]
		if !ok {
			continue
		}
		index, seen := citationByDoc[chunk.DocumentID]
		if !seen {
			index = len(out.Citations) + 1
			citationByDoc[chunk.DocumentID] = index
			out.Citations = append(out.Citations, domain.Citation{
				Index:      index,
				DocumentID: chunk.DocumentID,
				Locator:    chunk.Locator,
			})
		}

		switch chunk.ContentType {
		case domain.ContentTable:
			out.Tables = append(out.Tables, chunk.Content)
			out.TableCitations = append(out.TableCitations, index)
		case domain.ContentImage:
			out.Images = append(out.Images, chunk.Content)
		default:
			out.Texts = append(out.Texts, chunk.Content)
			out.TextCitations = append(out.TextCitations, index)
		}
	}
	return out
}

// FormatContext renders assembled context for the generation prompt. An empty
// context is replaced by the no-context sentinel.
func FormatContext(assembled domain.AssembledContext) string {
	if assembled.IsEmpty() {
		return domain.NoContextSentinel
	}

	var b strings.Builder
	for i, text := range assembled.Texts {
		fmt.Fprintf(&b, "[%d] %s\n\n", citationAt(assembled.TextCitations, i), strings.TrimSpace(text))
	}
	for i, table := range assembled.Tables {
		fmt.Fprintf(&b, "[%d] (table)\n%s\n\n", citationAt(assembled.TableCitations, i), strings.TrimSpace(table))
	}
	if len(assembled.Images) > 0 {
		fmt.Fprintf(&b, "(%d related images attached to the cited documents)\n", len(assembled.Images))
	}
	return strings.TrimSpace(b.String())
}

func citationAt(indices []int, pos int) int {
	if pos < len(indices) {
		return indices[pos]
	}
	return 0
}

// ContextUseCase retrieves and assembles context for a project query.
type ContextUseCase struct {
	retriever ports.Retriever
}

func NewContextUseCase(retriever ports.Retriever) *ContextUseCase {
	return &ContextUseCase{retriever: retriever}
}

func (uc *ContextUseCase) RetrieveContext(ctx context.Context, projectID, query string) (domain.AssembledContext, *domain.RetrievalResult, error) {
	result, err := uc.retriever.Retrieve(ctx, projectID, query)
	if err != nil {
		return domain.AssembledContext{}, nil, err
	}
	return AssembleContext(result.Candidates, result.Chunks), result, nil
}
