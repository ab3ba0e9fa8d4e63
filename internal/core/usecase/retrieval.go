package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
	"github.com/kirillkom/multimodal-rag/internal/core/ports"
)

type RetrievalUseCase struct {
	settings  ports.ProjectSettingsStore
	documents ports.ProjectDocuments
	embedder  ports.Embedder
	vector    ports.VectorSearcher
	keyword   ports.KeywordSearcher
	expander  ports.QueryExpander
	observer  ports.RetrievalObserver
}

func NewRetrievalUseCase(
	settings ports.ProjectSettingsStore,
	documents ports.ProjectDocuments,
	embedder ports.Embedder,
	vector ports.VectorSearcher,
	keyword ports.KeywordSearcher,
	expander ports.QueryExpander,
	observer ports.RetrievalObserver,
) *RetrievalUseCase {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &RetrievalUseCase{
		settings:  settings,
		documents: documents,
		embedder:  embedder,
		vector:    vector,
		keyword:   keyword,
		expander:  expander,
		observer:  observer,
	}
}

// retrievalRun holds the state of one retrieval request.
type retrievalRun struct {
	query       string
	settings    domain.ProjectSettings
	documentIDs []string

	attempted atomic.Int32
	failed    atomic.Int32

	mu     sync.Mutex
	chunks map[string]domain.Chunk
}

func (r *retrievalRun) record(list domain.RankedList) {
	r.mu.Lock()
	r.chunks = collectChunks(r.chunks, []domain.RankedList{list})
	r.mu.Unlock()
}

func (r *retrievalRun) lookup() map[string]domain.Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.Chunk, len(r.chunks))
	for id, chunk := range r.chunks {
		out[id] = chunk
	}
	return out
}

// Retrieve runs the project's configured strategy and returns the fused candidates.
func (uc *RetrievalUseCase) Retrieve(ctx context.Context, projectID, query string) (*domain.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("query is required"))
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("project_id is required"))
	}

	settings, err := uc.settings.GetSettings(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project settings: %w", err)
	}
	strategy, err := settings.Validate()
	if err != nil {
		return nil, err
	}

	documentIDs, err := uc.documents.ListDocumentIDs(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project documents: %w", err)
	}

	result := &domain.RetrievalResult{
		Strategy: strategy,
		Variants: []string{query},
		Chunks:   map[string]domain.Chunk{},
	}
	if len(documentIDs) == 0 {
		uc.observer.ObserveRetrieval(strategy, 0, 0, false)
		return result, nil
	}

	run := &retrievalRun{
		query:       query,
		settings:    settings,
		documentIDs: documentIDs,
	}

	var fused []domain.FusedCandidate
	switch strategy {
	case domain.StrategyBasic:
		fused, err = uc.basic(ctx, run)
	case domain.StrategyHybrid:
		fused, err = uc.hybrid(ctx, run, query)
	case domain.StrategyMultiQueryVector:
		result.Variants, result.ExpansionFell = uc.expand(ctx, run)
		fused, err = uc.multiQueryVector(ctx, run, result.Variants)
	case domain.StrategyMultiQueryHybrid:
		result.Variants, result.ExpansionFell = uc.expand(ctx, run)
		fused, err = uc.multiQueryHybrid(ctx, run, result.Variants)
	default:
		return nil, domain.WrapError(domain.ErrInvalidConfiguration, "retrieve", fmt.Errorf("unhandled strategy %q", strategy))
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	attempted := int(run.attempted.Load())
	failed := int(run.failed.Load())
	result.FailedSearches = failed
	if attempted > 0 && failed == attempted {
		uc.observer.ObserveRetrieval(strategy, 0, failed, result.ExpansionFell)
		return nil, domain.WrapError(domain.ErrUpstreamUnavailable, "retrieve", fmt.Errorf("all %d searches failed", attempted))
	}

	lookup := run.lookup()
	if settings.RerankingEnabled {
		fused = rerankCandidates(query, fused, lookup, 0)
	}
	fused = trimCandidates(fused, settings.FinalContextSize)

	result.Candidates = fused
	for _, candidate := range fused {
		result.Chunks[candidate.ChunkID] = lookup[candidate.ChunkID]
	}

	if failed > 0 {
		slog.WarnContext(ctx, "retrieval_partial_failure",
			"project_id", projectID,
			"strategy", string(strategy),
			"failed_searches", failed,
			"attempted_searches", attempted,
		)
	}
	slog.InfoContext(ctx, "retrieval_completed",
		"project_id", projectID,
		"strategy", string(strategy),
		"variants", len(result.Variants),
		"candidates", len(fused),
		"failed_searches", failed,
	)
	uc.observer.ObserveRetrieval(strategy, len(fused), failed, result.ExpansionFell)
	return result, nil
}

func (uc *RetrievalUseCase) basic(ctx context.Context, run *retrievalRun) ([]domain.FusedCandidate, error) {
	list, ok := uc.searchVector(ctx, run, run.query)
	if !ok {
		return nil, nil
	}
	return Fuse([]domain.RankedList{list}, []float64{1.0}), nil
}

// hybrid runs vector and keyword search for one query concurrently. When
// exactly one modality has zero weight its search is skipped.
func (uc *RetrievalUseCase) hybrid(ctx context.Context, run *retrievalRun, query string) ([]domain.FusedCandidate, error) {
	vectorWeight := run.settings.VectorWeight
	keywordWeight := run.settings.KeywordWeight
	runVector := vectorWeight > 0 || keywordWeight == 0
	runKeyword := keywordWeight > 0 || vectorWeight == 0

	var vectorList, keywordList domain.RankedList
	g, gctx := errgroup.WithContext(ctx)
	if runVector {
		g.Go(func() error {
			vectorList, _ = uc.searchVector(gctx, run, query)
			return nil
		})
	}
	if runKeyword {
		g.Go(func() error {
			keywordList, _ = uc.searchKeyword(gctx, run, query)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return Fuse(
		[]domain.RankedList{vectorList, keywordList},
		[]float64{vectorWeight, keywordWeight},
	), nil
}

func (uc *RetrievalUseCase) multiQueryVector(ctx context.Context, run *retrievalRun, variants []string) ([]domain.FusedCandidate, error) {
	lists := make([]domain.RankedList, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		g.Go(func() error {
			lists[i], _ = uc.searchVector(gctx, run, variant)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Fuse(lists, nil), nil
}

// multiQueryHybrid fuses the per-variant hybrid results a second time.
func (uc *RetrievalUseCase) multiQueryHybrid(ctx context.Context, run *retrievalRun, variants []string) ([]domain.FusedCandidate, error) {
	perVariant := make([][]domain.FusedCandidate, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		g.Go(func() error {
			fused, err := uc.hybrid(gctx, run, variant)
			if err != nil {
				return err
			}
			perVariant[i] = fused
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lookup := run.lookup()
	lists := make([]domain.RankedList, 0, len(perVariant))
	for _, fused := range perVariant {
		lists = append(lists, fusedToRankedList(fused, lookup))
	}
	return Fuse(lists, nil), nil
}

// expand returns the query variants, falling back to the original query when
// expansion fails or produces nothing.
func (uc *RetrievalUseCase) expand(ctx context.Context, run *retrievalRun) ([]string, bool) {
	n := run.settings.NumberOfQueries
	if uc.expander == nil {
		slog.WarnContext(ctx, "query_expansion_degraded", "reason", "expander_not_configured")
		return []string{run.query}, true
	}

	variants, err := uc.expander.ExpandQuery(ctx, run.query, n)
	if err != nil {
		slog.WarnContext(ctx, "query_expansion_degraded", "reason", "expander_error", "error", err.Error())
		return []string{run.query}, true
	}
	variants = normalizeVariants(variants, n)
	if len(variants) == 0 {
		slog.WarnContext(ctx, "query_expansion_degraded", "reason", "empty_expansion")
		return []string{run.query}, true
	}
	return variants, false
}

func normalizeVariants(variants []string, limit int) []string {
	seen := make(map[string]struct{}, len(variants))
	out := make([]string, 0, len(variants))
	for _, v := range variants {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (uc *RetrievalUseCase) searchVector(ctx context.Context, run *retrievalRun, query string) (domain.RankedList, bool) {
	run.attempted.Add(1)
	vector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		run.failed.Add(1)
		slog.WarnContext(ctx, "vector_search_failed", "stage", "embed", "error", err.Error())
		return nil, false
	}
	list, err := uc.vector.SearchVector(ctx, vector, run.documentIDs, run.settings.ChunksPerSearch, run.settings.SimilarityThreshold)
	if err != nil {
		run.failed.Add(1)
		slog.WarnContext(ctx, "vector_search_failed", "stage", "search", "error", err.Error())
		return nil, false
	}
	list = scopeToDocuments(list, run.documentIDs)
	run.record(list)
	return list, true
}

func (uc *RetrievalUseCase) searchKeyword(ctx context.Context, run *retrievalRun, query string) (domain.RankedList, bool) {
	run.attempted.Add(1)
	list, err := uc.keyword.SearchKeyword(ctx, query, run.documentIDs, run.settings.ChunksPerSearch)
	if err != nil {
		run.failed.Add(1)
		slog.WarnContext(ctx, "keyword_search_failed", "error", err.Error())
		return nil, false
	}
	list = scopeToDocuments(list, run.documentIDs)
	run.record(list)
	return list, true
}

// scopeToDocuments drops any chunk outside the project document set.
func scopeToDocuments(list domain.RankedList, documentIDs []string) domain.RankedList {
	allowed := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		allowed[id] = struct{}{}
	}
	out := make(domain.RankedList, 0, len(list))
	for _, chunk := range list {
		if _, ok := allowed[chunk.DocumentID]; ok {
			out = append(out, chunk)
		}
	}
	return out
}

// NoopObserver discards retrieval diagnostics.
type NoopObserver struct{}

func (NoopObserver) ObserveRetrieval(domain.RAGStrategy, int, int, bool) {}
func (NoopObserver) ObserveStreamTerminal(domain.StreamEventType)        {}
