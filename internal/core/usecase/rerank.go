package usecase

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

// rerankCandidates reorders the fused head by blending the normalized fused
// score with query token overlap. The tail beyond topN is left untouched.
func rerankCandidates(question string, fused []domain.FusedCandidate, lookup map[string]domain.Chunk, topN int) []domain.FusedCandidate {
	if len(fused) == 0 {
		return fused
	}
	if topN <= 0 || topN > len(fused) {
		topN = len(fused)
	}

	head := make([]domain.FusedCandidate, topN)
	copy(head, fused[:topN])
	queryTokens := toTokenSet(question)

	minScore := head[0].FusedScore
	maxScore := head[0].FusedScore
	for _, c := range head[1:] {
		if c.FusedScore < minScore {
			minScore = c.FusedScore
		}
		if c.FusedScore > maxScore {
			maxScore = c.FusedScore
		}
	}

	rangeScore := maxScore - minScore
	normalize := func(v float64) float64 {
		if rangeScore <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / rangeScore
	}

	blended := make([]float64, topN)
	order := make([]int, topN)
	for i := range head {
		order[i] = i
		chunk := lookup[head[i].ChunkID]
		overlap := 0.0
		if chunk.ContentType != domain.ContentImage {
			overlap = tokenOverlap(queryTokens, toTokenSet(chunk.Content))
		}
		blended[i] = 0.70*normalize(head[i].FusedScore) + 0.30*overlap
	}

	sort.SliceStable(order, func(i, j int) bool {
		return blended[order[i]] > blended[order[j]]
	})

	out := make([]domain.FusedCandidate, 0, len(fused))
	for _, idx := range order {
		out = append(out, head[idx])
	}
	return append(out, fused[topN:]...)
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
