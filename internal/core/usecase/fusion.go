package usecase

import (
	"sort"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

// DefaultRRFK is the reciprocal rank fusion smoothing constant.
const DefaultRRFK = 60

type fusionAccumulator struct {
	chunkID   string
	score     float64
	sources   int
	firstSeen int
}

// Fuse merges ranked lists with weighted reciprocal rank fusion. Weights
// default to 1.0 when omitted or when their count does not match the lists.
// Output is ordered by fused score, then source count, then first appearance.
func Fuse(lists []domain.RankedList, weights []float64) []domain.FusedCandidate {
	return FuseWithK(lists, weights, DefaultRRFK)
}

func FuseWithK(lists []domain.RankedList, weights []float64, rrfK int) []domain.FusedCandidate {
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}
	if len(weights) != len(lists) {
		weights = nil
	}

	index := make(map[string]int)
	acc := make([]fusionAccumulator, 0)
	for i, list := range lists {
		weight := 1.0
		if weights != nil {
			weight = weights[i]
		}
		seenInList := make(map[string]struct{}, len(list))
		for pos, chunk := range list {
			if chunk.ID == "" {
				continue
			}
			// a repeated id inside one list keeps its best rank only
			if _, dup := seenInList[chunk.ID]; dup {
				continue
			}
			seenInList[chunk.ID] = struct{}{}

			slot, ok := index[chunk.ID]
			if !ok {
				slot = len(acc)
				index[chunk.ID] = slot
				acc = append(acc, fusionAccumulator{chunkID: chunk.ID, firstSeen: slot})
			}
			acc[slot].score += weight / float64(rrfK+pos+1)
			acc[slot].sources++
		}
	}

	sort.SliceStable(acc, func(i, j int) bool {
		if acc[i].score != acc[j].score {
			return acc[i].score > acc[j].score
		}
		if acc[i].sources != acc[j].sources {
			return acc[i].sources > acc[j].sources
		}
		return acc[i].firstSeen < acc[j].firstSeen
	})

	out := make([]domain.FusedCandidate, 0, len(acc))
	for _, a := range acc {
		out = append(out, domain.FusedCandidate{
			ChunkID:     a.chunkID,
			FusedScore:  a.score,
			SourceCount: a.sources,
		})
	}
	return out
}

// collectChunks indexes every chunk of lists by id, keeping the richest record.
func collectChunks(into map[string]domain.Chunk, lists []domain.RankedList) map[string]domain.Chunk {
	if into == nil {
		into = make(map[string]domain.Chunk)
	}
	for _, list := range lists {
		for _, chunk := range list {
			if chunk.ID == "" {
				continue
			}
			into[chunk.ID] = preferRicherChunk(into[chunk.ID], chunk)
		}
	}
	return into
}

// fusedToRankedList turns fused candidates back into a ranked list so they
// can take part in a further fusion round.
func fusedToRankedList(fused []domain.FusedCandidate, lookup map[string]domain.Chunk) domain.RankedList {
	out := make(domain.RankedList, 0, len(fused))
	for _, candidate := range fused {
		chunk, ok := lookup[candidate.ChunkID]
		if !ok {
			continue
		}
		chunk.Score = candidate.FusedScore
		out = append(out, chunk)
	}
	return out
}

func trimCandidates(fused []domain.FusedCandidate, limit int) []domain.FusedCandidate {
	if limit <= 0 || len(fused) <= limit {
		return fused
	}
	return fused[:limit]
}

func preferRicherChunk(current, candidate domain.Chunk) domain.Chunk {
	if current.ID == "" {
		return candidate
	}
	if current.Content == "" && candidate.Content != "" {
		current.Content = candidate.Content
	}
	if current.DocumentID == "" && candidate.DocumentID != "" {
		current.DocumentID = candidate.DocumentID
	}
	if current.ContentType == "" && candidate.ContentType != "" {
		current.ContentType = candidate.ContentType
	}
	if current.Locator == (domain.Locator{}) && candidate.Locator != (domain.Locator{}) {
		current.Locator = candidate.Locator
	}
	return current
}
