package qdrant

import (
	"cmp"
	"hash/fnv"
	"slices"
	"strings"
	"unicode"
)

// sparseVector is a hashed bag-of-words with saturated term frequencies, the
// keyword-search counterpart of the dense embedding.
type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	// BM25 k1; documents and queries share it so weights stay comparable.
	bm25K1         = 1.2
	maxSparseTerms = 256
)

// stopwords follows the short English list Postgres drops in
// websearch_to_tsquery, so both keyword backends ignore the same noise.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {}, "with": {},
}

func encodeSparseDocument(content string) sparseVector {
	return encodeSparse(content)
}

func encodeSparseQuery(query string) sparseVector {
	return encodeSparse(query)
}

func encodeSparse(text string) sparseVector {
	tf := make(map[uint32]float64)
	for _, token := range tokenizeAlphaNum(text) {
		if _, stop := stopwords[token]; stop {
			continue
		}
		tf[hashToken(token)]++
	}
	if len(tf) == 0 {
		return sparseVector{}
	}

	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	if len(indices) > maxSparseTerms {
		// most frequent first, hash order on ties
		slices.SortFunc(indices, func(a, b uint32) int {
			if c := cmp.Compare(tf[b], tf[a]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		indices = indices[:maxSparseTerms]
	}
	slices.Sort(indices)

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(tf[idx] * (bm25K1 + 1) / (tf[idx] + bm25K1))
	}
	return sparseVector{Indices: indices, Values: values}
}

// hashToken maps a token to a non-zero sparse index.
func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return max(h.Sum32(), 1)
}

// tokenizeAlphaNum lowercases and splits on anything that is not a letter or
// digit, so "DOC_0001" yields "doc" and "0001".
func tokenizeAlphaNum(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
