package qdrant

import (
	"strconv"
	"strings"
	"testing"
)

func TestEncodeSparseQueryDeterministic(t *testing.T) {
	v1 := encodeSparseQuery("Risk level for DOC_0001")
	v2 := encodeSparseQuery("Risk level for DOC_0001")
	if len(v1.Indices) != len(v2.Indices) || len(v1.Values) != len(v2.Values) {
		t.Fatalf("vector sizes mismatch: v1=%d/%d v2=%d/%d", len(v1.Indices), len(v1.Values), len(v2.Indices), len(v2.Values))
	}
	for i := range v1.Indices {
		if v1.Indices[i] != v2.Indices[i] {
			t.Fatalf("indices mismatch at %d: %d vs %d", i, v1.Indices[i], v2.Indices[i])
		}
		if v1.Values[i] != v2.Values[i] {
			t.Fatalf("values mismatch at %d: %f vs %f", i, v1.Values[i], v2.Values[i])
		}
	}
}

func TestEncodeSparseQuerySortsIndices(t *testing.T) {
	v := encodeSparseQuery("zulu alpha beta gamma")
	if len(v.Indices) == 0 {
		t.Fatalf("expected non-empty sparse vector")
	}
	for i := 1; i < len(v.Indices); i++ {
		if v.Indices[i-1] > v.Indices[i] {
			t.Fatalf("indices not sorted at %d: %d > %d", i, v.Indices[i-1], v.Indices[i])
		}
	}
}

func TestEncodeSparseQueryEmptyNoiseInput(t *testing.T) {
	v := encodeSparseQuery("___---!!!")
	if len(v.Indices) != 0 || len(v.Values) != 0 {
		t.Fatalf("expected empty sparse vector, got %+v", v)
	}
}

func TestTokenizeAlphaNumUnicodeAndDigitsStability(t *testing.T) {
	tokens := tokenizeAlphaNum("Привет DOC_0001 версия-2")
	if len(tokens) == 0 {
		t.Fatalf("expected tokens, got empty")
	}
	foundDoc := false
	foundNum := false
	for _, tok := range tokens {
		if tok == "doc" {
			foundDoc = true
		}
		if tok == "0001" {
			foundNum = true
		}
	}
	if !foundDoc || !foundNum {
		t.Fatalf("expected doc and 0001 tokens, got %v", tokens)
	}
}

func TestTokenizeAlphaNumKeepsCyrillicWords(t *testing.T) {
	tokens := tokenizeAlphaNum("Привет, мир")
	if len(tokens) != 2 || tokens[0] != "привет" || tokens[1] != "мир" {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
}

func TestEncodeSparseDocumentCapsTermsKeepingFrequent(t *testing.T) {
	var b strings.Builder
	for i := 0; i < maxSparseTerms+50; i++ {
		b.WriteString("term")
		b.WriteString(strconv.Itoa(i))
		b.WriteByte(' ')
	}
	b.WriteString("revenue revenue revenue")

	v := encodeSparseDocument(b.String())
	if len(v.Indices) != maxSparseTerms {
		t.Fatalf("expected %d terms, got %d", maxSparseTerms, len(v.Indices))
	}
	want := hashToken("revenue")
	found := false
	for _, idx := range v.Indices {
		if idx == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected most frequent term to survive the cap")
	}
}

func TestEncodeSparseQueryDropsStopwords(t *testing.T) {
	withStopwords := encodeSparseQuery("the revenue of the company")
	without := encodeSparseQuery("revenue company")
	if len(withStopwords.Indices) != len(without.Indices) {
		t.Fatalf("expected stopwords dropped, got %d vs %d terms", len(withStopwords.Indices), len(without.Indices))
	}
	for i := range without.Indices {
		if withStopwords.Indices[i] != without.Indices[i] {
			t.Fatalf("unexpected index at %d", i)
		}
	}
	if v := encodeSparseQuery("the of and"); len(v.Indices) != 0 {
		t.Fatalf("stopword-only query must encode empty, got %+v", v)
	}
}

func TestEncodeSparseDocumentSaturatesRepeatedTerms(t *testing.T) {
	once := encodeSparseDocument("revenue")
	many := encodeSparseDocument(strings.Repeat("revenue ", 50))
	if many.Values[0] <= once.Values[0] {
		t.Fatalf("repeated term must weigh more: %f vs %f", many.Values[0], once.Values[0])
	}
	if many.Values[0] >= bm25K1+1 {
		t.Fatalf("term weight must saturate below k1+1, got %f", many.Values[0])
	}
}
