package domain

// NoContextSentinel replaces an empty assembled context at the generation boundary.
const NoContextSentinel = "No relevant context found in the project documents."

type Citation struct {
	Index      int     `json:"index"`
	DocumentID string  `json:"document_id"`
	Locator    Locator `json:"locator"`
}

// AssembledContext buckets fused chunks by content type. TextCitations and
// TableCitations hold the citation index of the entry at the same position.
type AssembledContext struct {
	Texts          []string   `json:"texts"`
	Tables         []string   `json:"tables"`
	Images         []string   `json:"images"`
	Citations      []Citation `json:"citations"`
	TextCitations  []int      `json:"-"`
	TableCitations []int      `json:"-"`
}

func (c AssembledContext) IsEmpty() bool {
	return len(c.Texts) == 0 && len(c.Tables) == 0 && len(c.Images) == 0
}
