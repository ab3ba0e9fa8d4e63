package ollama

import "fmt"

func buildExpansionPrompt(query string, n int) string {
	return fmt.Sprintf(`Generate %d different rephrasings of the search query below.
Each rephrasing should approach the question from a different angle or use different keywords,
while keeping the original intent. Do not answer the question.
Return ONLY valid JSON:
{"queries":["...","..."]}

Query:
%s
`, n, query)
}
