package search

import "sort"

// AggregateByDocument rolls chunk hits up to one entry per document.
// best_score is the max chunk score, total_score the sum, and the
// snippet comes from the highest-scoring chunk. Documents are ordered
// by best score descending.
func AggregateByDocument(hits []Hit) []DocumentHit {
	byDoc := map[string]*DocumentHit{}
	order := []string{}

	for _, h := range hits {
		doc, ok := byDoc[h.DocID]
		if !ok {
			doc = &DocumentHit{
				DocID:     h.DocID,
				URL:       h.URL,
				Title:     h.Title,
				BestScore: h.Score,
				Snippet:   snippet(h.Text),
			}
			byDoc[h.DocID] = doc
			order = append(order, h.DocID)
		}
		if h.Score > doc.BestScore {
			doc.BestScore = h.Score
			doc.Snippet = snippet(h.Text)
		}
		doc.TotalScore += h.Score
		doc.MatchCount++
	}

	out := make([]DocumentHit, 0, len(order))
	for _, id := range order {
		out = append(out, *byDoc[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BestScore > out[j].BestScore
	})
	return out
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLength {
		return text
	}
	return string(runes[:snippetLength])
}
