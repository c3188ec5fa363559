package cache

import "strings"

// wordSet lowercases and splits text on whitespace into a set of distinct
// tokens, used as the basis for Jaccard similarity. This is intentionally
// a bag-of-words comparison, not an embedding or cosine-similarity scheme.
func wordSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// jaccardSimilarity scores two strings by the size of their token
// intersection over their token union. Two empty strings are identical
// (1.0); one empty and one non-empty share nothing (0.0).
func jaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// SimilarityMatcher finds a previously cached entry whose descriptive text
// is close enough to a new request to reuse instead of regenerating.
type SimilarityMatcher struct {
	threshold float64
}

func NewSimilarityMatcher(threshold float64) *SimilarityMatcher {
	return &SimilarityMatcher{threshold: threshold}
}

// candidateText extracts the text an Entry's content should be compared
// on. Plain string content is compared directly; a mapping payload (e.g. a
// dynamic-content record with name/description fields) is compared on its
// concatenated name + description. Anything else never matches, since
// there is nothing to tokenize.
func candidateText(content interface{}) (string, bool) {
	switch v := content.(type) {
	case string:
		return v, true
	case map[string]interface{}:
		name, _ := v["name"].(string)
		description, _ := v["description"].(string)
		if name == "" && description == "" {
			return "", false
		}
		return name + " " + description, true
	default:
		return "", false
	}
}

// FindBest scans candidates for the highest-scoring match at or above the
// matcher's threshold. Returns (nil, 0, false) if nothing qualifies.
func (m *SimilarityMatcher) FindBest(query string, candidates []*Entry) (*Entry, float64, bool) {
	var best *Entry
	bestScore := 0.0

	for _, c := range candidates {
		text, ok := candidateText(c.Content)
		if !ok {
			continue
		}
		score := jaccardSimilarity(query, text)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}

	if best == nil || bestScore < m.threshold {
		return nil, 0, false
	}
	return best, bestScore, true
}
