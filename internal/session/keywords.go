package session

import (
	"regexp"
	"sort"
	"strings"
)

// stopWords covers Portuguese and English function words; utterances come
// in either language.
var stopWords = map[string]struct{}{}

func init() {
	words := []string{
		"o", "a", "os", "as", "um", "uma", "uns", "umas",
		"de", "da", "do", "das", "dos", "em", "na", "no", "nas", "nos",
		"por", "para", "com", "sem", "que", "e", "ou", "se", "mas",
		"como", "quando", "onde", "porque", "qual", "quem", "quê",
		"the", "an", "is", "are", "was", "were", "be", "been",
		"being", "have", "has", "had", "does", "did", "will",
		"would", "could", "should", "may", "might", "must", "can",
		"to", "of", "in", "for", "on", "with", "at", "by", "from",
		"and", "or", "but", "if", "then", "else", "when", "where",
		"how", "what", "which", "who", "whom", "this", "that",
	}
	for _, w := range words {
		stopWords[w] = struct{}{}
	}
}

var nonWordPattern = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// ContentWords returns the content tokens of text in utterance order,
// lower-cased, punctuation stripped, stop words and short tokens removed.
func ContentWords(text string) []string {
	cleaned := nonWordPattern.ReplaceAllString(strings.ToLower(text), " ")

	var words []string
	for _, word := range strings.Fields(cleaned) {
		if len([]rune(word)) <= 2 {
			continue
		}
		if _, skip := stopWords[word]; skip {
			continue
		}
		words = append(words, word)
	}
	return words
}

// ExtractKeywords returns up to ten frequency-ranked keywords from text,
// lower-cased, punctuation stripped, stop words and short tokens removed.
func ExtractKeywords(text string) []string {
	freq := make(map[string]int)
	for _, word := range ContentWords(text) {
		freq[word]++
	}

	keywords := make([]string, 0, len(freq))
	for w := range freq {
		keywords = append(keywords, w)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if freq[keywords[i]] != freq[keywords[j]] {
			return freq[keywords[i]] > freq[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if len(keywords) > 10 {
		keywords = keywords[:10]
	}
	return keywords
}

// overlapRatio computes the Jaccard ratio |intersection| / |union| over
// two keyword sets. Either set being empty counts as fully similar, so an
// empty utterance never triggers a session boundary on its own.
func overlapRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 1.0
	}

	setA := make(map[string]struct{}, len(a))
	for _, w := range a {
		setA[strings.ToLower(w)] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, w := range b {
		setB[strings.ToLower(w)] = struct{}{}
	}

	union := make(map[string]struct{}, len(setA)+len(setB))
	var intersection int
	for w := range setA {
		union[w] = struct{}{}
	}
	for w := range setB {
		if _, ok := setA[w]; ok {
			intersection++
		}
		union[w] = struct{}{}
	}

	return float64(intersection) / float64(len(union))
}
