package catalog

import "strings"

// EntityIndex is the precomputed keyword/entity lookup the ingestion pipeline
// ships alongside each snapshot. It lets the engine narrow retrieval to a
// handful of candidate events when a text names an entity the catalog knows,
// instead of scanning every embedding.
type EntityIndex struct {
	// Exact maps a normalized single token to the one event it identifies.
	Exact map[string]string `json:"exact" bson:"exact"`
	// Ambiguous maps a token to the several events it could refer to.
	Ambiguous map[string][]string `json:"ambiguous" bson:"ambiguous"`
	// Bigram maps a normalized two-word phrase to its events.
	Bigram map[string][]string `json:"bigram" bson:"bigram"`
	// Alias maps alternate spellings to the canonical token used by Exact.
	Alias map[string]string `json:"alias" bson:"alias"`
}

// Resolve returns candidate event tickers mentioned by the text, in a
// deterministic order: bigram hits, then exact/alias hits, then ambiguous
// hits. Returns nil when the text names nothing the index knows, which tells
// the caller to fall back to a full scan.
func (ix *EntityIndex) Resolve(text string) []string {
	if ix == nil {
		return nil
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	add := func(tickers ...string) {
		for _, t := range tickers {
			if t != "" && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}

	for i := 0; i+1 < len(tokens); i++ {
		if hits, ok := ix.Bigram[tokens[i]+" "+tokens[i+1]]; ok {
			add(hits...)
		}
	}
	for _, tok := range tokens {
		if canonical, ok := ix.Alias[tok]; ok {
			tok = canonical
		}
		if ticker, ok := ix.Exact[tok]; ok {
			add(ticker)
		}
		if hits, ok := ix.Ambiguous[tok]; ok {
			add(hits...)
		}
	}
	return out
}

// stopWords are skipped during tokenization; entity tables never key on them.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"will": true, "would": true, "could": true, "should": true, "may": true, "might": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true, "with": true,
	"by": true, "from": true, "as": true, "into": true, "through": true,
	"this": true, "that": true, "these": true, "those": true,
	"it": true, "its": true, "their": true, "they": true, "them": true,
	"what": true, "when": true, "where": true, "who": true, "which": true, "how": true,
	"if": true, "then": true, "else": true, "than": true,
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	text = strings.ReplaceAll(text, "?", " ")
	text = strings.ReplaceAll(text, "'", " ")
	text = strings.ReplaceAll(text, "\"", " ")
	words := strings.Fields(text)

	var tokens []string
	for _, w := range words {
		w = strings.Trim(w, ".,!?:;\"'()[]#@")
		if len(w) > 1 && !stopWords[w] {
			tokens = append(tokens, w)
		}
	}
	return tokens
}
