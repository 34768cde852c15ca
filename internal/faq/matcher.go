// Package faq finds the tenant FAQ that answers a customer message.
//
// Matching runs three stages and the first success wins: exact (token-set
// similarity of normalized text), keyword (overlap with the FAQ keyword list,
// tolerating single-character typos) and semantic (a completion call, only
// for small candidate sets with some lexical overlap).
package faq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/genai"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/textnorm"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// MatchType tells which stage produced a match.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchKeyword  MatchType = "keyword"
	MatchSemantic MatchType = "semantic"
)

const (
	// DefaultThreshold is the minimum similarity for keyword and semantic matches.
	DefaultThreshold = 0.5
	// ExactThreshold is the token-set similarity above which a match is exact.
	ExactThreshold = 0.9
	// MaxSemanticCandidates bounds the FAQ set size for which a completion is spent.
	MaxSemanticCandidates = 10
	// MinSemanticOverlap is the lexical overlap required before a semantic attempt.
	MinSemanticOverlap = 0.2
	// typoMinLength is the shortest word for which one edit is tolerated.
	typoMinLength = 5
)

// Match is a FAQ selected for a query.
type Match struct {
	FAQ        models.FAQ `json:"faq"`
	Similarity float64    `json:"similarity"`
	MatchType  MatchType  `json:"match_type"`
	// Index is the position of FAQ in the input slice.
	Index      int        `json:"index"`
}

// Matcher runs the matching pipeline. The provider is optional; without it
// the semantic stage is skipped.
type Matcher struct {
	provider genai.Provider
}

// NewMatcher creates a matcher.
func NewMatcher(provider genai.Provider) *Matcher {
	return &Matcher{provider: provider}
}

// Match returns the best FAQ for query or nil. A threshold <= 0 uses DefaultThreshold.
func (m *Matcher) Match(ctx context.Context, query string, faqs []models.FAQ, threshold float64) *Match {
	if len(faqs) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	queryTokens := textnorm.Tokens(query)
	queryContent := textnorm.ContentTokens(query)

	if idx, score := bestBy(faqs, func(f models.FAQ) float64 {
		return textnorm.Jaccard(queryTokens, textnorm.Tokens(f.Question))
	}); idx >= 0 && score >= ExactThreshold {
		slog.Debug("Matcher.Match: exact match", "faqID", faqs[idx].ID, "similarity", score)
		return &Match{FAQ: faqs[idx], Similarity: score, MatchType: MatchExact, Index: idx}
	}

	idx, score := bestBy(faqs, func(f models.FAQ) float64 {
		return KeywordScore(queryContent, keywordsOf(f))
	})
	if idx >= 0 && score >= threshold {
		slog.Debug("Matcher.Match: keyword match", "faqID", faqs[idx].ID, "similarity", score)
		return &Match{FAQ: faqs[idx], Similarity: score, MatchType: MatchKeyword, Index: idx}
	}

	if !m.semanticAllowed(queryContent, faqs, score) {
		return nil
	}
	match, err := m.semantic(ctx, query, faqs)
	if err != nil {
		slog.Warn("Matcher.Match: semantic stage failed, no match", "error", err)
		return nil
	}
	if match == nil || match.Similarity < threshold {
		return nil
	}
	slog.Debug("Matcher.Match: semantic match", "faqID", match.FAQ.ID, "similarity", match.Similarity)
	return match
}

// TopMatches ranks FAQs by their exact or keyword score, highest first, ties
// in input order. It never calls the provider.
func (m *Matcher) TopMatches(query string, faqs []models.FAQ, limit int, threshold float64) []Match {
	if len(faqs) == 0 {
		return nil
	}
	queryTokens := textnorm.Tokens(query)
	queryContent := textnorm.ContentTokens(query)

	var out []Match
	for i, f := range faqs {
		match := Match{FAQ: f, Index: i}
		if exact := textnorm.Jaccard(queryTokens, textnorm.Tokens(f.Question)); exact >= ExactThreshold {
			match.Similarity, match.MatchType = exact, MatchExact
		} else {
			match.Similarity, match.MatchType = KeywordScore(queryContent, keywordsOf(f)), MatchKeyword
		}
		if match.Similarity >= threshold && match.Similarity > 0 {
			out = append(out, match)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// KeywordScore is the share of keywords present in the query, relative to
// the smaller of the keyword list and the query. A multi-word keyword counts
// when all its words are present.
func KeywordScore(queryContent []string, keywords [][]string) float64 {
	if len(queryContent) == 0 || len(keywords) == 0 {
		return 0
	}
	matched := 0
	for _, kw := range keywords {
		if len(kw) == 0 {
			continue
		}
		all := true
		for _, word := range kw {
			if !containsWord(queryContent, word) {
				all = false
				break
			}
		}
		if all {
			matched++
		}
	}
	denom := min(len(keywords), len(queryContent))
	score := float64(matched) / float64(denom)
	if score > 1 {
		score = 1
	}
	return score
}

// containsWord reports whether word is among tokens, allowing one edit for
// words of typoMinLength letters or more.
func containsWord(tokens []string, word string) bool {
	for _, tok := range tokens {
		if tok == word {
			return true
		}
		if len(tok) >= typoMinLength && len(word) >= typoMinLength && fuzzy.LevenshteinDistance(tok, word) <= 1 {
			return true
		}
	}
	return false
}

// keywordsOf returns the normalized keyword phrases of f. FAQs without
// keywords fall back to the content words of their question.
func keywordsOf(f models.FAQ) [][]string {
	var out [][]string
	for _, kw := range f.Keywords {
		if toks := textnorm.ContentTokens(kw); len(toks) > 0 {
			out = append(out, toks)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, tok := range textnorm.ContentTokens(f.Question) {
		out = append(out, []string{tok})
	}
	return out
}

// bestBy returns the index and score of the highest scoring FAQ, first wins on ties.
func bestBy(faqs []models.FAQ, score func(models.FAQ) float64) (int, float64) {
	best, bestScore := -1, 0.0
	for i, f := range faqs {
		if s := score(f); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

func (m *Matcher) semanticAllowed(queryContent []string, faqs []models.FAQ, keywordScore float64) bool {
	if m.provider == nil || len(faqs) > MaxSemanticCandidates {
		return false
	}
	overlap := keywordScore
	for _, f := range faqs {
		var words [][]string
		for _, tok := range textnorm.ContentTokens(f.Question) {
			words = append(words, []string{tok})
		}
		if s := KeywordScore(queryContent, words); s > overlap {
			overlap = s
		}
	}
	return overlap >= MinSemanticOverlap
}

type semanticChoice struct {
	Index      int     `json:"index" jsonschema_description:"index of the FAQ answering the question, -1 if none"`
	Similarity float64 `json:"similarity" jsonschema:"minimum=0,maximum=1"`
}

var semanticSchema = genai.GenerateSchema[semanticChoice]()

func (m *Matcher) semantic(ctx context.Context, query string, faqs []models.FAQ) (*Match, error) {
	var b strings.Builder
	b.WriteString("Questions fréquentes :\n")
	for i, f := range faqs {
		fmt.Fprintf(&b, "%d. %s\n", i, f.Question)
	}
	fmt.Fprintf(&b, "\nQuestion du client : %q\n", query)
	b.WriteString("Donne l'index de la question fréquente qui a le même sens (-1 si aucune) et une similarité entre 0 et 1.")

	completion, err := m.provider.Complete(ctx, genai.Request{
		Tier: models.Tier1,
		Messages: []genai.Message{
			{Role: genai.RoleSystem, Content: "Tu compares des questions de clients. Réponds uniquement en JSON."},
			{Role: genai.RoleUser, Content: b.String()},
		},
		MaxTokens:   60,
		Temperature: genai.Temp(0),
		SchemaName:  "faq_choice",
		Schema:      semanticSchema,
	})
	if err != nil {
		return nil, err
	}
	var choice semanticChoice
	if err := json.Unmarshal([]byte(strings.TrimSpace(completion.Text)), &choice); err != nil {
		return nil, fmt.Errorf("decode semantic choice: %w", err)
	}
	if choice.Index < 0 || choice.Index >= len(faqs) {
		return nil, nil
	}
	sim := choice.Similarity
	if sim < 0 || sim != sim {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return &Match{FAQ: faqs[choice.Index], Similarity: sim, MatchType: MatchSemantic, Index: choice.Index}, nil
}
