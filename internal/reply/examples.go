package reply

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
)

// Example is a curated inbound message and the reply it should get.
type Example struct {
	Email string `yaml:"email" json:"email"`
	Reply string `yaml:"reply" json:"reply"`
}

// Examples finds curated examples similar to a message.
type Examples interface {
	Similar(text string, k int) []Example
}

// DefaultExamples seeds the example set when none are configured.
var DefaultExamples = []Example{
	{
		Email: "Hi, Your resume has been shortlisted. When will be a good time for you to attend the technical interview?",
		Reply: "Thank you for shortlisting my profile! I'm available for a technical interview. You can book a slot here: https://cal.com/example",
	},
	{
		Email: "We have booked your meeting for next Tuesday.",
		Reply: "Thanks for confirming the meeting. Looking forward to it!",
	},
	{
		Email: "I am currently out of office and will return next week.",
		Reply: "Thank you for your message. I will respond when you return.",
	},
	{
		Email: "Can you provide the latest project report?",
		Reply: "Sure! I will send you the latest project report by the end of the day.",
	},
	{
		Email: "Please confirm your attendance for the workshop.",
		Reply: "I confirm my attendance for the workshop. Thank you for the invite!",
	},
	{
		Email: "Your subscription will expire soon.",
		Reply: "Thanks for the reminder! I will renew my subscription shortly.",
	},
}

// Static ranks a fixed example set by word overlap with the query.
type Static struct {
	examples []Example
	terms    []map[string]struct{}
}

// NewStatic indexes examples. A nil or empty set falls back to
// DefaultExamples.
func NewStatic(examples []Example) *Static {
	if len(examples) == 0 {
		examples = DefaultExamples
	}
	s := &Static{examples: examples}
	for _, e := range examples {
		s.terms = append(s.terms, terms(e.Email))
	}
	return s
}

// Similar returns up to k examples sharing the most words with text, best
// first. Examples with no shared words are not returned.
func (s *Static) Similar(text string, k int) []Example {
	query := terms(text)
	type scored struct {
		idx   int
		score float64
	}
	var ranked []scored
	for i, t := range s.terms {
		shared := 0
		for w := range query {
			if _, ok := t[w]; ok {
				shared++
			}
		}
		if shared == 0 {
			continue
		}
		// Jaccard similarity
		union := len(query) + len(t) - shared
		ranked = append(ranked, scored{i, float64(shared) / float64(union)})
	}
	slices.SortStableFunc(ranked, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})

	out := make([]Example, 0, min(k, len(ranked)))
	for _, r := range ranked[:min(k, len(ranked))] {
		out = append(out, s.examples[r.idx])
	}
	return out
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "be": {}, "for": {}, "has": {}, "have": {},
	"i": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "the": {},
	"to": {}, "we": {}, "will": {}, "you": {}, "your": {},
}

func terms(text string) map[string]struct{} {
	out := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if _, stop := stopWords[w]; stop || len(w) < 2 {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}
