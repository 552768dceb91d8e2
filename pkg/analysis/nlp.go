package analysis

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"intellimed/pkg/domain"
)

// Entity labels emitted by LexiconAnalyzer.
const (
	LabelMedication = "MEDICATION"
	LabelDosage     = "DOSAGE"
	LabelCondition  = "CONDITION"
)

const maxSummaryRunes = 240

var (
	wordPattern     = regexp.MustCompile(`[A-Za-z][A-Za-z\-]+`)
	dosagePattern   = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s?(?:mg|mcg|ml|g|iu)\b`)
	sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]*`)
)

var defaultMedications = []string{
	"acetaminophen", "amlodipine", "amoxicillin", "aspirin", "atorvastatin",
	"azithromycin", "ibuprofen", "insulin", "lisinopril", "metformin",
	"omeprazole", "paracetamol", "prednisone", "salbutamol", "warfarin",
}

var defaultConditions = []string{
	"anemia", "asthma", "bronchitis", "diabetes", "fracture", "hypertension",
	"infection", "influenza", "migraine", "pneumonia", "tuberculosis",
}

// LexiconAnalyzer is the built-in NLP stage: a short extractive summary plus
// dictionary and pattern based entity tagging.
type LexiconAnalyzer struct {
	medications map[string]struct{}
	conditions  map[string]struct{}
}

func NewLexiconAnalyzer() *LexiconAnalyzer {
	return NewLexiconAnalyzerWith(defaultMedications, defaultConditions)
}

// NewLexiconAnalyzerWith builds an analyzer from custom word lists.
func NewLexiconAnalyzerWith(medications, conditions []string) *LexiconAnalyzer {
	return &LexiconAnalyzer{
		medications: toSet(medications),
		conditions:  toSet(conditions),
	}
}

func (a *LexiconAnalyzer) Analyze(ctx context.Context, text string) (NLPResult, error) {
	if err := ctx.Err(); err != nil {
		return NLPResult{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return NLPResult{Entities: []domain.Entity{}}, nil
	}
	return NLPResult{
		Summary:  summarize(text),
		Entities: a.entities(text),
	}, nil
}

func (a *LexiconAnalyzer) entities(text string) []domain.Entity {
	type span struct {
		start  int
		entity domain.Entity
	}
	var spans []span
	seen := make(map[string]struct{})
	add := func(start int, value, label string) {
		key := label + "|" + strings.ToLower(value)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		spans = append(spans, span{start: start, entity: domain.Entity{Text: value, Label: label}})
	}

	for _, loc := range wordPattern.FindAllStringIndex(text, -1) {
		word := text[loc[0]:loc[1]]
		lower := strings.ToLower(word)
		if _, ok := a.medications[lower]; ok {
			add(loc[0], word, LabelMedication)
			continue
		}
		if _, ok := a.conditions[lower]; ok {
			add(loc[0], word, LabelCondition)
		}
	}
	for _, loc := range dosagePattern.FindAllStringIndex(text, -1) {
		add(loc[0], text[loc[0]:loc[1]], LabelDosage)
	}

	// order of appearance
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j].start < spans[j-1].start; j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}
	out := make([]domain.Entity, 0, len(spans))
	for _, s := range spans {
		out = append(out, s.entity)
	}
	return out
}

func summarize(text string) string {
	var b strings.Builder
	for _, sentence := range sentencePattern.FindAllString(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		next := sentence
		if b.Len() > 0 {
			next = " " + sentence
		}
		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(next) > maxSummaryRunes {
			break
		}
		b.WriteString(next)
	}
	if b.Len() == 0 {
		return truncateRunes(text, maxSummaryRunes)
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n]))
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}
