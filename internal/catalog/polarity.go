package catalog

import (
	"regexp"
	"strings"

	"github.com/sells-group/feedback-cli/internal/model"
)

// Word characters include accented letters so "olvidó" still counts as one
// word.
const wordChars = `\p{L}\p{N}_`

var hardNegatives = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|[^` + wordChars + `])colapsad[oa]s?(?:$|[^` + wordChars + `])`),
	regexp.MustCompile(`(?:^|[^` + wordChars + `])olvid[` + wordChars + `]+`),
	regexp.MustCompile(`(?:^|[^` + wordChars + `])ignor[` + wordChars + `]+`),
	regexp.MustCompile(`(?:^|[^` + wordChars + `])desapareci[` + wordChars + `]+`),
}

var positiveHints = []string{
	"excelente", "amable", "amables", "buena", "bueno", "bien", "genial",
	"agradable", "recomendado", "espectacular", "rico", "justo", "impecable",
}

var negativeHints = []string{
	"colapsada", "colapsado", "olvidaban", "olvidaron", "ignorar", "ignoraba",
	"ignoraban", "desaparecieron", "malo", "mala", "pesimo", "pésimo", "lento",
	"lenta", "demora", "tard", "caro", "frio", "fría", "prepotente",
	"desorganizada", "descuidada", "mal", "nunca", "rogar", "queja", "error",
}

var neutralHints = []string{
	"normal", "regular", "promedio", "aceptable", "correcta", "correcto", "ok", "a secas",
}

// InferPolarity labels text with a polarity. Rules apply in order:
// hard-negative patterns force mal; mixed positive and negative hints give
// neutral; then a negative hint, a positive hint or a neutral hint decide;
// otherwise the question's default polarity is used (bien for unknown
// questions).
func InferPolarity(text string, questionID int) model.Polarity {
	normalized := NormalizeText(text)

	for _, re := range hardNegatives {
		if re.MatchString(normalized) {
			return model.PolarityMal
		}
	}

	hasPos := containsAny(normalized, positiveHints)
	hasNeg := containsAny(normalized, negativeHints)

	switch {
	case hasPos && hasNeg:
		return model.PolarityNeutral
	case hasNeg:
		return model.PolarityMal
	case hasPos:
		return model.PolarityBien
	case containsAny(normalized, neutralHints):
		return model.PolarityNeutral
	}

	if q, ok := model.QuestionByID(questionID); ok {
		return q.DefaultPolarity
	}
	return model.PolarityBien
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}
