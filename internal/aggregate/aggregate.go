// Package aggregate turns the tag event ledger into scores, ranked tag
// insights and the key themes shown on the dashboard.
package aggregate

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sells-group/feedback-cli/internal/feedback"
	"github.com/sells-group/feedback-cli/internal/model"
)

const (
	// MaxComments is the number of sample comments kept per polarity.
	MaxComments = 3
	// CommentMaxLen truncates each sample comment.
	CommentMaxLen = 180
	// NoComments is shown in place of an empty comment bucket.
	NoComments = "Sin comentarios de muestra"

	// EmptyScore is the score of a category nobody mentioned.
	EmptyScore = 5.0

	maxSignals = 3
	maxPraises = 5
	maxDishes  = 3
)

// Fallback headlines when no customer tag has the polarity.
const (
	NoPositiveFindings = "sin hallazgos positivos"
	NoNegativeFindings = "sin hallazgos negativos"
)

// Report is the full aggregate over a set of events.
type Report struct {
	Events       int
	Customers    int
	CustomerTags []model.CustomerTag
	Scores       model.SentimentScores
	// Insights are in default display order.
	Insights   []model.TagInsight
	Strengths  []model.TagInsight
	Weaknesses []model.TagInsight
	KeyThemes  model.KeyThemes
	// BestTag has the most customers in bien; WorstTag the most in mal.
	BestTag  string
	WorstTag string
}

// Build aggregates events, which must be in ledger order.
func Build(events []model.TagEvent) Report {
	rows := CustomerTags(events)
	insights := Insights(events, rows)

	return Report{
		Events:       len(events),
		Customers:    countCustomers(rows),
		CustomerTags: rows,
		Scores:       Scores(rows),
		Insights:     insights,
		Strengths:    Strengths(insights),
		Weaknesses:   Weaknesses(insights),
		KeyThemes:    KeyThemes(insights),
		BestTag:      topTag(rows, model.PolarityBien, NoPositiveFindings),
		WorstTag:     topTag(rows, model.PolarityMal, NoNegativeFindings),
	}
}

// ResolvePolarity collapses several mentions into one: any mal wins, then
// bien, otherwise neutral.
func ResolvePolarity(ps []model.Polarity) model.Polarity {
	hasBien := false
	for _, p := range ps {
		switch p {
		case model.PolarityMal:
			return model.PolarityMal
		case model.PolarityBien:
			hasBien = true
		}
	}
	if hasBien {
		return model.PolarityBien
	}
	return model.PolarityNeutral
}

type customerKey struct {
	phone string
	tag   string
	cat   model.Category
}

// CustomerTags resolves events to one row per (phone, tag, category), sorted
// by those fields.
func CustomerTags(events []model.TagEvent) []model.CustomerTag {
	groups := make(map[customerKey][]model.Polarity)
	for _, ev := range events {
		k := customerKey{ev.Phone, ev.Tag, ev.Category}
		groups[k] = append(groups[k], ev.Polarity)
	}

	rows := make([]model.CustomerTag, 0, len(groups))
	for k, ps := range groups {
		rows = append(rows, model.CustomerTag{Phone: k.phone, Tag: k.tag, Category: k.cat, Polarity: ResolvePolarity(ps)})
	}
	slices.SortFunc(rows, func(a, b model.CustomerTag) int {
		return cmp.Or(
			cmp.Compare(a.Phone, b.Phone),
			cmp.Compare(a.Tag, b.Tag),
			cmp.Compare(a.Category, b.Category),
		)
	})
	return rows
}

func countCustomers(rows []model.CustomerTag) int {
	phones := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		phones[r.Phone] = struct{}{}
	}
	return len(phones)
}

// CategoryScore is ((bien + 0.5*neutral) / total) * 10 over the category's
// customer tags, rounded to one decimal on the exact decimal value of the
// float (ties to even). A category with no rows scores EmptyScore.
func CategoryScore(rows []model.CustomerTag, c model.Category) float64 {
	var bien, neutral, total int
	for _, r := range rows {
		if r.Category != c {
			continue
		}
		total++
		switch r.Polarity {
		case model.PolarityBien:
			bien++
		case model.PolarityNeutral:
			neutral++
		}
	}
	if total == 0 {
		return EmptyScore
	}
	raw := (float64(bien) + 0.5*float64(neutral)) / float64(total) * 10
	score, _ := strconv.ParseFloat(strconv.FormatFloat(raw, 'f', 1, 64), 64)
	return score
}

// Scores computes every category score plus the global polarity counts over
// customer tags.
func Scores(rows []model.CustomerTag) model.SentimentScores {
	var s model.SentimentScores
	for _, c := range model.AllCategories() {
		s.Set(c, CategoryScore(rows, c))
	}
	for _, r := range rows {
		switch r.Polarity {
		case model.PolarityBien:
			s.Positivos++
		case model.PolarityMal:
			s.Negativos++
		default:
			s.Neutros++
		}
	}
	return s
}

type insightKey struct {
	tag string
	cat model.Category
}

// Insights counts customer tags per (tag, category) and attaches sample
// comments from the raw events. The result is in default order.
func Insights(events []model.TagEvent, rows []model.CustomerTag) []model.TagInsight {
	byKey := make(map[insightKey]*model.TagInsight)
	var order []insightKey
	for _, r := range rows {
		k := insightKey{r.Tag, r.Category}
		in, ok := byKey[k]
		if !ok {
			in = &model.TagInsight{Tag: r.Tag, Category: r.Category}
			byKey[k] = in
			order = append(order, k)
		}
		switch r.Polarity {
		case model.PolarityBien:
			in.Bien++
		case model.PolarityMal:
			in.Mal++
		default:
			in.Neutral++
		}
	}

	out := make([]model.TagInsight, 0, len(order))
	for _, k := range order {
		in := byKey[k]
		in.Balance = in.Bien - in.Mal
		in.Total = in.Bien + in.Neutral + in.Mal
		in.Comments = model.Comments{
			Bien:    sampleComments(events, k, model.PolarityBien),
			Neutral: sampleComments(events, k, model.PolarityNeutral),
			Mal:     sampleComments(events, k, model.PolarityMal),
		}
		out = append(out, *in)
	}
	SortInsights(out)
	return out
}

// SortInsights orders by mal, neutral and bien descending, then tag and
// category ascending.
func SortInsights(insights []model.TagInsight) {
	slices.SortFunc(insights, func(a, b model.TagInsight) int {
		return cmp.Or(
			cmp.Compare(b.Mal, a.Mal),
			cmp.Compare(b.Neutral, a.Neutral),
			cmp.Compare(b.Bien, a.Bien),
			cmp.Compare(a.Tag, b.Tag),
			cmp.Compare(a.Category, b.Category),
		)
	})
}

func sampleComments(events []model.TagEvent, k insightKey, p model.Polarity) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, ev := range events {
		if ev.Tag != k.tag || ev.Category != k.cat || ev.Polarity != p || seen[ev.Text] {
			continue
		}
		seen[ev.Text] = true
		out = append(out, feedback.Truncate(ev.Text, CommentMaxLen))
		if len(out) == MaxComments {
			break
		}
	}
	return out
}

// Preview renders a comment bucket as bullet lines.
func Preview(c model.Comments, p model.Polarity) string {
	comments := c.For(p)
	if len(comments) == 0 {
		return NoComments
	}
	lines := make([]string, len(comments))
	for i, s := range comments {
		lines[i] = "• " + s
	}
	return strings.Join(lines, "\n")
}

func praises(insights []model.TagInsight) []model.TagInsight {
	var out []model.TagInsight
	for _, in := range insights {
		if in.Balance > 0 {
			out = append(out, in)
		}
	}
	slices.SortStableFunc(out, func(a, b model.TagInsight) int {
		return cmp.Or(cmp.Compare(b.Balance, a.Balance), cmp.Compare(b.Bien, a.Bien))
	})
	return out
}

func complaints(insights []model.TagInsight) []model.TagInsight {
	var out []model.TagInsight
	for _, in := range insights {
		if in.Mal > 0 {
			out = append(out, in)
		}
	}
	slices.SortStableFunc(out, func(a, b model.TagInsight) int {
		return cmp.Or(cmp.Compare(b.Mal, a.Mal), cmp.Compare(a.Balance, b.Balance))
	})
	return out
}

// Strengths returns up to three insights with positive balance, by balance
// then bien descending.
func Strengths(insights []model.TagInsight) []model.TagInsight {
	return head(praises(insights), maxSignals)
}

// Weaknesses returns up to three insights with negative balance, by balance
// ascending then mal descending. Without any, it falls back to insights with
// at least one mal, by mal descending then balance ascending.
func Weaknesses(insights []model.TagInsight) []model.TagInsight {
	var out []model.TagInsight
	for _, in := range insights {
		if in.Balance < 0 {
			out = append(out, in)
		}
	}
	if len(out) == 0 {
		return head(complaints(insights), maxSignals)
	}
	slices.SortStableFunc(out, func(a, b model.TagInsight) int {
		return cmp.Or(cmp.Compare(a.Balance, b.Balance), cmp.Compare(b.Mal, a.Mal))
	})
	return head(out, maxSignals)
}

// FormatTag renders "tag (N clientes, balance +B)".
func FormatTag(tag string, count, balance int) string {
	return fmt.Sprintf("%s (%d clientes, balance %+d)", tag, count, balance)
}

// KeyThemes formats the praise, complaint, dish and improvement lists.
func KeyThemes(insights []model.TagInsight) model.KeyThemes {
	kt := model.KeyThemes{
		TopPraises:       []string{},
		TopComplaints:    []string{},
		TopDishes:        []string{},
		ImprovementAreas: []string{},
	}
	for _, in := range head(praises(insights), maxPraises) {
		kt.TopPraises = append(kt.TopPraises, FormatTag(in.Tag, in.Bien, in.Balance))
	}
	for _, in := range head(complaints(insights), maxPraises) {
		kt.TopComplaints = append(kt.TopComplaints, FormatTag(in.Tag, in.Mal, in.Balance))
	}
	for _, in := range praises(insights) {
		if in.Category != model.CategoryComida {
			continue
		}
		kt.TopDishes = append(kt.TopDishes, FormatTag(in.Tag, in.Bien, in.Balance))
		if len(kt.TopDishes) == maxDishes {
			break
		}
	}
	kt.ImprovementAreas = append(kt.ImprovementAreas, head(kt.TopComplaints, maxSignals)...)
	return kt
}

// topTag returns the tag with the most customer tags of polarity p, ties
// broken by name.
func topTag(rows []model.CustomerTag, p model.Polarity, none string) string {
	counts := make(map[string]int)
	for _, r := range rows {
		if r.Polarity == p {
			counts[r.Tag]++
		}
	}
	best, bestN := none, 0
	for tag, n := range counts {
		if n > bestN || (n == bestN && tag < best) {
			best, bestN = tag, n
		}
	}
	return best
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
