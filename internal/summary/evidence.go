// Package summary writes the executive narrative that accompanies the
// aggregate scores.
package summary

import (
	"github.com/sells-group/feedback-cli/internal/aggregate"
	"github.com/sells-group/feedback-cli/internal/model"
)

// Signal is one strength or weakness with the comments backing it.
type Signal struct {
	Tag         string   `json:"tag"`
	Balance     int      `json:"balance"`
	Bien        int      `json:"bien"`
	Neutral     int      `json:"neutral"`
	Mal         int      `json:"mal"`
	Comentarios []string `json:"comentarios"`
}

// Evidence is everything the narrative may draw on. Nothing outside it may
// appear in a summary.
type Evidence struct {
	TotalCustomers int      `json:"total_customers"`
	Strengths      []Signal `json:"fortalezas_top3"`
	Weaknesses     []Signal `json:"debilidades_top3"`
}

// BuildEvidence packages the report's top strengths with positive comments
// and top weaknesses with negative comments.
func BuildEvidence(events []model.TagEvent, r aggregate.Report) Evidence {
	ev := Evidence{
		TotalCustomers: r.Customers,
		Strengths:      make([]Signal, 0, len(r.Strengths)),
		Weaknesses:     make([]Signal, 0, len(r.Weaknesses)),
	}
	for _, in := range r.Strengths {
		ev.Strengths = append(ev.Strengths, signal(events, in, model.PolarityBien))
	}
	for _, in := range r.Weaknesses {
		ev.Weaknesses = append(ev.Weaknesses, signal(events, in, model.PolarityMal))
	}
	return ev
}

func signal(events []model.TagEvent, in model.TagInsight, p model.Polarity) Signal {
	return Signal{
		Tag:         in.Tag,
		Balance:     in.Balance,
		Bien:        in.Bien,
		Neutral:     in.Neutral,
		Mal:         in.Mal,
		Comentarios: tagComments(events, in.Tag, p),
	}
}

// tagComments returns up to three distinct comments of tag with polarity p,
// or of any polarity when none match.
func tagComments(events []model.TagEvent, tag string, p model.Polarity) []string {
	out := collect(events, func(ev model.TagEvent) bool { return ev.Tag == tag && ev.Polarity == p })
	if len(out) == 0 {
		out = collect(events, func(ev model.TagEvent) bool { return ev.Tag == tag })
	}
	return out
}

func collect(events []model.TagEvent, keep func(model.TagEvent) bool) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, ev := range events {
		if !keep(ev) || seen[ev.Text] {
			continue
		}
		seen[ev.Text] = true
		out = append(out, ev.Text)
		if len(out) == aggregate.MaxComments {
			break
		}
	}
	return out
}
