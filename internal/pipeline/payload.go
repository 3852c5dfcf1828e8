package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feedback-cli/internal/aggregate"
	"github.com/sells-group/feedback-cli/internal/model"
	"github.com/sells-group/feedback-cli/internal/summary"
)

// NoEventsMessage is reported when the ledger is empty.
const NoEventsMessage = "No hay eventos de tags aún. Agrega respuestas en Data/data.csv y actualiza el análisis."

// Payload aggregates the whole event ledger. An empty ledger is not an
// error: the payload carries NoEventsMessage instead.
func (p *Pipeline) Payload(ctx context.Context) (*model.Payload, error) {
	events, err := p.store.ListEvents(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list events")
	}
	zap.L().Info("pipeline: building payload", zap.Int("events", len(events)))

	if len(events) == 0 {
		return &model.Payload{
			Error:    NoEventsMessage,
			Metadata: model.Metadata{TagInsights: []model.TagInsight{}},
		}, nil
	}

	report := aggregate.Build(events)
	s := p.summary.Generate(ctx, summary.BuildEvidence(events, report))
	if s.FortalezaPrincipal == "" {
		s.FortalezaPrincipal = report.BestTag
	}
	if s.RecomendacionPrincipal == "" {
		s.RecomendacionPrincipal = fmt.Sprintf("Atacar el tag '%s' con un plan operativo semanal.", report.WorstTag)
	}

	scores := report.Scores
	themes := report.KeyThemes
	return &model.Payload{
		SentimentScores: &scores,
		KeyThemes:       &themes,
		Summary:         &s,
		Metadata: model.Metadata{
			Events:      report.Events,
			Customers:   report.Customers,
			TagInsights: report.Insights,
		},
	}, nil
}
