package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/feedback-cli/internal/model"
	"github.com/sells-group/feedback-cli/internal/oracle"
)

// Summary sources.
const (
	SourceOracle   = "oracle"
	SourceFallback = "fallback"
)

const (
	noFindings       = "sin hallazgos"
	noRecommendation = "sin recomendación"
	noData           = "sin datos"
)

const systemPrompt = `Eres consultor senior de restaurantes.
Recibirás top 3 fortalezas y top 3 debilidades con comentarios reales de clientes.

Devuelve ÚNICAMENTE JSON válido con este formato:
{
  "resumen": "<2-4 oraciones ejecutivas>",
  "fortalezas": ["<fortaleza 1>", "<fortaleza 2>", "<fortaleza 3>"],
  "debilidades": ["<debilidad 1>", "<debilidad 2>", "<debilidad 3>"],
  "plan_mejora": ["<acción 1>", "<acción 2>", "<acción 3>"],
  "fortaleza_principal": "<principal fortaleza>",
  "recomendacion_principal": "<acción de impacto inmediato>"
}

Reglas:
- Usa solo la evidencia del contexto.
- No inventes tags, cifras ni comentarios.
- Escribe en español claro y accionable para el dueño.`

// Generator asks the oracle for the narrative and falls back to a template.
type Generator struct {
	oracle oracle.Oracle
}

// NewGenerator creates a Generator. A nil oracle always uses the template.
func NewGenerator(o oracle.Oracle) *Generator {
	return &Generator{oracle: o}
}

// Generate never fails: oracle errors, unparseable answers and answers
// without a resumen all produce the template narrative.
func (g *Generator) Generate(ctx context.Context, ev Evidence) model.Summary {
	if g.oracle == nil {
		return Fallback(ev)
	}
	log := zap.L().With(zap.String("oracle", g.oracle.Name()))

	evidenceJSON, err := json.Marshal(ev)
	if err != nil {
		log.Error("summary: marshal evidence", zap.Error(err))
		return Fallback(ev)
	}

	resp, err := g.oracle.Ask(ctx, oracle.Request{
		Phase:  oracle.PhaseSummary,
		System: systemPrompt,
		Prompt: "CONTEXTO:\n" + string(evidenceJSON),
	})
	if err != nil {
		log.Warn("summary: oracle failed, using fallback", zap.Error(err))
		return Fallback(ev)
	}

	var parsed narrative
	if err := oracle.DecodeJSON(resp, &parsed); err != nil {
		log.Warn("summary: unparseable narrative, using fallback", zap.Error(err))
		return Fallback(ev)
	}

	s, ok := parsed.normalize(ev)
	if !ok {
		log.Warn("summary: narrative without resumen, using fallback")
		return Fallback(ev)
	}
	return s
}

// narrative is the oracle's answer. List fields accept a single string.
type narrative struct {
	Resumen                text     `json:"resumen"`
	Fortalezas             textList `json:"fortalezas"`
	Debilidades            textList `json:"debilidades"`
	PlanMejora             textList `json:"plan_mejora"`
	FortalezaPrincipal     text     `json:"fortaleza_principal"`
	RecomendacionPrincipal text     `json:"recomendacion_principal"`
}

func (n narrative) normalize(ev Evidence) (model.Summary, bool) {
	s := model.Summary{
		Resumen:                string(n.Resumen),
		Fortalezas:             []string(n.Fortalezas),
		Debilidades:            []string(n.Debilidades),
		PlanMejora:             []string(n.PlanMejora),
		FortalezaPrincipal:     string(n.FortalezaPrincipal),
		RecomendacionPrincipal: string(n.RecomendacionPrincipal),
		Source:                 SourceOracle,
	}
	if s.Resumen == "" {
		return model.Summary{}, false
	}

	fb := Fallback(ev)
	if len(s.Fortalezas) == 0 {
		s.Fortalezas = fb.Fortalezas
	}
	if len(s.Debilidades) == 0 {
		s.Debilidades = fb.Debilidades
	}
	if len(s.PlanMejora) == 0 {
		s.PlanMejora = fb.PlanMejora
	}
	if s.FortalezaPrincipal == "" {
		s.FortalezaPrincipal = first(s.Fortalezas, noFindings)
	}
	if s.RecomendacionPrincipal == "" {
		s.RecomendacionPrincipal = first(s.PlanMejora, noRecommendation)
	}
	return s, true
}

// Fallback builds the narrative from the evidence alone.
func Fallback(ev Evidence) model.Summary {
	strengthTags := make([]string, 0, len(ev.Strengths))
	fortalezas := make([]string, 0, len(ev.Strengths))
	for _, s := range ev.Strengths {
		strengthTags = append(strengthTags, s.Tag)
		fortalezas = append(fortalezas, fmt.Sprintf("%s: %d clientes positivos (balance %+d).", s.Tag, s.Bien, s.Balance))
	}

	weaknessTags := make([]string, 0, len(ev.Weaknesses))
	debilidades := make([]string, 0, len(ev.Weaknesses))
	for _, w := range ev.Weaknesses {
		weaknessTags = append(weaknessTags, w.Tag)
		debilidades = append(debilidades, fmt.Sprintf("%s: %d clientes negativos (balance %+d).", w.Tag, w.Mal, w.Balance))
	}

	focus := "Definir foco principal de mejora semanal."
	if len(weaknessTags) > 0 {
		focus = fmt.Sprintf("Atender de inmediato el tag '%s' con plan operativo semanal.", weaknessTags[0])
	}
	plan := []string{
		focus,
		"Capacitar al equipo usando comentarios reales como casos de entrenamiento.",
		"Medir semanalmente la variación del balance por tag para validar impacto.",
	}

	resumen := fmt.Sprintf("Se analizaron %d clientes. Fortalezas: %s. Debilidades: %s.",
		ev.TotalCustomers, joinOr(strengthTags, noData), joinOr(weaknessTags, noData))

	return model.Summary{
		Resumen:                resumen,
		Fortalezas:             fortalezas,
		Debilidades:            debilidades,
		PlanMejora:             plan,
		FortalezaPrincipal:     first(strengthTags, noFindings),
		RecomendacionPrincipal: plan[0],
		Source:                 SourceFallback,
	}
}

func first(s []string, def string) string {
	if len(s) == 0 {
		return def
	}
	return s[0]
}

func joinOr(s []string, def string) string {
	if len(s) == 0 {
		return def
	}
	return strings.Join(s, ", ")
}

// text decodes any JSON scalar as its trimmed string form.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	*t = text(scalar(b))
	return nil
}

// textList decodes a list of scalars, or a single string, dropping blanks.
type textList []string

func (l *textList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		out := make([]string, 0, len(raw))
		for _, r := range raw {
			if s := scalar(r); s != "" {
				out = append(out, s)
			}
		}
		*l = out
		return nil
	}
	if s := scalar(b); s != "" && b[0] == '"' {
		*l = []string{s}
		return nil
	}
	*l = nil
	return nil
}

func scalar(b []byte) string {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(b))
}
