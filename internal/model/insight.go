package model

// CustomerTag is the resolved polarity of one customer for one (tag, category)
// pair after collapsing all of their events.
type CustomerTag struct {
	Phone    string
	Tag      string
	Category Category
	Polarity Polarity
}

// Comments holds up to three sample comments per polarity.
type Comments struct {
	Bien    []string `json:"bien"`
	Neutral []string `json:"neutral"`
	Mal     []string `json:"mal"`
}

// For returns the comment bucket for a polarity.
func (c Comments) For(p Polarity) []string {
	switch p {
	case PolarityBien:
		return c.Bien
	case PolarityMal:
		return c.Mal
	default:
		return c.Neutral
	}
}

// TagInsight is the per (tag, category) aggregate over resolved customer tags.
type TagInsight struct {
	Tag      string   `json:"tag"`
	Category Category `json:"category"`
	Bien     int      `json:"bien"`
	Neutral  int      `json:"neutral"`
	Mal      int      `json:"mal"`
	Balance  int      `json:"balance"`
	Total    int      `json:"total"`
	Comments Comments `json:"comments"`
}

// SentimentScores is the scores block of the payload. Category scores are on
// a 0-10 scale; the trailing counts are customer-tag rows by polarity.
type SentimentScores struct {
	Atencion           float64 `json:"atencion"`
	Comida             float64 `json:"comida"`
	PrecioCalidad      float64 `json:"precio_calidad"`
	Ambiente           float64 `json:"ambiente"`
	ExperienciaGeneral float64 `json:"experiencia_general"`
	Positivos          int     `json:"positivos"`
	Negativos          int     `json:"negativos"`
	Neutros            int     `json:"neutros"`
}

// Set stores the score of a category.
func (s *SentimentScores) Set(c Category, score float64) {
	switch c {
	case CategoryAtencion:
		s.Atencion = score
	case CategoryComida:
		s.Comida = score
	case CategoryPrecioCalidad:
		s.PrecioCalidad = score
	case CategoryAmbiente:
		s.Ambiente = score
	case CategoryExperienciaGeneral:
		s.ExperienciaGeneral = score
	}
}

// Score returns the score of a category.
func (s SentimentScores) Score(c Category) float64 {
	switch c {
	case CategoryAtencion:
		return s.Atencion
	case CategoryComida:
		return s.Comida
	case CategoryPrecioCalidad:
		return s.PrecioCalidad
	case CategoryAmbiente:
		return s.Ambiente
	case CategoryExperienciaGeneral:
		return s.ExperienciaGeneral
	}
	return 0
}

// KeyThemes lists the formatted top signals shown alongside the scores.
type KeyThemes struct {
	TopPraises       []string `json:"top_praises"`
	TopComplaints    []string `json:"top_complaints"`
	TopDishes        []string `json:"top_dishes"`
	ImprovementAreas []string `json:"improvement_areas"`
}

// Summary is the executive narrative.
type Summary struct {
	Resumen                string   `json:"resumen"`
	Fortalezas             []string `json:"fortalezas"`
	Debilidades            []string `json:"debilidades"`
	PlanMejora             []string `json:"plan_mejora"`
	FortalezaPrincipal     string   `json:"fortaleza_principal"`
	RecomendacionPrincipal string   `json:"recomendacion_principal"`
	// Source is "oracle" or "fallback".
	Source string `json:"source,omitempty"`
}

// IngestStats counts what one ingestion pass did.
type IngestStats struct {
	RowsSeen         int `json:"rows_seen"`
	NewRowsProcessed int `json:"new_rows_processed"`
	NewTagEvents     int `json:"new_tag_events"`
	NewPendingTags   int `json:"new_pending_tags"`
	OracleCalls      int `json:"oracle_calls"`
	CacheHits        int `json:"cache_hits"`
	Fallbacks        int `json:"fallbacks"`
}

// Metadata carries counts and the full insight list.
type Metadata struct {
	RunID       string       `json:"run_id,omitempty"`
	Events      int          `json:"events"`
	Customers   int          `json:"customers"`
	TagInsights []TagInsight `json:"tag_insights"`
	Ingest      *IngestStats `json:"ingest,omitempty"`
	ExecutedAt  string       `json:"executed_at,omitempty"`
}

// Payload is the aggregate output consumed by dashboards and CRM tooling.
// Error is set for informational conditions and unexpected failures; callers
// inspect it instead of a Go error.
type Payload struct {
	SentimentScores *SentimentScores `json:"sentiment_scores"`
	KeyThemes       *KeyThemes       `json:"key_themes"`
	Summary         *Summary         `json:"summary"`
	Error           string           `json:"error,omitempty"`
	Metadata        Metadata         `json:"metadata"`
}
