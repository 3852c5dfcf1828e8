package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Usage is the token accounting of one oracle call.
type Usage struct {
	Input      int
	Output     int
	CacheWrite int
	CacheRead  int
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates. Models missing
// from rates fall back to DefaultRates.
func NewCalculator(rates Rates) *Calculator {
	def := DefaultRates()
	merged := Rates{
		Anthropic: make(map[string]ModelRate, len(def.Anthropic)),
		Gemini:    make(map[string]ModelRate, len(def.Gemini)),
	}
	for k, v := range def.Anthropic {
		merged.Anthropic[k] = v
	}
	for k, v := range def.Gemini {
		merged.Gemini[k] = v
	}
	for k, v := range rates.Anthropic {
		merged.Anthropic[k] = v
	}
	for k, v := range rates.Gemini {
		merged.Gemini[k] = v
	}
	return &Calculator{rates: merged}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, u Usage) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return tokenCost(rate, u)
}

// Gemini computes the cost for a Gemini API call.
func (c *Calculator) Gemini(model string, u Usage) float64 {
	rate, ok := c.rates.Gemini[model]
	if !ok {
		return 0
	}
	return tokenCost(rate, u)
}

// Provider dispatches on the provider name used in configuration.
func (c *Calculator) Provider(provider, model string, u Usage) float64 {
	switch provider {
	case "anthropic":
		return c.Claude(model, u)
	case "gemini":
		return c.Gemini(model, u)
	}
	return 0
}

func tokenCost(rate ModelRate, u Usage) float64 {
	inCost := (float64(u.Input) / 1e6) * rate.Input
	outCost := (float64(u.Output) / 1e6) * rate.Output
	cwCost := (float64(u.CacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(u.CacheRead) / 1e6) * rate.Input * rate.CacheReadMul
	return inCost + outCost + cwCost + crCost
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Gemini: map[string]ModelRate{
			"gemini-2.5-flash": {Input: 0.30, Output: 2.50, CacheReadMul: 0.25},
			"gemini-2.0-flash": {Input: 0.10, Output: 0.40, CacheReadMul: 0.25},
		},
	}
}
