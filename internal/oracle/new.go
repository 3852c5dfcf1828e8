package oracle

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/feedback-cli/internal/config"
	"github.com/sells-group/feedback-cli/internal/cost"
	"github.com/sells-group/feedback-cli/internal/resilience"
	"github.com/sells-group/feedback-cli/pkg/anthropic"
	"github.com/sells-group/feedback-cli/pkg/gemini"
)

// breakerCooldown outlasts a typical batch, so an open breaker keeps the rest
// of the batch on the fallback path.
const breakerCooldown = 10 * time.Minute

// New builds the configured provider behind a Guarded wrapper.
func New(ctx context.Context, cfg *config.Config) (Oracle, error) {
	costs := cost.NewCalculator(ratesFromConfig(cfg.Pricing))

	var inner Oracle
	switch cfg.Oracle.Provider {
	case "anthropic":
		// Guarded owns retries.
		client := anthropic.NewClient(cfg.Anthropic.Key, option.WithMaxRetries(0))
		inner = NewAnthropic(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, costs)
	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.Gemini.Key, gemini.Options{})
		if err != nil {
			return nil, err
		}
		inner = NewGemini(client, cfg.Gemini.Model, costs)
	case "stub", "":
		return NewStub(), nil
	default:
		return nil, eris.Errorf("oracle: unknown provider %q", cfg.Oracle.Provider)
	}

	retry := resilience.DefaultRetryPolicy()
	retry.Attempts = cfg.Oracle.MaxAttempts
	retry.OnRetry = resilience.LogRetry(inner.Name(), "ask")

	return Guard(inner, GuardConfig{
		Timeout: time.Duration(cfg.Oracle.TimeoutSecs) * time.Second,
		Retry:   retry,
		Breaker: resilience.NewBreaker(cfg.Oracle.CircuitThreshold, breakerCooldown),
		Limiter: NewLimiter(cfg.Oracle.RequestsPerMinute),
	}), nil
}

func ratesFromConfig(p config.PricingConfig) cost.Rates {
	convert := func(in map[string]config.ModelPricing) map[string]cost.ModelRate {
		out := make(map[string]cost.ModelRate, len(in))
		for model, mp := range in {
			out[model] = cost.ModelRate{
				Input:         mp.Input,
				Output:        mp.Output,
				CacheWriteMul: mp.CacheWriteMul,
				CacheReadMul:  mp.CacheReadMul,
			}
		}
		return out
	}
	return cost.Rates{Anthropic: convert(p.Anthropic), Gemini: convert(p.Gemini)}
}
