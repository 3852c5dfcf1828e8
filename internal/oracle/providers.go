package oracle

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/feedback-cli/internal/cost"
	"github.com/sells-group/feedback-cli/internal/resilience"
	"github.com/sells-group/feedback-cli/pkg/anthropic"
	"github.com/sells-group/feedback-cli/pkg/gemini"
)

// Anthropic asks Claude. The system prompt is sent as a cached block.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	costs     *cost.Calculator
}

// NewAnthropic wraps client. costs may be nil.
func NewAnthropic(client anthropic.Client, model string, maxTokens int64, costs *cost.Calculator) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Anthropic{client: client, model: model, maxTokens: maxTokens, costs: costs}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Ask(ctx context.Context, req Request) (Response, error) {
	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(req.System, ""),
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return Response{}, markTransient(eris.Wrapf(err, "oracle: anthropic %s", req.Phase), anthropic.StatusCode(err))
	}

	if a.costs != nil {
		u := resp.Usage
		usd := a.costs.Claude(a.model, cost.Usage{
			Input:      int(u.InputTokens),
			Output:     int(u.OutputTokens),
			CacheWrite: int(u.CacheCreationInputTokens),
			CacheRead:  int(u.CacheReadInputTokens),
		})
		u.LogCost(a.model, string(req.Phase), usd)
	}
	return Response{Kind: KindText, Text: resp.Text()}, nil
}

// Gemini asks a Gemini model in JSON response mode.
type Gemini struct {
	client gemini.Client
	model  string
	costs  *cost.Calculator
}

// NewGemini wraps client. costs may be nil.
func NewGemini(client gemini.Client, model string, costs *cost.Calculator) *Gemini {
	return &Gemini{client: client, model: model, costs: costs}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Ask(ctx context.Context, req Request) (Response, error) {
	var temp float32
	resp, err := g.client.Generate(ctx, gemini.GenerateRequest{
		Model:       g.model,
		System:      req.System,
		Prompt:      req.Prompt,
		JSON:        true,
		Temperature: &temp,
	})
	if err != nil {
		return Response{}, markTransient(eris.Wrapf(err, "oracle: gemini %s", req.Phase), gemini.StatusCode(err))
	}

	if g.costs != nil {
		u := resp.Usage
		usd := g.costs.Gemini(g.model, cost.Usage{
			Input:     int(u.PromptTokens - u.CachedTokens),
			Output:    int(u.CandidateTokens),
			CacheRead: int(u.CachedTokens),
		})
		u.LogCost(g.model, string(req.Phase), usd)
	}
	return Response{Kind: KindParts, Parts: resp.Parts}, nil
}

func markTransient(err error, status int) error {
	if resilience.IsTransientStatus(status) {
		return resilience.Transient(err, status)
	}
	return err
}
