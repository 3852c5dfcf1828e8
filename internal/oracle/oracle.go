// Package oracle adapts external language models to the narrow question and
// answer contract used by tag classification and summary generation.
package oracle

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// Phase names the caller of an oracle request, for logs and cost attribution.
type Phase string

const (
	PhaseClassify Phase = "classify"
	PhaseSummary  Phase = "summary"
)

// Kind tags the shape of a Response.
type Kind int

const (
	// KindText is a single text body.
	KindText Kind = iota
	// KindParts is a list of text fragments, as some providers stream them.
	KindParts
)

// Response is the raw reply of an oracle. Read it through Content.
type Response struct {
	Kind  Kind
	Text  string
	Parts []string
}

// Content flattens the response into one trimmed string.
func (r Response) Content() string {
	if r.Kind == KindParts {
		return strings.TrimSpace(strings.Join(r.Parts, "\n"))
	}
	return strings.TrimSpace(r.Text)
}

// Request is a single-turn prompt.
type Request struct {
	Phase Phase
	// System is stable across a batch, so providers may cache it.
	System string
	Prompt string
}

// Oracle answers prompts. Implementations must be safe for sequential use
// and honor ctx cancellation.
type Oracle interface {
	Ask(ctx context.Context, req Request) (Response, error)
	Name() string
}

// ErrEmptyResponse is returned when the oracle answered with no text.
var ErrEmptyResponse = eris.New("oracle: empty response")
