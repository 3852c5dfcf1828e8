package oracle

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var fencePattern = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// DecodeJSON parses the response content into v. It tries the content as
// is, then the body of the first markdown fence, then the span from the
// first '{' to the last '}'.
func DecodeJSON(resp Response, v any) error {
	text := resp.Content()
	if text == "" {
		return ErrEmptyResponse
	}

	for _, candidate := range jsonCandidates(text) {
		if !json.Valid([]byte(candidate)) {
			continue
		}
		if err := json.Unmarshal([]byte(candidate), v); err != nil {
			return eris.Wrap(err, "oracle: decode response")
		}
		return nil
	}
	return eris.Errorf("oracle: unparseable response: %q", preview(text, 200))
}

func jsonCandidates(text string) []string {
	out := []string{text}
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
		out = append(out, text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		out = append(out, text[start:end+1])
	}
	return out
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
