// Package feedback loads survey exports and derives the content identity of
// each customer row.
package feedback

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sells-group/feedback-cli/internal/model"
)

const hashSeparator = "||"

// Hash returns the SHA-256 hex digest of the row's customer id, phone and
// six answers joined by "||" in question order. Any change to those fields
// produces a different hash.
func Hash(row model.FeedbackRow) string {
	parts := make([]string, 0, 2+model.QuestionCount)
	parts = append(parts, row.CustomerID, row.Phone)
	parts = append(parts, row.Answers[:]...)
	sum := sha256.Sum256([]byte(strings.Join(parts, hashSeparator)))
	return hex.EncodeToString(sum[:])
}

// Context renders the six question/answer pairs as the block handed to the
// classifier:
//
//	P1: <question>
//	R1: <answer>
//
// with blocks separated by a blank line. Answers are trimmed; empty answers
// keep their block so the numbering stays stable.
func Context(row model.FeedbackRow) string {
	blocks := make([]string, 0, model.QuestionCount)
	for i, q := range model.Questions {
		blocks = append(blocks, fmt.Sprintf("P%d: %s\nR%d: %s", i+1, q.Column, i+1, strings.TrimSpace(row.Answers[i])))
	}
	return strings.Join(blocks, "\n\n")
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
