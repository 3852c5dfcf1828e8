package model

// QuestionCount is the number of free-text answers collected per customer.
const QuestionCount = 6

// Question is one survey prompt with its column header in the source dataset.
type Question struct {
	ID int // 1-based position in the survey
	// Column is the dataset header, which is also the question text.
	Column string
	// DefaultPolarity is used by the fallback matcher when no hint decides.
	DefaultPolarity Polarity
}

// Questions lists the survey prompts in dataset order. The order is part of
// the row hash and must never change.
var Questions = [QuestionCount]Question{
	{ID: 1, Column: "¿Qué mejorarías de la atención?", DefaultPolarity: PolarityMal},
	{ID: 2, Column: "¿Qué te pareció la atención?", DefaultPolarity: PolarityBien},
	{ID: 3, Column: "¿Qué te gustó más de la comida?", DefaultPolarity: PolarityBien},
	{ID: 4, Column: "¿Qué opina sobre la relación entre calidad y precio?", DefaultPolarity: PolarityBien},
	{ID: 5, Column: "¿Qué te gustó mas del ambiente?", DefaultPolarity: PolarityBien},
	{ID: 6, Column: "¿Qué es lo que cambiarías de la experiencia?", DefaultPolarity: PolarityMal},
}

// Dataset column headers for the customer identity fields. Other columns,
// such as the spend amount, are ignored.
const (
	ColumnCustomerID = "ID_Cliente"
	ColumnPhone      = "numero_tel_cliente"
)

// QuestionByID returns the question with the given 1-based ID.
func QuestionByID(id int) (Question, bool) {
	if id < 1 || id > QuestionCount {
		return Question{}, false
	}
	return Questions[id-1], true
}

// FeedbackRow is one customer's survey response as supplied by the dataset.
type FeedbackRow struct {
	CustomerID string                `json:"customer_id"`
	Phone      string                `json:"phone"`
	Answers    [QuestionCount]string `json:"answers"`
}

// Answer returns the answer for a 1-based question ID, or "" when out of range.
func (r FeedbackRow) Answer(questionID int) string {
	if questionID < 1 || questionID > QuestionCount {
		return ""
	}
	return r.Answers[questionID-1]
}
