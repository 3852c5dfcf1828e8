package feedback

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/feedback-cli/internal/model"
)

// Load reads a survey export, dispatching on the file extension. ".xlsx"
// files go through ReadXLSX; everything else is parsed as CSV.
func Load(path string) ([]model.FeedbackRow, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path)
	default:
		return ParseCSV(path)
	}
}

// ParseCSV reads a CSV survey export from disk.
func ParseCSV(path string) ([]model.FeedbackRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "feedback: open csv")
	}
	defer f.Close() //nolint:errcheck

	return DecodeCSV(f)
}

// DecodeCSV parses CSV records from r. The first record is the header.
func DecodeCSV(r io.Reader) ([]model.FeedbackRow, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "feedback: read csv")
	}
	return fromRecords(records)
}

// ReadXLSX reads the first sheet of an XLSX survey export.
func ReadXLSX(path string) ([]model.FeedbackRow, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "feedback: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("feedback: xlsx has no sheets")
	}

	sheet := f.Sheets[0]
	records := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, cells)
	}
	return fromRecords(records)
}

// fromRecords maps header-keyed records onto feedback rows. A dataset with
// only a header yields an empty slice.
func fromRecords(records [][]string) ([]model.FeedbackRow, error) {
	if len(records) == 0 {
		return nil, eris.New("feedback: dataset has no header row")
	}

	colIdx := make(map[string]int, len(records[0]))
	for i, col := range records[0] {
		colIdx[strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))] = i
	}

	for _, col := range []string{model.ColumnCustomerID, model.ColumnPhone} {
		if _, ok := colIdx[col]; !ok {
			return nil, eris.Errorf("feedback: missing required column %q", col)
		}
	}
	for _, q := range model.Questions {
		if _, ok := colIdx[q.Column]; !ok {
			zap.L().Warn("feedback: question column missing, answers treated as empty",
				zap.Int("question_id", q.ID),
				zap.String("column", q.Column),
			)
		}
	}

	rows := make([]model.FeedbackRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if blankRecord(rec) {
			continue
		}
		row := model.FeedbackRow{
			CustomerID: getCol(rec, colIdx, model.ColumnCustomerID),
			Phone:      getCol(rec, colIdx, model.ColumnPhone),
		}
		for i, q := range model.Questions {
			row.Answers[i] = rawCol(rec, colIdx, q.Column)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// getCol safely retrieves a trimmed column value from a record.
func getCol(rec []string, colIdx map[string]int, col string) string {
	return strings.TrimSpace(rawCol(rec, colIdx, col))
}

// rawCol returns the untrimmed value. Answers keep their exact text because
// the row hash covers it.
func rawCol(rec []string, colIdx map[string]int, col string) string {
	idx, ok := colIdx[col]
	if !ok || idx >= len(rec) {
		return ""
	}
	return rec[idx]
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
