// Package upload extracts phone numbers from uploaded CSV and XLSX sheets.
package upload

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/xuri/excelize/v2"
)

// phoneColumns are header names recognised as the phone column, case-insensitively.
var phoneColumns = []string{"phone", "mobile", "cell", "contact", "number", "phone_number", "phonenumber"}

// ParsePhoneNumbers reads the sheet in r. The first row is the header; the phone
// column is picked by name, falling back to the first column.
func ParsePhoneNumbers(filename string, r io.Reader) ([]string, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		rows, err = csvRows(r)
	case ".xlsx":
		rows, err = xlsxRows(r)
	default:
		return nil, apperr.Validation("Invalid file type. Please upload .xlsx or .csv")
	}
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("Could not parse file: %v", err))
	}
	if len(rows) == 0 {
		return nil, apperr.Validation("Could not parse file: no columns to parse from file")
	}
	return extract(rows), nil
}

func csvRows(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}

func xlsxRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func phoneColumn(header []string) int {
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		for _, want := range phoneColumns {
			if name == want {
				return i
			}
		}
	}
	return 0
}

func extract(rows [][]string) []string {
	col := phoneColumn(rows[0])
	numbers := []string{}
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		if n := strings.TrimSpace(row[col]); n != "" {
			numbers = append(numbers, n)
		}
	}
	return numbers
}
