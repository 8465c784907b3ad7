// Package csvdeck parses plain-text deck exports (comma or tab separated).
package csvdeck

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/apkg"
)

const directivePrefix = "#"

// Parse reads front/back/tags rows from a CSV or TSV export. Lines starting with '#'
// (Anki export directives) and blank lines are skipped, the separator is taken from the
// first data line, and a leading header row naming front or back is dropped.
func Parse(source io.Reader) ([]apkg.Note, error) {
	raw, err := io.ReadAll(source)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	dataLines := make([]string, 0)
	for _, line := range strings.Split(strings.TrimSpace(strings.ReplaceAll(string(raw), "\r\n", "\n")), "\n") {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), directivePrefix) {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		dataLines = append(dataLines, line)
	}
	if len(dataLines) == 0 {
		return nil, nil
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(dataLines, "\n")))
	reader.Comma = detectSeparator(dataLines[0])
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	if isHeader(dataLines[0]) {
		if _, err := reader.Read(); err != nil {
			return nil, fmt.Errorf("read csv header: %w", err)
		}
	}

	notes := make([]apkg.Note, 0, len(dataLines))
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		notes = append(notes, apkg.Note{
			Front: cell(record, 0),
			Back:  cell(record, 1),
			Tags:  cell(record, 2),
		})
	}
	return notes, nil
}

func detectSeparator(line string) rune {
	if strings.Contains(line, "\t") {
		return '\t'
	}
	return ','
}

func isHeader(line string) bool {
	lowered := strings.ToLower(line)
	return strings.Contains(lowered, "front") || strings.Contains(lowered, "back")
}

func cell(record []string, index int) string {
	if index >= len(record) {
		return ""
	}
	return strings.Trim(strings.TrimSpace(record[index]), `"`)
}
