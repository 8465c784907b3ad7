package main

import (
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/apkg"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const maxCellWidth = 48

type tableColumn struct {
	title string
	align text.Align
}

var (
	deckColumns = []tableColumn{
		{title: "ID", align: text.AlignRight},
		{title: "Deck", align: text.AlignLeft},
		{title: "Notes", align: text.AlignRight},
	}
	noteColumns = []tableColumn{
		{title: "Front", align: text.AlignLeft},
		{title: "Back", align: text.AlignLeft},
		{title: "Tags", align: text.AlignLeft},
	}
)

func renderTable(columns []tableColumn, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, column := range columns {
		header[i] = column.title
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       column.align,
			AlignHeader: text.AlignLeft,
			WidthMax:    maxCellWidth,
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range r {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	return tw.Render()
}

func renderDeckTable(output inspectOutput) string {
	rows := make([][]string, 0, len(output.Decks))
	for _, deck := range output.Decks {
		rows = append(rows, []string{
			strconv.FormatInt(int64(deck.ID), 10),
			deck.Name,
			strconv.Itoa(deck.NoteCount),
		})
	}
	return renderTable(deckColumns, append(rows, []string{"", "total", strconv.Itoa(output.TotalNotes)}))
}

func renderNoteTable(notes []apkg.Note) string {
	rows := make([][]string, 0, len(notes))
	for _, note := range notes {
		rows = append(rows, []string{singleLine(note.Front), singleLine(note.Back), note.Tags})
	}
	return renderTable(noteColumns, rows)
}

// singleLine keeps multi-line card text on one table row.
func singleLine(value string) string {
	return strings.ReplaceAll(value, "\n", " / ")
}
