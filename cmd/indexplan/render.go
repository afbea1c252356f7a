package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/evanschultz/indexplan/internal/app"
	"github.com/evanschultz/indexplan/internal/domain"
	"github.com/evanschultz/indexplan/internal/mapping"
)

var (
	tableBorderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230"))
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// newTable returns a rounded table with the shared header styling.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(tableBorderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle.Padding(0, 1)
			}
			return tableCellStyle
		})
}

// writeReport renders a plan or flush report as JSON or a table with a summary line.
func writeReport(w io.Writer, report app.FlushReport, asJSON bool) error {
	if asJSON {
		return writeJSON(w, report)
	}
	verb := "planned"
	if report.Applied {
		verb = "applied"
	}
	if len(report.Batches) == 0 {
		_, _ = fmt.Fprintln(w, "journal is empty: nothing "+verb)
		return nil
	}
	t := newTable("Batch", "Unit", "Operation")
	for _, batch := range report.Batches {
		for _, op := range batch.Operations {
			t.Row(shortID(batch.ID), shortID(batch.UnitID), op.String())
		}
		if len(batch.Operations) == 0 {
			t.Row(shortID(batch.ID), shortID(batch.UnitID), "(no operations)")
		}
	}
	_, _ = fmt.Fprintln(w, t.String())
	_, _ = fmt.Fprintf(w, "%s %d batches: %d events, %d operations\n", verb, len(report.Batches), report.Events, report.Operations)
	return nil
}

// writeDocumentsTable renders indexed documents with their JSON body.
func writeDocumentsTable(w io.Writer, docs []domain.IndexedDocument) error {
	if len(docs) == 0 {
		_, _ = fmt.Fprintln(w, "no indexed documents")
		return nil
	}
	t := newTable("Type", "ID", "Batch", "Document")
	for _, doc := range docs {
		body, err := json.Marshal(doc.Document)
		if err != nil {
			return fmt.Errorf("encode document %s/%s: %w", doc.EntityType, doc.ID, err)
		}
		t.Row(doc.EntityType, doc.ID, shortID(doc.BatchID), string(body))
	}
	_, _ = fmt.Fprintln(w, t.String())
	return nil
}

// shortID trims generated identifiers for table display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// writeTypesTable renders the mapping catalog.
func writeTypesTable(w io.Writer, types []mapping.TypeInfo, asJSON bool) error {
	if asJSON {
		return writeJSON(w, map[string]any{"types": types})
	}
	t := newTable("Type", "Indexed", "Embedded in")
	for _, info := range types {
		indexed := "no"
		if info.Indexed {
			indexed = "yes"
		}
		containers := strings.Join(info.ContainedIn, ", ")
		if containers == "" {
			containers = "-"
		}
		t.Row(info.Name, indexed, containers)
	}
	_, _ = fmt.Fprintln(w, t.String())
	return nil
}
