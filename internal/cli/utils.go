// Package cli provides CLI output writers for Kioku.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const bodyPreviewLen = 200

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, results []*models.SearchResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{
			"results": results,
			"count":   len(results),
		})
	}
	fmt.Fprintf(w, "\nFound %d results\n\n", len(results))
	for i, result := range results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Similarity: %.4f\n", i+1, result.Similarity)
		fmt.Fprintf(w, "ID: %d | Project: %s | %s/%s\n",
			result.Record.ID, result.Project, result.Record.Kind, result.Record.Status)
		fmt.Fprintf(w, "Title: %s\n", result.Record.Title)
		if result.Record.Body != "" {
			fmt.Fprintf(w, "\n%s\n", utils.Truncate(result.Record.Body, bodyPreviewLen))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteRecordDetail writes one record with its full body.
func WriteRecordDetail(w io.Writer, detail *models.RecordDetail, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, detail)
	}
	fmt.Fprintf(w, "ID: %d\n", detail.ID)
	fmt.Fprintf(w, "Project: %s\n", detail.Project)
	fmt.Fprintf(w, "Kind: %s\n", detail.Kind)
	fmt.Fprintf(w, "Status: %s\n", detail.Status)
	fmt.Fprintf(w, "Created: %s\n", detail.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated: %s\n", detail.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Title: %s\n", detail.Title)
	if detail.Body != "" {
		fmt.Fprintf(w, "\n%s\n", detail.Body)
	}
	return nil
}

// WriteRecordList writes records as a compact listing, one block per record.
func WriteRecordList(w io.Writer, records []*models.RecordDetail, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{
			"records": records,
			"count":   len(records),
		})
	}
	fmt.Fprintf(w, "%d records\n\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(w, "%6d  %-8s %-9s %-20s %s\n",
			rec.ID, rec.Kind, rec.Status, rec.Project, utils.Truncate(rec.Title, 60))
	}
	return nil
}

// WriteProjects writes the project listing, marking the current one.
func WriteProjects(w io.Writer, projects []*models.Project, current string, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{
			"projects": projects,
			"current":  current,
			"count":    len(projects),
		})
	}
	fmt.Fprintf(w, "%d projects\n\n", len(projects))
	for _, p := range projects {
		marker := " "
		if p.Name == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %6d  %-30s last seen %s\n",
			marker, p.ID, p.Name, p.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
