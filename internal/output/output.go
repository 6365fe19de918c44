// Package output writes repatch results to files and terminal tables.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"repatch/internal/manifest"
	"repatch/internal/patch"
)

// ReportFile is the name of the run report inside the output directory.
const ReportFile = "report.json"

// WriteReport writes r to dir/report.json, creating dir if needed.
func WriteReport(dir string, r *patch.Report) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("output: mkdir: %w", err)
	}
	return writeJSON(filepath.Join(dir, ReportFile), r)
}

// WriteRecordsJSON writes decrypted manifest records to path.
func WriteRecordsJSON(path string, records []manifest.Record) error {
	return writeJSON(path, records)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}

// newTable returns a markdown-style table: side borders, no top or bottom rule.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetAutoWrapText(false)
	t.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	t.SetCenterSeparator("|")
	return t
}

// RecordTable prints one row per manifest record.
func RecordTable(w io.Writer, records []manifest.Record) {
	t := newTable(w, "FilePath", "Hash")
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{r.Path, r.Hash})
	}
	t.AppendBulk(rows)
	t.Render()
}

var (
	statusOK  = color.New(color.FgGreen).SprintFunc()
	statusBad = color.New(color.FgRed).SprintFunc()
)

// CheckTable prints verification results.
func CheckTable(w io.Writer, checks []manifest.Check) {
	t := newTable(w, "FilePath", "Status", "Expected", "Actual")
	for _, c := range checks {
		status := statusOK(string(c.Status))
		if c.Status != manifest.CheckOK {
			status = statusBad(string(c.Status))
		}
		t.Append([]string{c.Record.Path, status, c.Record.Hash, c.Actual})
	}
	t.Render()
}
