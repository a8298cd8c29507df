// Package export writes the application tracker spreadsheet.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jonathan/jobhunter/internal/types"
)

// Sheet names
const (
	SummarySheet      = "Summary"
	ApplicationsSheet = "Applications"
)

var now = time.Now

// ApplicationHeaders are the column titles of the Applications sheet.
var ApplicationHeaders = []string{
	"ID", "Company", "Title", "Location", "Match Score", "Confidence",
	"Stage", "Submitted", "Last Update", "Needs Attention", "Posting", "Notes",
}

// WriteTracker writes an xlsx workbook with a Summary and an Applications sheet.
// Applications are ordered by id; postings supply company, title and location.
func WriteTracker(w io.Writer, apps []types.Application, postings map[string]types.JobPosting, stats *types.Stats) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(ApplicationsSheet); err != nil {
		return err
	}

	if err := writeSummary(f, stats); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if err := writeApplications(f, apps, postings); err != nil {
		return fmt.Errorf("failed to create applications sheet: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// SaveTracker writes the workbook to path, adding the .xlsx extension when missing.
func SaveTracker(path string, apps []types.Application, postings map[string]types.JobPosting, stats *types.Stats) (string, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		path += ".xlsx"
	}
	path = filepath.Clean(path)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteTracker(out, apps, postings, stats); err != nil {
		out.Close()
		return "", err
	}
	return path, out.Close()
}

func headerStyle(f *excelize.File, size float64) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: size, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
}

func writeSummary(f *excelize.File, stats *types.Stats) error {
	sheet := SummarySheet
	if stats == nil {
		stats = &types.Stats{}
	}
	f.SetColWidth(sheet, "A", "A", 28)
	f.SetColWidth(sheet, "B", "B", 20)

	title, err := headerStyle(f, 14)
	if err != nil {
		return err
	}
	label, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	f.SetCellValue(sheet, "A1", "Job Application Tracker")
	f.SetCellStyle(sheet, "A1", "B1", title)
	f.MergeCell(sheet, "A1", "B1")

	rows := []struct {
		label string
		value any
	}{
		{"Generated:", now().Format("2006-01-02 15:04:05")},
		{"Postings discovered:", stats.PostingsDiscovered},
		{"Postings matched:", stats.PostingsMatched},
		{"Postings below threshold:", stats.PostingsRejected},
		{"Postings awaiting score:", stats.PostingsPending},
		{"Applications submitted:", stats.Submitted},
		{"Submitted today:", stats.SubmittedToday},
		{"Responses:", stats.Responses},
		{"Interviews:", stats.Interviews},
		{"Rejections:", stats.Rejections},
		{"Needs attention:", stats.NeedsAttention},
		{"Average match score:", fmt.Sprintf("%.1f", stats.AverageMatchScore)},
		{"Response rate:", fmt.Sprintf("%.1f%%", stats.ResponseRate)},
	}
	row := 3
	for _, r := range rows {
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), r.label)
		f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), label)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), r.value)
		row++
	}

	if len(stats.ByStage) == 0 {
		return nil
	}
	row++
	f.SetCellValue(sheet, fmt.Sprintf("A%d", row), "By stage:")
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("B%d", row), title)
	f.MergeCell(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("B%d", row))
	row++

	stages := make([]string, 0, len(stats.ByStage))
	for stage := range stats.ByStage {
		stages = append(stages, string(stage))
	}
	sort.Strings(stages)
	for _, stage := range stages {
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), stage)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), stats.ByStage[types.Stage(stage)])
		row++
	}
	return nil
}

// stageFill colours a row by how far the application got.
func stageFill(stage types.Stage) string {
	switch stage {
	case types.StageInterviewScheduled:
		return "C6EFCE"
	case types.StageResponded:
		return "FFEB9C"
	case types.StageRejected, types.StageGenerationFailed, types.StageSubmitFailed:
		return "FFC7CE"
	case types.StageNoResponse, types.StageArchived:
		return "D9D9D9"
	default:
		return ""
	}
}

func writeApplications(f *excelize.File, apps []types.Application, postings map[string]types.JobPosting) error {
	sheet := ApplicationsSheet
	widths := []float64{8, 24, 32, 20, 12, 12, 20, 18, 18, 14, 40, 40}
	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, width)
	}

	header, err := headerStyle(f, 11)
	if err != nil {
		return err
	}
	for i, h := range ApplicationHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, header)
	}

	styles := map[string]int{}
	fill := func(color string) (int, error) {
		if id, ok := styles[color]; ok {
			return id, nil
		}
		id, err := f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
		})
		styles[color] = id
		return id, err
	}

	sorted := append([]types.Application(nil), apps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	last := len(ApplicationHeaders)
	for i, app := range sorted {
		row := i + 2
		posting := postings[app.PostingID]
		stage := app.Stage()

		values := []any{
			app.ID, posting.Company, posting.Title, posting.Location, app.MatchScore,
			confidence(app.GenerationConfidence), string(stage), submittedAt(&app),
			app.UpdatedAt.Format("2006-01-02 15:04"), yesNo(app.NeedsAttention), posting.URL, app.Notes,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(sheet, cell, v)
		}
		if posting.URL != "" {
			cell, _ := excelize.CoordinatesToCellName(11, row)
			f.SetCellHyperLink(sheet, cell, posting.URL, "External")
		}
		if color := stageFill(stage); color != "" {
			style, err := fill(color)
			if err != nil {
				return err
			}
			first, _ := excelize.CoordinatesToCellName(1, row)
			end, _ := excelize.CoordinatesToCellName(last, row)
			f.SetCellStyle(sheet, first, end, style)
		}
	}

	if len(sorted) > 0 {
		end, _ := excelize.CoordinatesToCellName(last, len(sorted)+1)
		f.AutoFilter(sheet, "A1:"+end, []excelize.AutoFilterOptions{})
	}
	f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
	return nil
}

func confidence(c *int) any {
	if c == nil {
		return ""
	}
	return *c
}

func submittedAt(app *types.Application) string {
	for _, ev := range app.Timeline {
		if ev.Kind == types.EventSubmitted {
			return ev.At.Format("2006-01-02 15:04")
		}
	}
	return ""
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
