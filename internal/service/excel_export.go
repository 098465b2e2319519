package service

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"ticketing-import/internal/models"

	"github.com/xuri/excelize/v2"
)

// WeeklyTemplateHeaders is the header row of the upload template. Every label
// resolves through the default column mapping.
var WeeklyTemplateHeaders = []string{
	"Ticket ID", "Title", "Description", "Type", "Priority", "Status",
	"DR Number", "Pole Number", "PON Number", "Zone", "Address",
	"Assigned To", "Contractor", "Fault Description", "Fault Cause", "Created Date",
}

// GenerateImportErrorReport writes the row-level failures of a report as a
// workbook, followed by a summary block.
func (s *ExcelService) GenerateImportErrorReport(report *models.WeeklyReport, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Import Errors"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}

	headers := []string{
		"Row Number", "Error Type", "Error Message", "Field", "Ticket ID", "Title", "Row Data",
	}
	writeHeaderRow(f, sheetName, headers, "#FFE6E6")

	errorStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFFFCC"}, Pattern: 1},
	})

	for rowIdx, importErr := range report.Errors {
		row := rowIdx + 2

		field := ""
		if importErr.FieldName != nil {
			field = *importErr.FieldName
		}
		uid, _ := importErr.RowData.Get(models.FieldTicketUID)
		title, _ := importErr.RowData.Get(models.FieldTitle)
		rowData, err := json.Marshal(importErr.RowData)
		if err != nil {
			return fmt.Errorf("failed to encode row %d: %w", importErr.RowNumber, err)
		}

		values := []interface{}{
			importErr.RowNumber,
			string(importErr.ErrorType),
			importErr.ErrorMessage,
			field,
			uid,
			title,
			string(rowData),
		}
		for colIdx, value := range values {
			f.SetCellValue(sheetName, fmt.Sprintf("%s%d", getColumnName(colIdx), row), value)
		}
		f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("%s%d", getColumnName(len(headers)-1), row), errorStyle)
	}

	f.SetColWidth(sheetName, "A", "A", 12)
	f.SetColWidth(sheetName, "B", "B", 24)
	f.SetColWidth(sheetName, "C", "C", 50)
	f.SetColWidth(sheetName, "D", "D", 15)
	f.SetColWidth(sheetName, "E", "F", 25)
	f.SetColWidth(sheetName, "G", "G", 60)

	summaryStartRow := len(report.Errors) + 4
	summary := [][]interface{}{
		{"Import Summary", ""},
		{"Report:", report.ReportUID},
		{"File:", report.OriginalFilename},
		{"Status:", string(report.Status)},
		{"Total Rows:", report.TotalRows},
		{"Imported:", report.ImportedCount},
		{"Skipped:", report.SkippedCount},
		{"Errors:", report.ErrorCount},
		{"Success Rate:", successRate(report.ImportedCount, report.TotalRows)},
	}
	for i, line := range summary {
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", summaryStartRow+i), line[0])
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", summaryStartRow+i), line[1])
	}

	summaryStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	f.SetCellStyle(sheetName, fmt.Sprintf("A%d", summaryStartRow), fmt.Sprintf("A%d", summaryStartRow), summaryStyle)

	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	_, err = f.WriteTo(w)
	return err
}

// GenerateWeeklyTemplate writes an empty upload template with two sample
// rows and filling instructions.
func (s *ExcelService) GenerateWeeklyTemplate(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Weekly Report"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}

	writeHeaderRow(f, sheetName, WeeklyTemplateHeaders, "#E0E0E0")

	sampleData := [][]interface{}{
		{"FT100001", "Fibre break at pole", "Customer offline since Monday", "maintenance", "high", "open",
			"DR1234567", "LAW.P.A001", "PON-12", "Zone 3", "12 Main Road", "", "Acme Fibre", "Cable cut", "third_party", "2024-03-04"},
		{"FT100002", "New ONT install", "", "new_installation", "normal", "open",
			"DR7654321", "", "PON-07", "Zone 1", "4 Hill Street", "", "", "", "", "2024-03-05"},
	}
	for rowIdx, rowData := range sampleData {
		for colIdx, value := range rowData {
			f.SetCellValue(sheetName, fmt.Sprintf("%s%d", getColumnName(colIdx), rowIdx+2), value)
		}
	}

	f.SetColWidth(sheetName, "A", "A", 14)
	f.SetColWidth(sheetName, "B", "C", 35)
	f.SetColWidth(sheetName, "D", "P", 18)

	instructionsStartRow := len(sampleData) + 4
	instructions := []string{
		"Instructions:",
		"1. Title and Type are required on every row.",
		"2. Type: maintenance, new_installation, modification, ont_swap or incident.",
		"3. Priority: low, normal, high, urgent or critical (defaults to normal).",
		"4. Ticket ID should be unique within the file; repeats are flagged in the preview.",
		"5. Created Date uses YYYY-MM-DD format.",
		"",
		"Note: Delete the sample rows and these instructions before uploading.",
	}
	for i, instruction := range instructions {
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", instructionsStartRow+i), instruction)
	}

	instructionStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 10},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F0F8FF"}, Pattern: 1},
	})
	f.SetCellStyle(sheetName, fmt.Sprintf("A%d", instructionsStartRow), fmt.Sprintf("A%d", instructionsStartRow), instructionStyle)

	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	_, err = f.WriteTo(w)
	return err
}

// ExportReportHistory writes a list of weekly reports as a workbook.
func (s *ExcelService) ExportReportHistory(reports []models.WeeklyReport, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Weekly Reports"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}

	headers := []string{
		"Report", "Week", "Year", "Report Date", "Filename", "Status",
		"Total Rows", "Imported", "Skipped", "Errors", "Imported By", "Imported At", "Created At",
	}
	writeHeaderRow(f, sheetName, headers, "#E6F3FF")

	dataStyle, _ := f.NewStyle(&excelize.Style{
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Vertical: "center"},
	})

	for i, report := range reports {
		row := i + 2
		importedAt := ""
		if report.ImportedAt != nil {
			importedAt = report.ImportedAt.Format(time.DateTime)
		}

		values := []interface{}{
			report.ReportUID,
			report.WeekNumber,
			report.Year,
			report.ReportDate.Format(time.DateOnly),
			report.OriginalFilename,
			string(report.Status),
			report.TotalRows,
			report.ImportedCount,
			report.SkippedCount,
			report.ErrorCount,
			report.ImportedBy,
			importedAt,
			report.CreatedAt.Format(time.DateTime),
		}
		for colIdx, value := range values {
			f.SetCellValue(sheetName, fmt.Sprintf("%s%d", getColumnName(colIdx), row), value)
		}
		f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("%s%d", getColumnName(len(headers)-1), row), dataStyle)
	}

	f.SetColWidth(sheetName, "A", "A", 16)
	f.SetColWidth(sheetName, "E", "E", 30)
	f.SetColWidth(sheetName, "K", "M", 22)

	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	_, err = f.WriteTo(w)
	return err
}

func writeHeaderRow(f *excelize.File, sheetName string, headers []string, fill string) {
	for i, header := range headers {
		f.SetCellValue(sheetName, fmt.Sprintf("%s1", getColumnName(i)), header)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{fill}, Pattern: 1},
	})
	f.SetCellStyle(sheetName, "A1", fmt.Sprintf("%s1", getColumnName(len(headers)-1)), headerStyle)
}

func successRate(imported, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(imported)/float64(total)*100)
}
