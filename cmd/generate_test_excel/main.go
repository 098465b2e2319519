package main

import (
	"fmt"
	"os"
	"path/filepath"

	"ticketing-import/internal/service"

	"github.com/xuri/excelize/v2"
)

var (
	ticketTypes = []string{"maintenance", "new_installation", "modification", "ont_swap", "incident"}
	priorities  = []string{"low", "normal", "high", "urgent", "critical"}
	zones       = []string{"Zone 1", "Zone 2", "Zone 3", "Zone 4"}
)

func main() {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Weekly Report"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		fmt.Printf("Error creating sheet: %v\n", err)
		return
	}

	headers := service.WeeklyTemplateHeaders
	for i, header := range headers {
		f.SetCellValue(sheetName, fmt.Sprintf("%s1", getColumnName(i)), header)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	f.SetCellStyle(sheetName, "A1", fmt.Sprintf("%s1", getColumnName(len(headers)-1)), headerStyle)

	// 25 regular rows give three batches at the default batch size
	var testData [][]interface{}
	for i := 1; i <= 25; i++ {
		testData = append(testData, []interface{}{
			fmt.Sprintf("FT9%05d", i),
			fmt.Sprintf("Weekly fault %d", i),
			fmt.Sprintf("Reported by field team, case %d", i),
			ticketTypes[i%len(ticketTypes)],
			priorities[i%len(priorities)],
			"open",
			fmt.Sprintf("DR%07d", 1000000+i),
			fmt.Sprintf("LAW.P.A%03d", i),
			fmt.Sprintf("PON-%02d", i%16),
			zones[i%len(zones)],
			fmt.Sprintf("%d Fibre Street", i),
			"",
			"Acme Fibre",
			"",
			"",
			"2024-03-04",
		})
	}

	// Edge cases exercised by the preview and the import run
	testData = append(testData,
		// repeated ticket id: flagged in the preview, skipped as duplicate on import
		[]interface{}{"FT900003", "Repeat of fault 3", "", "maintenance", "normal", "open"},
		// blank title: invalid in the preview, missing_required_field on import
		[]interface{}{"FT900030", "", "No title given", "incident", "high", "open"},
		// unknown type: validation_failed on import
		[]interface{}{"FT900031", "Odd ticket type", "", "repair", "low", "open"},
		// blank row: skipped by the reader
		[]interface{}{},
		// no ticket id: a FT###### uid is generated
		[]interface{}{"", "Walk-in report", "Customer called the depot", "incident", "urgent", "open", "", "", "", "Zone 2", "", "", "", "Cable cut", "third_party", "2024-03-06"},
	)

	for rowIdx, rowData := range testData {
		row := rowIdx + 2
		for colIdx, value := range rowData {
			f.SetCellValue(sheetName, fmt.Sprintf("%s%d", getColumnName(colIdx), row), value)
		}
	}

	f.SetColWidth(sheetName, "A", "A", 14)
	f.SetColWidth(sheetName, "B", "C", 35)
	f.SetColWidth(sheetName, "D", "P", 18)

	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	outputDir := filepath.Join("storage", "uploads")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Printf("Error creating %s: %v\n", outputDir, err)
		return
	}

	outputPath := filepath.Join(outputDir, "weekly_report_sample.xlsx")
	if err := f.SaveAs(outputPath); err != nil {
		fmt.Printf("Error saving file: %v\n", err)
		return
	}

	fmt.Printf("✓ Test file created: %s\n", outputPath)
	fmt.Printf("  Total rows: %d (including one blank row)\n", len(testData))
}

func getColumnName(index int) string {
	name := ""
	for index >= 0 {
		name = string(rune('A'+index%26)) + name
		index = index/26 - 1
	}
	return name
}
