package service

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"ticketing-import/internal/models"

	"github.com/h2non/filetype"
	"github.com/jfyne/csvd"
	"github.com/xuri/excelize/v2"
)

const (
	errFileEmpty     = "Excel file is empty"
	errNoDataRows    = "Excel file contains no data rows"
	errUnknownFormat = "unsupported file format: expected an .xlsx workbook or CSV text"
)

type ExcelService struct{}

func NewExcelService() *ExcelService {
	return &ExcelService{}
}

// ParseOptions controls how a spreadsheet buffer is decoded.
type ParseOptions struct {
	HasHeaders     bool
	ColumnMapping  []models.ColumnMapping
	SheetName      string
	SkipEmptyRows  bool
	TrimWhitespace bool
}

func DefaultParseOptions() ParseOptions {
	return ParseOptions{
		HasHeaders:     true,
		SkipEmptyRows:  true,
		TrimWhitespace: true,
	}
}

type ParseResult struct {
	Success     bool               `json:"success"`
	Rows        []models.ImportRow `json:"rows"`
	TotalRows   int                `json:"total_rows"`
	SkippedRows int                `json:"skipped_rows"`
	Errors      []string           `json:"errors"`
	Headers     []string           `json:"headers,omitempty"`

	// ColumnMapping is the mapping applied to the rows, either the caller's or
	// the one derived from the header row.
	ColumnMapping []models.ColumnMapping `json:"column_mapping,omitempty"`
}

// ParseExcelFile decodes a workbook (or CSV) buffer into mapped import rows.
// It never panics; every failure is reported through ParseResult.Errors.
func (s *ExcelService) ParseExcelFile(buffer []byte, opts ParseOptions) (result *ParseResult) {
	result = &ParseResult{
		Rows:   []models.ImportRow{},
		Errors: []string{},
	}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Rows = []models.ImportRow{}
			result.TotalRows = 0
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to parse Excel file: %v", r))
		}
	}()

	if len(buffer) == 0 {
		result.Errors = append(result.Errors, errFileEmpty)
		return result
	}

	grid, errMsg := s.readGrid(buffer, opts.SheetName)
	if errMsg != "" {
		result.Errors = append(result.Errors, errMsg)
		return result
	}

	s.buildRows(grid, opts, result)
	return result
}

// readGrid returns the cell grid of the selected sheet. Rows are in source
// order, index 0 being source row 1.
func (s *ExcelService) readGrid(buffer []byte, sheetName string) ([][]string, string) {
	kind, _ := filetype.Match(buffer)

	switch {
	case kind.Extension == "xlsx" || kind.Extension == "zip":
		return readWorkbookGrid(buffer, sheetName)
	case kind.Extension == "xls":
		return nil, "legacy .xls workbooks are not supported, save the file as .xlsx"
	case kind == filetype.Unknown && utf8.Valid(buffer):
		return readCSVGrid(buffer)
	}
	return nil, errUnknownFormat
}

func readWorkbookGrid(buffer []byte, sheetName string) ([][]string, string) {
	f, err := excelize.OpenReader(bytes.NewReader(buffer))
	if err != nil {
		return nil, fmt.Sprintf("failed to open Excel file: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errFileEmpty
	}

	sheet := sheets[0]
	if sheetName != "" {
		if idx, err := f.GetSheetIndex(sheetName); err != nil || idx < 0 {
			return nil, errFileEmpty
		}
		sheet = sheetName
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Sprintf("failed to read rows: %v", err)
	}
	return rows, ""
}

func readCSVGrid(buffer []byte) ([][]string, string) {
	reader := csvd.NewReader(bytes.NewReader(buffer))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Sprintf("failed to read CSV file: %v", err)
	}
	return records, ""
}

func (s *ExcelService) buildRows(grid [][]string, opts ParseOptions, result *ParseResult) {
	first := firstNonBlankRow(grid)
	if first < 0 {
		result.Errors = append(result.Errors, errFileEmpty)
		return
	}

	// blank rows above the header (or the first row) count as skipped too
	if opts.SkipEmptyRows {
		result.SkippedRows += first
	}

	var labels []string
	dataStart := first
	if opts.HasHeaders {
		labels = normalizeHeaders(grid[first])
		result.Headers = labels
		dataStart = first + 1
	} else {
		labels = letterLabels(maxWidth(grid[first:]))
	}

	if firstNonBlankRow(grid[dataStart:]) < 0 {
		result.Errors = append(result.Errors, errNoDataRows)
		return
	}

	mapping := opts.ColumnMapping
	if mapping == nil && opts.HasHeaders {
		mapping = s.CreateDefaultColumnMapping(labels)
	}
	if mapping == nil {
		mapping = []models.ColumnMapping{}
	}
	result.ColumnMapping = mapping

	for i := dataStart; i < len(grid); i++ {
		rowNumber := i + 1
		cells := grid[i]

		if opts.SkipEmptyRows && isBlankRow(cells) {
			result.SkippedRows++
			continue
		}

		raw := make(map[string]string, len(labels))
		for col, label := range labels {
			raw[label] = getCellValue(cells, col)
		}

		// trimmed after mapping, so transforms see the cell as written
		row := s.MapRowToTicket(raw, mapping, rowNumber)
		if opts.TrimWhitespace {
			row.TrimValues()
		}
		result.Rows = append(result.Rows, row)
	}

	result.TotalRows = len(result.Rows)
	result.Success = true
}

// defaultFieldMappings maps normalized header labels to ImportRow fields.
var defaultFieldMappings = map[string]struct {
	field    string
	required bool
}{
	"ticket id":         {models.FieldTicketUID, false},
	"ticket_uid":        {models.FieldTicketUID, false},
	"title":             {models.FieldTitle, true},
	"description":       {models.FieldDescription, false},
	"type":              {models.FieldTicketType, true},
	"ticket type":       {models.FieldTicketType, true},
	"ticket_type":       {models.FieldTicketType, true},
	"priority":          {models.FieldPriority, false},
	"status":            {models.FieldStatus, false},
	"dr number":         {models.FieldDRNumber, false},
	"dr_number":         {models.FieldDRNumber, false},
	"dr":                {models.FieldDRNumber, false},
	"pole number":       {models.FieldPoleNumber, false},
	"pole_number":       {models.FieldPoleNumber, false},
	"pole":              {models.FieldPoleNumber, false},
	"pon number":        {models.FieldPONNumber, false},
	"pon_number":        {models.FieldPONNumber, false},
	"pon":               {models.FieldPONNumber, false},
	"zone":              {models.FieldZone, false},
	"address":           {models.FieldAddress, false},
	"assigned to":       {models.FieldAssignedTo, false},
	"assigned_to":       {models.FieldAssignedTo, false},
	"contractor":        {models.FieldContractorName, false},
	"contractor name":   {models.FieldContractorName, false},
	"contractor_name":   {models.FieldContractorName, false},
	"fault description": {models.FieldFaultDescription, false},
	"fault_description": {models.FieldFaultDescription, false},
	"fault cause":       {models.FieldFaultCause, false},
	"fault_cause":       {models.FieldFaultCause, false},
	"created date":      {models.FieldCreatedDate, false},
	"created_date":      {models.FieldCreatedDate, false},
	"date":              {models.FieldCreatedDate, false},
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// CreateDefaultColumnMapping derives a mapping from header labels using the
// known synonym table. Unknown headers map to their slugified label.
func (s *ExcelService) CreateDefaultColumnMapping(headers []string) []models.ColumnMapping {
	mapping := make([]models.ColumnMapping, 0, len(headers))

	for _, header := range headers {
		normalized := whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(header)), " ")

		if known, ok := defaultFieldMappings[normalized]; ok {
			mapping = append(mapping, models.ColumnMapping{
				ExcelColumn: header,
				TicketField: known.field,
				Required:    known.required,
			})
			continue
		}

		mapping = append(mapping, models.ColumnMapping{
			ExcelColumn: header,
			TicketField: strings.ReplaceAll(normalized, " ", "_"),
			Required:    false,
		})
	}

	return mapping
}

// MapRowToTicket applies mapping to one raw row. Columns missing from rawRow
// leave their target field unset. When two entries target the same field the
// later entry wins.
func (s *ExcelService) MapRowToTicket(rawRow map[string]string, mapping []models.ColumnMapping, rowNumber int) models.ImportRow {
	row := models.ImportRow{RowNumber: rowNumber}

	for _, m := range mapping {
		value, ok := rawRow[m.ExcelColumn]
		if !ok {
			continue
		}
		if m.Transform != nil {
			value = m.Transform(value)
		}
		row.Set(m.TicketField, value)
	}

	return row
}

// Helper functions
func getCellValue(row []string, index int) string {
	if index < len(row) {
		return row[index]
	}
	return ""
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func firstNonBlankRow(grid [][]string) int {
	for i, cells := range grid {
		if !isBlankRow(cells) {
			return i
		}
	}
	return -1
}

func maxWidth(grid [][]string) int {
	width := 0
	for _, cells := range grid {
		if len(cells) > width {
			width = len(cells)
		}
	}
	return width
}

func letterLabels(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = getColumnName(i)
	}
	return labels
}

// normalizeHeaders trims header labels, names blank ones after their column
// letter and suffixes repeats so no column overwrites another.
func normalizeHeaders(cells []string) []string {
	seen := make(map[string]int, len(cells))
	headers := make([]string, len(cells))

	for i, cell := range cells {
		label := strings.TrimSpace(cell)
		if label == "" {
			label = "Column " + getColumnName(i)
		}
		if n, ok := seen[label]; ok {
			seen[label] = n + 1
			label = label + "_" + strconv.Itoa(n+1)
		} else {
			seen[label] = 0
		}
		headers[i] = label
	}
	return headers
}

func getColumnName(index int) string {
	result := ""
	for index >= 0 {
		result = string(rune('A'+(index%26))) + result
		index = index/26 - 1
	}
	return result
}
