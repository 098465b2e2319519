package service

import (
	"fmt"

	"ticketing-import/internal/models"
)

// ValidateRow checks one mapped row against the mapping's required flags and
// predicates. A required failure skips the predicate of the same entry.
func (s *ExcelService) ValidateRow(row *models.ImportRow, mapping []models.ColumnMapping) models.RowValidation {
	errs := []models.ValidationError{}

	for _, m := range mapping {
		field := m.TicketField
		value, present := row.Get(field)

		if m.Required && (!present || value == "") {
			errs = append(errs, models.ValidationError{
				RowNumber: row.RowNumber,
				Severity:  models.SeverityError,
				FieldName: &field,
				Message:   fmt.Sprintf("Field '%s' is required but missing or empty", field),
			})
			continue
		}

		if m.Validate != nil && present && !m.Validate(value) {
			errs = append(errs, models.ValidationError{
				RowNumber: row.RowNumber,
				Severity:  models.SeverityError,
				FieldName: &field,
				Message:   fmt.Sprintf("Validation failed for field '%s'", field),
			})
		}
	}

	return models.RowValidation{
		IsValid: len(errs) == 0,
		Errors:  errs,
	}
}

// DetectDuplicates groups rows by the value of field and reports every row in
// a group of two or more. Rows where the field is absent or empty are ignored.
// Groups come out in first-encounter order, rows in input order.
func (s *ExcelService) DetectDuplicates(rows []models.ImportRow, field string) []models.DuplicateResult {
	groups := make(map[string][]int)
	order := []string{}

	for i := range rows {
		value, ok := rows[i].Get(field)
		if !ok || value == "" {
			continue
		}
		if _, seen := groups[value]; !seen {
			order = append(order, value)
		}
		groups[value] = append(groups[value], rows[i].RowNumber)
	}

	duplicates := []models.DuplicateResult{}
	for _, value := range order {
		rowNumbers := groups[value]
		if len(rowNumbers) < 2 {
			continue
		}
		for _, n := range rowNumbers {
			duplicates = append(duplicates, models.DuplicateResult{
				RowNumber:      n,
				DuplicateField: field,
				DuplicateValue: value,
			})
		}
	}

	return duplicates
}

type PreviewOptions struct {
	SampleSize      int
	CheckDuplicates bool
	DuplicateField  string
}

func DefaultPreviewOptions() PreviewOptions {
	return PreviewOptions{
		SampleSize:      10,
		CheckDuplicates: true,
		DuplicateField:  models.FieldTicketUID,
	}
}

// GeneratePreview validates every row, optionally flags duplicates as
// warnings, and returns a sample for display. Warnings never block an import.
func (s *ExcelService) GeneratePreview(rows []models.ImportRow, mapping []models.ColumnMapping, opts PreviewOptions) *models.ImportPreviewResult {
	validationErrors := []models.ValidationError{}
	validRows := 0
	invalidRows := 0

	for i := range rows {
		validation := s.ValidateRow(&rows[i], mapping)
		if validation.IsValid {
			validRows++
		} else {
			invalidRows++
			validationErrors = append(validationErrors, validation.Errors...)
		}
	}

	if opts.CheckDuplicates {
		for _, dup := range s.DetectDuplicates(rows, opts.DuplicateField) {
			field := dup.DuplicateField
			validationErrors = append(validationErrors, models.ValidationError{
				RowNumber: dup.RowNumber,
				Severity:  models.SeverityWarning,
				FieldName: &field,
				Message:   fmt.Sprintf("Found duplicate %s: %s", dup.DuplicateField, dup.DuplicateValue),
			})
		}
	}

	sampleSize := opts.SampleSize
	if sampleSize < 0 {
		sampleSize = 0
	}
	if sampleSize > len(rows) {
		sampleSize = len(rows)
	}
	sample := make([]models.ImportRow, sampleSize)
	copy(sample, rows[:sampleSize])

	if mapping == nil {
		mapping = []models.ColumnMapping{}
	}

	return &models.ImportPreviewResult{
		TotalRows:        len(rows),
		ValidRows:        validRows,
		InvalidRows:      invalidRows,
		SampleRows:       sample,
		ValidationErrors: validationErrors,
		ColumnMapping:    mapping,
		CanProceed:       validRows > 0,
	}
}
