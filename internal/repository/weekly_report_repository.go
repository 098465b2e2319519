package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"ticketing-import/internal/models"

	"github.com/jmoiron/sqlx"
)

type WeeklyReportRepository struct {
	db *sqlx.DB
}

func NewWeeklyReportRepository(db *sqlx.DB) *WeeklyReportRepository {
	return &WeeklyReportRepository{db: db}
}

const weeklyReportColumns = `id, report_uid, week_number, year, report_date, original_filename, file_path,
	status, total_rows, imported_count, skipped_count, error_count, errors,
	processing_started_at, imported_at, imported_by, created_at, updated_at`

func (r *WeeklyReportRepository) Create(ctx context.Context, report *models.WeeklyReport) error {
	query := `INSERT INTO weekly_reports (id, report_uid, week_number, year, report_date,
	          original_filename, file_path, status, total_rows, imported_count, skipped_count,
	          error_count, errors, imported_by, created_at, updated_at)
	          VALUES (:id, :report_uid, :week_number, :year, :report_date, :original_filename,
	          :file_path, :status, :total_rows, :imported_count, :skipped_count, :error_count,
	          :errors, :imported_by, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, report)
	return err
}

// GetByID returns models.ErrReportNotFound when no row matches.
func (r *WeeklyReportRepository) GetByID(ctx context.Context, id string) (*models.WeeklyReport, error) {
	var report models.WeeklyReport
	query := "SELECT " + weeklyReportColumns + " FROM weekly_reports WHERE id = ? LIMIT 1"
	err := r.db.GetContext(ctx, &report, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Update writes only the fields set in payload, then returns the stored row.
func (r *WeeklyReportRepository) Update(ctx context.Context, id string, payload models.UpdateWeeklyReportPayload) (*models.WeeklyReport, error) {
	sets := []string{}
	args := []interface{}{}

	add := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if payload.Status != nil {
		add("status", *payload.Status)
	}
	if payload.TotalRows != nil {
		add("total_rows", *payload.TotalRows)
	}
	if payload.ImportedCount != nil {
		add("imported_count", *payload.ImportedCount)
	}
	if payload.SkippedCount != nil {
		add("skipped_count", *payload.SkippedCount)
	}
	if payload.ErrorCount != nil {
		add("error_count", *payload.ErrorCount)
	}
	if payload.Errors != nil {
		add("errors", *payload.Errors)
	}
	if payload.ProcessingStartedAt != nil {
		add("processing_started_at", *payload.ProcessingStartedAt)
	}
	if payload.ImportedAt != nil {
		add("imported_at", *payload.ImportedAt)
	}

	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	sets = append(sets, "updated_at = UTC_TIMESTAMP()")
	query := "UPDATE weekly_reports SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}

	// MySQL reports zero affected rows for unchanged values, so the re-read
	// doubles as the existence check.
	return r.GetByID(ctx, id)
}

// List returns reports matching filters, newest first.
func (r *WeeklyReportRepository) List(ctx context.Context, filters models.WeeklyReportFilters) ([]models.WeeklyReport, error) {
	conditions := []string{}
	args := []interface{}{}

	if len(filters.Status) > 0 {
		placeholders := make([]string, len(filters.Status))
		for i, status := range filters.Status {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filters.WeekNumber > 0 {
		conditions = append(conditions, "week_number = ?")
		args = append(args, filters.WeekNumber)
	}
	if filters.Year > 0 {
		conditions = append(conditions, "year = ?")
		args = append(args, filters.Year)
	}
	if filters.ImportedBy != "" {
		conditions = append(conditions, "imported_by = ?")
		args = append(args, filters.ImportedBy)
	}
	if filters.ImportedAfter != nil {
		conditions = append(conditions, "imported_at >= ?")
		args = append(args, *filters.ImportedAfter)
	}
	if filters.ImportedBefore != nil {
		conditions = append(conditions, "imported_at <= ?")
		args = append(args, *filters.ImportedBefore)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	reports := []models.WeeklyReport{}
	query := "SELECT " + weeklyReportColumns + " FROM weekly_reports" + whereClause + " ORDER BY created_at DESC"
	if err := r.db.SelectContext(ctx, &reports, query, args...); err != nil {
		return nil, err
	}
	return reports, nil
}

func (r *WeeklyReportRepository) Stats(ctx context.Context) (*models.WeeklyReportStats, error) {
	var stats models.WeeklyReportStats
	query := `
		SELECT
			COUNT(*) AS total_imports,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS successful_imports,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed_imports,
			COALESCE(SUM(imported_count), 0) AS total_tickets_imported,
			COALESCE(AVG(imported_count), 0) AS avg_tickets_per_import,
			COALESCE(AVG(CASE WHEN imported_at IS NOT NULL AND processing_started_at IS NOT NULL
				THEN TIMESTAMPDIFF(SECOND, processing_started_at, imported_at) END), 0) AS avg_import_duration_seconds,
			MAX(imported_at) AS last_import_date
		FROM weekly_reports
	`
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CountByUIDPrefix counts reports whose uid is uid itself or uid with a
// numeric collision suffix.
func (r *WeeklyReportRepository) CountByUIDPrefix(ctx context.Context, uid string) (int, error) {
	var count int
	query := "SELECT COUNT(*) FROM weekly_reports WHERE report_uid = ? OR report_uid LIKE ?"
	if err := r.db.GetContext(ctx, &count, query, uid, uid+"-%"); err != nil {
		return 0, err
	}
	return count, nil
}
