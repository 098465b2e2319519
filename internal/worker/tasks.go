package worker

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TypeWeeklyReportImport = "weekly_report:import"

// ImportTaskPayload identifies the report whose stored workbook should be imported.
type ImportTaskPayload struct {
	ReportID string `json:"report_id"`
	ActorID  string `json:"actor_id"`
}

// NewImportTask builds the task enqueued when an import is started.
func NewImportTask(reportID, actorID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ImportTaskPayload{ReportID: reportID, ActorID: actorID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TypeWeeklyReportImport,
		payload,
		asynq.Queue("default"),
		asynq.MaxRetry(2),
		asynq.Timeout(30*time.Minute),
	), nil
}
