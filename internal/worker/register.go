package worker

import (
	"ticketing-import/internal/config"
	"ticketing-import/internal/repository"
	"ticketing-import/internal/service"
	"ticketing-import/internal/utils"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

func RegisterHandlers(mux *asynq.ServeMux, db *sqlx.DB, redis *redis.Client, cfg *config.Config) {
	logger := utils.GetLogger()

	reportRepo := repository.NewWeeklyReportRepository(db)
	ticketService := service.NewTicketService(repository.NewTicketRepository(db), logger)

	var publisher service.ProgressPublisher
	if redis != nil {
		publisher = service.NewRedisProgressPublisher(redis)
	}

	reportService := service.NewWeeklyReportService(reportRepo, ticketService, publisher, cfg.ImportBatchSize, logger).
		WithStaleAfter(cfg.ImportStaleAfter)
	runner := service.NewImportRunner(service.NewExcelService(), reportService, logger)

	importHandler := NewImportTaskHandler(reportService, runner, logger)
	mux.HandleFunc(TypeWeeklyReportImport, importHandler.Handle)
}
