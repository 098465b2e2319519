package router

import (
	"ticketing-import/internal/config"
	"ticketing-import/internal/handler"
	"ticketing-import/internal/middleware"
	"ticketing-import/internal/repository"
	"ticketing-import/internal/service"
	"ticketing-import/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

func SetupAPIRoutes(
	router fiber.Router,
	db *sqlx.DB,
	redis *redis.Client,
	cfg *config.Config,
) {
	logger := utils.GetLogger()

	// Initialize repositories
	reportRepo := repository.NewWeeklyReportRepository(db)
	ticketRepo := repository.NewTicketRepository(db)

	// Initialize services
	excelService := service.NewExcelService()
	ticketService := service.NewTicketService(ticketRepo, logger)

	// Queue and progress cache are optional - only if Redis is available
	var (
		queue     handler.TaskEnqueuer
		cache     handler.ProgressCache
		publisher service.ProgressPublisher
	)
	if redis != nil {
		queue = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.AsynqRedisAddr,
			Password: cfg.AsynqRedisPassword,
			DB:       cfg.AsynqRedisDB,
		})
		progressPublisher := service.NewRedisProgressPublisher(redis)
		cache = progressPublisher
		publisher = progressPublisher
	}

	reportService := service.NewWeeklyReportService(reportRepo, ticketService, publisher, cfg.ImportBatchSize, logger).
		WithStaleAfter(cfg.ImportStaleAfter)
	runner := service.NewImportRunner(excelService, reportService, logger)

	// Initialize handlers
	importHandler := handler.NewWeeklyImportHandler(reportService, runner, excelService, queue, cache, cfg, logger)

	// Protected routes
	protected := router.Group("", middleware.AuthMiddleware(cfg))

	weekly := protected.Group("/import/weekly")
	weekly.Post("/", importHandler.UploadWeeklyReport)
	weekly.Get("/history", importHandler.ListReports)
	weekly.Get("/history/export", importHandler.ExportHistory)
	weekly.Get("/stats", importHandler.GetStats)
	weekly.Get("/template", importHandler.DownloadTemplate)
	weekly.Get("/:id", importHandler.GetReport)
	weekly.Get("/:id/progress", importHandler.GetProgress)
	weekly.Get("/:id/errors/export", importHandler.ExportErrors)
	weekly.Post("/:id/import", importHandler.StartImport)
}
