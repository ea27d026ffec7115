package router

import (
	"time"

	auditsvc "fidus-backend/internal/application/audit"
	balancesvc "fidus-backend/internal/application/balances"
	deallocsvc "fidus-backend/internal/application/deallocations"
	ledgersvc "fidus-backend/internal/application/ledger"
	"fidus-backend/internal/config"
	"fidus-backend/internal/infrastructure/database"
	deallochandler "fidus-backend/internal/interfaces/handlers/deallocations"
	healthhandler "fidus-backend/internal/interfaces/handlers/health"
	ledgerhandler "fidus-backend/internal/interfaces/handlers/ledger"
	timelinehandler "fidus-backend/internal/interfaces/handlers/timeline"
	"fidus-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// CreateApp builds the Fiber app with all global middleware and route
// registration. The returned DB and Redis client are handed back so the
// entry point can verify connectivity before listening.
func CreateApp(cfg *config.Config) (*fiber.App, *gorm.DB, *redis.Client, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler,
	})

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix: cfg.FrontendURLEndsWith,
		DevPassword:   cfg.DevPassword,
	}))
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := database.AutoMigrate(db); err != nil {
			return nil, nil, nil, err
		}
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		rdb = redis.NewClient(opts)
	}

	auditSvc := &auditsvc.Service{DB: db}
	ledgerSvc := &ledgersvc.Service{
		DB:        db,
		Audit:     auditSvc,
		Tolerance: cfg.AllocationTolerance,
		MinNotes:  cfg.MinAllocationNotes,
	}
	deallocSvc := &deallocsvc.Service{DB: db, Audit: auditSvc, MinNotes: cfg.MinAllocationNotes}

	var balances *balancesvc.Cache
	if rdb != nil {
		balances = &balancesvc.Cache{Rdb: rdb, TTL: time.Duration(cfg.BalanceSnapshotTTLSeconds) * time.Second}
	}

	ledgerHandlers := &ledgerhandler.Handlers{Service: ledgerSvc, Audit: auditSvc, Balances: balances}
	deallocHandlers := &deallochandler.Handlers{Service: deallocSvc}
	timelineHandlers := &timelinehandler.Handlers{}
	healthHandlers := &healthhandler.Handlers{DB: db, Rdb: rdb}

	app.Get("/health/json", healthHandlers.JSON)

	api := app.Group("/api/v1", middleware.RequireAdmin(cfg.AdminKeyHash))

	api.Post("/accounts", ledgerHandlers.AddAccount)
	api.Get("/accounts", ledgerHandlers.ListAccounts)
	api.Get("/accounts/:accountNumber/exclusivity", ledgerHandlers.CheckExclusivity)
	api.Get("/accounts/:accountNumber/balance", ledgerHandlers.AccountBalance)
	api.Patch("/accounts/:accountNumber/status", ledgerHandlers.SetStatus)
	api.Get("/pool/statistics", ledgerHandlers.PoolStatistics)

	api.Post("/allocations", ledgerHandlers.Allocate)
	api.Get("/investments/:investmentId/mappings", ledgerHandlers.MappingsByInvestment)
	api.Post("/investments/:investmentId/validate-mappings", ledgerHandlers.ValidateMappings)
	api.Post("/mappings/:mappingId/correct", ledgerHandlers.CorrectMapping)

	api.Post("/deallocations", deallocHandlers.Create)
	api.Get("/deallocations/pending", deallocHandlers.Pending)
	api.Post("/deallocations/:requestId/approve", deallocHandlers.Approve)
	api.Post("/deallocations/:requestId/reject", deallocHandlers.Reject)

	api.Get("/audit", ledgerHandlers.AuditTrail)
	api.Post("/timeline/preview", timelineHandlers.Preview)

	return app, db, rdb, nil
}
