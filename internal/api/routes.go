// Package api contains the API routes for the futures trading system
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/CrazyKoodaa/futures-trading-system/internal/api/handlers"
	"github.com/CrazyKoodaa/futures-trading-system/internal/api/middleware"
	"github.com/CrazyKoodaa/futures-trading-system/internal/config"
	"github.com/CrazyKoodaa/futures-trading-system/internal/service"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/response"
)

// Services bundles what the handlers need. Redis may be nil.
type Services struct {
	Registry *service.RegistryService
	Ingest   *service.IngestService
	Feed     *service.FeedService
	Queries  *service.QueryService
	Journal  *service.JournalService
	Features *service.FeatureService
	Cron     *service.CronService
	JobRuns  service.JobRunStore
	Redis    *redis.Client
}

// SetupRoutes configures the routes for the API. ctx bounds background work
// started through the admin endpoints.
func SetupRoutes(ctx context.Context, e *echo.Echo, cfg *config.Config, s Services) {

	// Create a group for all API routes
	api := e.Group("/api")

	// Index routes (unprotected)
	api.GET("/", indexRoute(cfg))
	api.GET("/health", healthRoute)

	apiAuth := middleware.AuthMiddleware(cfg.Server.APIKeyHash)

	// Ingest routes (protected)
	ingestHandler := handlers.NewIngestHandler(s.Ingest, s.Feed)
	ingestGroup := api.Group("/ingest")
	ingestGroup.Use(apiAuth)
	ingestGroup.POST("/bars", ingestHandler.IngestBars)
	ingestGroup.POST("/ticks", ingestHandler.IngestTicks)
	ingestGroup.POST("/feed", ingestHandler.SubmitFeedTicks)

	// Quote routes (protected)
	quoteHandler := handlers.NewQuoteHandler(s.Queries, s.Features, s.Redis)
	quoteGroup := api.Group("/quote")
	quoteGroup.Use(apiAuth)
	quoteGroup.GET("/latest", quoteHandler.GetLatest)
	quoteGroup.GET("/ltp", quoteHandler.GetLTP)
	quoteGroup.GET("/volume", quoteHandler.GetDailyVolume)
	quoteGroup.GET("/rankings", quoteHandler.GetRankings)
	quoteGroup.GET("/arbitrage", quoteHandler.GetArbitrage)

	// Bar and feature routes (protected)
	barsGroup := api.Group("/bars")
	barsGroup.Use(apiAuth)
	barsGroup.GET("/:timeframe", quoteHandler.GetBars)
	featuresGroup := api.Group("/features")
	featuresGroup.Use(apiAuth)
	featuresGroup.GET("/:timeframe", quoteHandler.GetFeatures)

	// Instrument routes (protected)
	instrumentHandler := handlers.NewInstrumentHandler(s.Registry, s.Queries)
	instrumentGroup := api.Group("/instruments")
	instrumentGroup.Use(apiAuth)
	instrumentGroup.GET("", instrumentHandler.GetInstruments)
	instrumentGroup.GET("/exchanges", instrumentHandler.GetExchanges)
	instrumentGroup.GET("/contracts", instrumentHandler.GetContracts)
	instrumentGroup.GET("/contracts/active", instrumentHandler.GetActiveContracts)
	instrumentGroup.GET("/contracts/:code", instrumentHandler.GetContract)
	instrumentGroup.GET("/:symbol/front", instrumentHandler.GetFrontMonth)

	// Journal routes (protected)
	journalHandler := handlers.NewJournalHandler(s.Journal)
	predictionGroup := api.Group("/predictions")
	predictionGroup.Use(apiAuth)
	predictionGroup.POST("", journalHandler.CreatePrediction)
	predictionGroup.GET("", journalHandler.GetPredictions)
	tradeGroup := api.Group("/trades")
	tradeGroup.Use(apiAuth)
	tradeGroup.POST("", journalHandler.OpenTrade)
	tradeGroup.GET("", journalHandler.GetTrades)
	tradeGroup.GET("/:id", journalHandler.GetTrade)
	tradeGroup.POST("/:id/close", journalHandler.CloseTrade)

	// Admin routes (protected by the admin key)
	adminHandler := handlers.NewAdminHandler(ctx, s.Registry, s.Queries, s.Cron, s.JobRuns, s.Feed)
	adminGroup := api.Group("/admin")
	adminGroup.Use(middleware.AuthMiddleware(cfg.Server.AdminKeyHash))
	adminGroup.POST("/exchanges", adminHandler.UpsertExchange)
	adminGroup.POST("/instruments", adminHandler.UpsertInstrument)
	adminGroup.POST("/contracts", adminHandler.AddContract)
	adminGroup.DELETE("/contracts/:code", adminHandler.DeactivateContract)
	adminGroup.PUT("/contracts/:code/stats", adminHandler.UpdateContractStats)
	adminGroup.POST("/registry/refresh", adminHandler.RefreshRegistry)
	adminGroup.POST("/aggregate/:timeframe", adminHandler.RunAggregation)
	adminGroup.POST("/retention", adminHandler.RunRetention)
	adminGroup.GET("/jobs", adminHandler.GetJobs)
	adminGroup.GET("/jobs/runs", adminHandler.GetJobRuns)
	adminGroup.POST("/jobs/:name/run", adminHandler.RunJob)
	adminGroup.GET("/statistics", adminHandler.GetStatistics)
	adminGroup.GET("/feed", adminHandler.GetFeedStatus)
	adminGroup.POST("/feed/start", adminHandler.StartFeed)
	adminGroup.POST("/feed/stop", adminHandler.StopFeed)
}

// indexRoute sets up the index route for the API
func indexRoute(cfg *config.Config) echo.HandlerFunc {
	message := fmt.Sprintf("%s %s", cfg.App.Name, cfg.App.Version)
	return func(c echo.Context) error {
		return response.SuccessResponse(c, message)
	}
}

func healthRoute(c echo.Context) error {
	return response.SuccessResponse(c, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
