package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-line-scheduler/src/infrastructure/di"
	logger "go-line-scheduler/src/infrastructure/logger"
	"go-line-scheduler/src/infrastructure/rest/middlewares"
	"go-line-scheduler/src/infrastructure/rest/routes"
	"go-line-scheduler/src/infrastructure/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	UploadDir       string
	ShutdownTimeout time.Duration
}

// loadServerConfig loads server configuration from environment variables
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:            utils.GetEnv("SERVER_PORT", "8080"),
		UploadDir:       utils.GetEnv("UPLOAD_DIR", ""),
		ShutdownTimeout: utils.GetEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func main() {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	env := utils.GetEnv("GO_ENV", "development")
	var loggerInstance *logger.Logger
	var err error

	if env == "development" {
		loggerInstance, err = logger.NewDevelopmentLogger()
	} else {
		loggerInstance, err = logger.NewLogger()
	}

	if err != nil {
		panic(fmt.Errorf("error initializing logger: %w", err))
	}
	defer func() {
		_ = loggerInstance.Log.Sync()
	}()

	loggerInstance.Info("Starting go-line-scheduler application")

	// Load server configuration
	serverConfig := loadServerConfig()

	// Initialize application context with dependencies and logger
	appContext, err := di.SetupDependencies(loggerInstance)
	if err != nil {
		loggerInstance.Panic("Error initializing application context", zap.Error(err))
	}
	defer func() {
		if err := appContext.Close(); err != nil {
			loggerInstance.Error("Error closing application context", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New(cron.WithLogger(loggerInstance.CronLogger()), cron.WithChain(
		cron.Recover(loggerInstance.CronLogger()),
	))
	if err := appContext.Start(ctx, scheduler); err != nil {
		loggerInstance.Panic("Error starting scheduler", zap.Error(err))
	}
	scheduler.Start()

	router := setupRouter(appContext, loggerInstance, env, serverConfig)
	server := setupServer(router, serverConfig.Port)

	go func() {
		loggerInstance.Info("Server starting", zap.String("port", serverConfig.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggerInstance.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	loggerInstance.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error("Server shutdown failed", zap.Error(err))
	}

	// wait for a running tick to finish so its outcome is persisted
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		loggerInstance.Warn("Scheduler did not stop in time")
	}
}

func setupRouter(appContext *di.ApplicationContext, logger *logger.Logger, env string, serverConfig ServerConfig) *gin.Engine {
	if env == "development" {
		logger.SetupGinWithZapLoggerInDevelopment()
	} else {
		logger.SetupGinWithZapLogger()
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(cors.Default())

	// Add middlewares
	router.Use(middlewares.ErrorHandler(logger))
	router.Use(middlewares.CommonHeaders)

	// Add logger middleware
	router.Use(logger.GinZapLogger())

	if serverConfig.UploadDir != "" {
		router.Static("/uploads", serverConfig.UploadDir)
	}

	// Setup routes
	routes.ApplicationRouter(router, appContext)
	return router
}

func setupServer(router *gin.Engine, port string) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}
