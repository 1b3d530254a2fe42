package database

import (
	"fmt"
	"strings"
	"time"

	logger "go-line-scheduler/src/infrastructure/logger"
	"go-line-scheduler/src/infrastructure/repository/database/bot"
	"go-line-scheduler/src/infrastructure/repository/database/scheduled"
	"go-line-scheduler/src/infrastructure/utils"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// loadDatabaseConfig loads database configuration from environment variables
// Returns error if any required environment variable is missing
func loadDatabaseConfig() (DatabaseConfig, error) {
	cfg := DatabaseConfig{
		Driver:   strings.ToLower(utils.GetEnv("DB_DRIVER", DriverPostgres)),
		Host:     utils.GetEnv("DB_HOST", ""),
		Port:     utils.GetEnv("DB_PORT", ""),
		User:     utils.GetEnv("DB_USER", ""),
		Password: utils.GetEnv("DB_PASSWORD", ""),
		DBName:   utils.GetEnv("DB_NAME", ""),
		SSLMode:  utils.GetEnv("DB_SSLMODE", "disable"),
	}

	var missingVars []string
	if cfg.Host == "" {
		missingVars = append(missingVars, "DB_HOST")
	}
	if cfg.Port == "" {
		missingVars = append(missingVars, "DB_PORT")
	}
	if cfg.User == "" {
		missingVars = append(missingVars, "DB_USER")
	}
	if cfg.DBName == "" {
		missingVars = append(missingVars, "DB_NAME")
	}
	if len(missingVars) > 0 {
		return DatabaseConfig{}, fmt.Errorf("missing required database environment variables: %s", strings.Join(missingVars, ", "))
	}
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverMySQL {
		return DatabaseConfig{}, fmt.Errorf("unsupported DB_DRIVER %q (want %s or %s)", cfg.Driver, DriverPostgres, DriverMySQL)
	}
	return cfg, nil
}

func (c DatabaseConfig) GetDSN() string {
	if c.Driver == DriverMySQL {
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User,
			c.Password,
			c.Host,
			c.Port,
			c.DBName)
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.DBName,
		c.SSLMode)
}

// Dialector picks the gorm driver matching the configured backend.
func (c DatabaseConfig) Dialector() gorm.Dialector {
	if c.Driver == DriverMySQL {
		return mysql.Open(c.GetDSN())
	}
	return postgres.Open(c.GetDSN())
}

type Repository struct {
	DB     *gorm.DB
	Logger *logger.Logger
}

func NewRepository(db *gorm.DB, loggerInstance *logger.Logger) *Repository {
	return &Repository{
		DB:     db,
		Logger: loggerInstance,
	}
}

func (r *Repository) InitDatabase() error {
	cfg, err := loadDatabaseConfig()
	if err != nil {
		r.Logger.Error("Failed to load database configuration", zap.Error(err))
		return fmt.Errorf("failed to load database configuration: %w", err)
	}

	gormZap := logger.NewGormLogger(r.Logger.Log).
		LogMode(gormlogger.Warn)

	r.DB, err = gorm.Open(cfg.Dialector(), &gorm.Config{
		Logger:         gormZap,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		r.Logger.Error("Error connecting to the database", zap.Error(err), zap.String("driver", cfg.Driver))
		return err
	}

	if err = r.MigrateEntitiesGORM(); err != nil {
		return err
	}

	r.Logger.Info("Database connection and migrations successful", zap.String("driver", cfg.Driver))
	return nil
}

func (r *Repository) MigrateEntitiesGORM() error {
	err := r.DB.AutoMigrate(
		&scheduled.ScheduledMessage{},
		&scheduled.DeliveryAttemptLog{},
		&bot.Credential{},
		&bot.ChatDestination{},
	)
	if err != nil {
		r.Logger.Error("Error migrating database entities", zap.Error(err))
		return err
	}

	r.Logger.Info("Database entities migration completed successfully")
	return nil
}

// InitDB initializes the database connection with logger
func InitDB(loggerInstance *logger.Logger) (*gorm.DB, error) {
	repo := &Repository{
		Logger: loggerInstance,
	}

	if err := repo.InitDatabase(); err != nil {
		return nil, err
	}

	return repo.DB, nil
}
