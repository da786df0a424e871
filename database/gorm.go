package database

import (
	"fmt"
	"time"

	"github.com/sahilchouksey/upsc-prep-api/config"
	"github.com/sahilchouksey/upsc-prep-api/model"
	applog "github.com/sahilchouksey/upsc-prep-api/utils/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GORMStore struct {
	db *gorm.DB
}

var _ Storage = (*GORMStore)(nil)

// DSN builds the PostgreSQL connection string from the environment
func DSN(env *config.EnviornmentVariable) string {
	sslMode := env.DB_SSL_MODE
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		env.DB_HOST,
		env.DB_USER_NAME,
		env.DB_PASSWORD,
		env.DB_NAME,
		env.DB_PORT,
		sslMode,
	)
}

// StartGORM initializes a GORM connection to PostgreSQL
func StartGORM() (*GORMStore, error) {
	env, err := config.Get()
	if err != nil {
		return nil, err
	}
	return OpenGORM(DSN(env), env.GO_ENV == "production")
}

// OpenGORM connects to dsn and configures the pool
func OpenGORM(dsn string, production bool) (*GORMStore, error) {
	gormLogger := logger.Default.LogMode(logger.Warn)
	if production {
		gormLogger = logger.Default.LogMode(logger.Error)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      gormLogger,
		PrepareStmt: true,
	})
	if err != nil {
		applog.Log.Error("unable to connect to PostgreSQL", zap.Error(err))
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	applog.Log.Info("connected to PostgreSQL")

	return &GORMStore{db: db}, nil
}

// Init runs the AutoMigrate to create/update tables
func (s *GORMStore) Init() error {
	err := s.db.AutoMigrate(
		&model.QuestionImport{},
		&model.ImportedQuestion{},
		&model.MaintenanceRun{},
	)
	if err != nil {
		applog.Log.Error("AutoMigrate failed", zap.Error(err))
		return err
	}

	applog.Log.Info("AutoMigrate completed")
	return nil
}

// Close closes the database connection
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB returns the GORM DB instance
func (s *GORMStore) GetDB() *gorm.DB {
	return s.db
}

// HealthCheck verifies the database connection is alive
func (s *GORMStore) HealthCheck() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
