package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sahilchouksey/upsc-prep-api/services/paperparser"
)

// This function will Load the ENVIORNMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return nil
}

type EnviornmentVariable struct {
	GO_ENV       string
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	PORT         int
	// JWT Configuration
	JWT_SECRET string
	JWT_ISSUER string
	// Redis Configuration
	REDIS_URL      string
	REDIS_PASSWORD string
	REDIS_DB       string
	// DigitalOcean Spaces (source PDF archive)
	DO_SPACES_BUCKET   string
	DO_SPACES_REGION   string
	DO_SPACES_ENDPOINT string
	DO_SPACES_KEY      string
	DO_SPACES_SECRET   string
	// HTTP
	ALLOWED_ORIGINS string
	// Logging
	LOG_LEVEL string
	LOG_FILE  string
	// Cron
	CRON_ENABLED bool
	// Parser tunables
	PARSER_LINE_TOLERANCE   float64
	PARSER_COLUMN_GAP       float64
	PARSER_COLUMN_MIN_BANDS int
	PARSER_WORD_GAP_RATIO   float64
	PARSER_SCRIPT_DOMINANCE float64
	// Upload limits
	IMPORT_MAX_FILE_MB int
	IMPORT_MAX_PAGES   int
	// Per-user imports allowed per hour, 0 disables the quota
	IMPORT_QUOTA_PER_HOUR int
	// Maintenance
	IMPORT_STALE_AFTER_MIN int
	IMPORT_RETENTION_DAYS  int
	RESULT_CACHE_TTL_HOURS int
}

func Get() (*EnviornmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	// Database defaults
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "5432"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	defaults := paperparser.DefaultConfig()

	envVariables := &EnviornmentVariable{
		GO_ENV:       os.Getenv("GO_ENV"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      dbHost,
		DB_PORT:      dbPort,
		DB_SSL_MODE:  os.Getenv("DB_SSL_MODE"),
		PORT:         port,
		// JWT
		JWT_SECRET: os.Getenv("JWT_SECRET"),
		JWT_ISSUER: os.Getenv("JWT_ISSUER"),
		// Redis
		REDIS_URL:      os.Getenv("REDIS_URL"),
		REDIS_PASSWORD: os.Getenv("REDIS_PASSWORD"),
		REDIS_DB:       os.Getenv("REDIS_DB"),
		// DigitalOcean
		DO_SPACES_BUCKET:   os.Getenv("DO_SPACES_BUCKET"),
		DO_SPACES_REGION:   os.Getenv("DO_SPACES_REGION"),
		DO_SPACES_ENDPOINT: os.Getenv("DO_SPACES_ENDPOINT"),
		DO_SPACES_KEY:      os.Getenv("DO_SPACES_KEY"),
		DO_SPACES_SECRET:   os.Getenv("DO_SPACES_SECRET"),
		// HTTP
		ALLOWED_ORIGINS: os.Getenv("ALLOWED_ORIGINS"),
		// Logging
		LOG_LEVEL: logLevel,
		LOG_FILE:  os.Getenv("LOG_FILE"),
		// Cron is on unless explicitly disabled
		CRON_ENABLED: os.Getenv("CRON_ENABLED") != "false",
		// Parser
		PARSER_LINE_TOLERANCE:   getFloat("PARSER_LINE_TOLERANCE", defaults.Layout.LineTolerance),
		PARSER_COLUMN_GAP:       getFloat("PARSER_COLUMN_GAP", defaults.Layout.ColumnGapThreshold),
		PARSER_COLUMN_MIN_BANDS: getInt("PARSER_COLUMN_MIN_BANDS", defaults.Layout.ColumnMinBands),
		PARSER_WORD_GAP_RATIO:   getFloat("PARSER_WORD_GAP_RATIO", defaults.Layout.WordGapRatio),
		PARSER_SCRIPT_DOMINANCE: getFloat("PARSER_SCRIPT_DOMINANCE", defaults.Script.DominanceThreshold),
		// Uploads
		IMPORT_MAX_FILE_MB:    getInt("IMPORT_MAX_FILE_MB", 50),
		IMPORT_MAX_PAGES:      getInt("IMPORT_MAX_PAGES", 200),
		IMPORT_QUOTA_PER_HOUR: getInt("IMPORT_QUOTA_PER_HOUR", 30),
		// Maintenance
		IMPORT_STALE_AFTER_MIN: getInt("IMPORT_STALE_AFTER_MIN", 30),
		IMPORT_RETENTION_DAYS:  getInt("IMPORT_RETENTION_DAYS", 30),
		RESULT_CACHE_TTL_HOURS: getInt("RESULT_CACHE_TTL_HOURS", 24),
	}

	return envVariables, nil
}

// ParserOptions maps the parser tunables to a validated paperparser.Config.
func (e *EnviornmentVariable) ParserOptions() (paperparser.Config, error) {
	cfg := paperparser.Config{
		Layout: paperparser.LayoutConfig{
			LineTolerance:      e.PARSER_LINE_TOLERANCE,
			ColumnGapThreshold: e.PARSER_COLUMN_GAP,
			ColumnMinBands:     e.PARSER_COLUMN_MIN_BANDS,
			WordGapRatio:       e.PARSER_WORD_GAP_RATIO,
		},
		Script: paperparser.ScriptConfig{
			DominanceThreshold: e.PARSER_SCRIPT_DOMINANCE,
		},
	}
	if err := cfg.Validate(); err != nil {
		return paperparser.Config{}, err
	}
	return cfg, nil
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
