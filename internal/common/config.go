package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	OCR        OCRConfig
	Extraction ExtractionConfig
	Ingest     IngestConfig
	Log        LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" | "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr    string
	GRPCAddr    string
	GopsEnabled bool
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	RemoteURL      string
	Audience       string // identity token audience; empty disables auth
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	HealthTimeout  time.Duration
	Workers        int
	FailMax        int
	ResetTimeout   time.Duration
	CacheSize      int // remote OCR page cache entries; 0 disables

	Tesseract     string
	Pdftoppm      string
	TesseractLang string
	TessdataDir   string
	DPI           int
}

// ExtractionConfig holds structured-extraction configuration
type ExtractionConfig struct {
	ServiceURL     string
	APIKey         string
	Model          string
	Timeout        time.Duration
	ExamplesPath   string
	Lenient        bool
	FuzzyThreshold float64
	DefaultMethod  string
	DefaultOCRMode string
}

// IngestConfig holds inbox watching and queue configuration
type IngestConfig struct {
	InboxDir  string
	OutputURL string
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:    getEnv("GRPC_ADDR", ":9090"),
			GopsEnabled: getEnvAsBool("GOPS_ENABLED", false),
		},
		OCR: OCRConfig{
			RemoteURL:      getEnv("OCR_REMOTE_URL", ""),
			Audience:       getEnv("OCR_AUDIENCE", ""),
			ConnectTimeout: getEnvAsDuration("OCR_CONNECT_TIMEOUT", 10*time.Second),
			ReadTimeout:    getEnvAsDuration("OCR_READ_TIMEOUT", 110*time.Second),
			HealthTimeout:  getEnvAsDuration("OCR_HEALTH_TIMEOUT", 10*time.Second),
			Workers:        getEnvAsInt("OCR_WORKERS", 3),
			FailMax:        getEnvAsInt("OCR_BREAKER_FAIL_MAX", 3),
			ResetTimeout:   getEnvAsDuration("OCR_BREAKER_RESET_TIMEOUT", 60*time.Second),
			CacheSize:      getEnvAsInt("OCR_PAGE_CACHE_SIZE", 512),
			Tesseract:      getEnv("TESSERACT_BIN", "tesseract"),
			Pdftoppm:       getEnv("PDFTOPPM_BIN", "pdftoppm"),
			TesseractLang:  getEnv("TESSERACT_LANG", "eng"),
			TessdataDir:    getEnv("TESSDATA_PREFIX", ""),
			DPI:            getEnvAsInt("OCR_DPI", 300),
		},
		Extraction: ExtractionConfig{
			ServiceURL:     getEnv("EXTRACT_SERVICE_URL", ""),
			APIKey:         getEnv("EXTRACT_API_KEY", ""),
			Model:          getEnv("EXTRACT_MODEL", "gemini-2.5-flash"),
			Timeout:        getEnvAsDuration("EXTRACT_TIMEOUT", 120*time.Second),
			ExamplesPath:   getEnv("EXTRACT_EXAMPLES_PATH", ""),
			Lenient:        getEnvAsBool("EXTRACT_LENIENT", true),
			FuzzyThreshold: getEnvAsFloat64("EXTRACT_FUZZY_THRESHOLD", 0.85),
			DefaultMethod:  getEnv("EXTRACT_DEFAULT_METHOD", "auto"),
			DefaultOCRMode: getEnv("OCR_DEFAULT_MODE", "auto"),
		},
		Ingest: IngestConfig{
			InboxDir:  getEnv("INBOX_DIR", ""),
			OutputURL: getEnv("OUTPUT_URL", "./out"),
			Workers:   getEnvAsInt("INGEST_WORKERS", 4),
			QueueSize: getEnvAsInt("INGEST_QUEUE_SIZE", 256),
			Timeout:   getEnvAsDuration("INGEST_PROCESS_TIMEOUT", 10*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator().
		Field("DB_DRIVER", c.Database.Driver, OneOf("postgres", "sqlite")).
		Field("EXTRACT_DEFAULT_METHOD", c.Extraction.DefaultMethod, OneOf("docling", "langextract", "auto")).
		Field("OCR_DEFAULT_MODE", c.Extraction.DefaultOCRMode, OneOf("auto", "force", "skip")).
		Field("LOG_FORMAT", c.Log.Format, OneOf("json", "text"))
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required for the postgres driver", ErrInvalidInput)
	}
	if c.OCR.Workers <= 0 || c.OCR.FailMax <= 0 {
		return NewAppError("CONFIG_ERROR", "OCR_WORKERS and OCR_BREAKER_FAIL_MAX must be positive", ErrInvalidInput)
	}
	if c.Extraction.FuzzyThreshold <= 0 || c.Extraction.FuzzyThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "EXTRACT_FUZZY_THRESHOLD must be in (0,1]", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.OCR.RemoteURL != "" && !strings.HasPrefix(c.OCR.RemoteURL, "http") {
		return NewAppError("CONFIG_ERROR", "OCR_REMOTE_URL must be an http(s) URL", ErrInvalidInput)
	}
	return nil
}
