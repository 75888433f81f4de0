package params

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

type Simulation struct {
	InitialCash float64
	// Steps is how many ticks the node runs on start. Zero runs until stopped.
	Steps           int
	TickInterval    time.Duration
	Drift           float64
	HistoryCapacity int
	Seed            int64
	ScenarioFile    string
}

type Log struct {
	File       string // empty logs to console only
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Verbose    bool
}

type Config struct {
	Simulation  Simulation
	Log         Log
	APIAddr     string
	JournalPath string // empty keeps the journal in memory
}

func Default() Config {
	return Config{
		Simulation: Simulation{
			InitialCash:     100000,
			Steps:           0,
			TickInterval:    500 * time.Millisecond,
			Drift:           0.05,
			HistoryCapacity: 1000,
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		APIAddr: ":8080",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults. Unparseable values keep the default.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	setFloat(&cfg.Simulation.InitialCash, "SIM_INITIAL_CASH")
	setInt(&cfg.Simulation.Steps, "SIM_STEPS")
	setFloat(&cfg.Simulation.Drift, "SIM_DRIFT")
	setInt(&cfg.Simulation.HistoryCapacity, "SIM_HISTORY_CAPACITY")
	if v := os.Getenv("SIM_SEED"); v != "" {
		if seed, err := cast.ToInt64E(v); err == nil {
			cfg.Simulation.Seed = seed
		}
	}
	var tickMs int
	if setInt(&tickMs, "SIM_TICK_MS") && tickMs >= 0 {
		cfg.Simulation.TickInterval = time.Duration(tickMs) * time.Millisecond
	}
	cfg.Simulation.ScenarioFile = getEnv("SIM_SCENARIO_FILE", cfg.Simulation.ScenarioFile)

	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	setInt(&cfg.Log.MaxSizeMB, "LOG_MAX_SIZE_MB")
	setInt(&cfg.Log.MaxBackups, "LOG_MAX_BACKUPS")
	setInt(&cfg.Log.MaxAgeDays, "LOG_MAX_AGE_DAYS")
	if v := os.Getenv("VERBOSE"); v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			cfg.Log.Verbose = b
		}
	}

	cfg.APIAddr = getEnv("API_ADDR", cfg.APIAddr)
	cfg.JournalPath = getEnv("JOURNAL_PATH", cfg.JournalPath)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setInt(dst *int, key string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return false
	}
	*dst = n
	return true
}

func setFloat(dst *float64, key string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return false
	}
	*dst = f
	return true
}
