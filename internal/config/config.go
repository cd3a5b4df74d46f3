package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config (recent-broadcast cache; optional)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Push gateway config
	ExpoBaseURL    string
	ExpoBatchSize  int  // gateway's documented max messages per request
	ExpoTimeout    int  // HTTP timeout for one batch call, in seconds
	BreakerEnabled bool // circuit breaker around gateway dispatch
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "pushrelay",
		DBPassword: "",
		DBName:     "pushrelay",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		// Expo push API defaults
		ExpoBaseURL:    "https://exp.host",
		ExpoBatchSize:  100,
		ExpoTimeout:    30,
		BreakerEnabled: true,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Expo push gateway config
	if url := os.Getenv("EXPO_BASE_URL"); url != "" {
		cfg.ExpoBaseURL = url
	}

	if size := os.Getenv("EXPO_BATCH_SIZE"); size != "" {
		s, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid EXPO_BATCH_SIZE: %w", err)
		}
		if s <= 0 {
			return nil, fmt.Errorf("EXPO_BATCH_SIZE must be positive, got %d", s)
		}
		cfg.ExpoBatchSize = s
	}

	if timeout := os.Getenv("EXPO_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid EXPO_TIMEOUT: %w", err)
		}
		cfg.ExpoTimeout = t
	}

	if breaker := os.Getenv("GATEWAY_BREAKER"); breaker != "" {
		cfg.BreakerEnabled = breaker == "true" || breaker == "1"
	}

	return cfg, nil
}
