package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.Env != "development" {
		t.Errorf("Env = %s, want development", cfg.Env)
	}
	if cfg.DBHost != "localhost" || cfg.DBPort != 5432 {
		t.Errorf("DB defaults = %s:%d", cfg.DBHost, cfg.DBPort)
	}
	if cfg.DBName != "pushrelay" {
		t.Errorf("DBName = %s", cfg.DBName)
	}
	if cfg.RedisHost != "localhost" || cfg.RedisPort != 6379 {
		t.Errorf("Redis defaults = %s:%d", cfg.RedisHost, cfg.RedisPort)
	}
	if cfg.ExpoBaseURL != "https://exp.host" {
		t.Errorf("ExpoBaseURL = %s", cfg.ExpoBaseURL)
	}
	if cfg.ExpoBatchSize != 100 {
		t.Errorf("ExpoBatchSize = %d, want 100", cfg.ExpoBatchSize)
	}
	if cfg.ExpoTimeout != 30 {
		t.Errorf("ExpoTimeout = %d, want 30", cfg.ExpoTimeout)
	}
	if !cfg.BreakerEnabled {
		t.Error("BreakerEnabled should default to true")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ENV", "production")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_USER", "svc")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "push_prod")
	t.Setenv("DB_SSLMODE", "require")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("EXPO_BASE_URL", "https://push.example.com")
	t.Setenv("EXPO_BATCH_SIZE", "50")
	t.Setenv("EXPO_TIMEOUT", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" || cfg.Env != "production" {
		t.Errorf("LogLevel=%s Env=%s", cfg.LogLevel, cfg.Env)
	}
	if cfg.DBHost != "db.internal" || cfg.DBPort != 5433 {
		t.Errorf("DB = %s:%d", cfg.DBHost, cfg.DBPort)
	}
	if cfg.DBUser != "svc" || cfg.DBPassword != "secret" || cfg.DBName != "push_prod" || cfg.DBSSLMode != "require" {
		t.Error("DB credentials not applied")
	}
	if cfg.RedisHost != "cache.internal" || cfg.RedisPort != 6380 || cfg.RedisDB != 2 {
		t.Errorf("Redis = %s:%d db=%d", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)
	}
	if cfg.ExpoBaseURL != "https://push.example.com" {
		t.Errorf("ExpoBaseURL = %s", cfg.ExpoBaseURL)
	}
	if cfg.ExpoBatchSize != 50 || cfg.ExpoTimeout != 10 {
		t.Errorf("batch=%d timeout=%d", cfg.ExpoBatchSize, cfg.ExpoTimeout)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}

func TestLoad_InvalidDBPort(t *testing.T) {
	t.Setenv("DB_PORT", "abc")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid DB_PORT")
	}
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("EXPO_BATCH_SIZE", "abc")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric EXPO_BATCH_SIZE")
	}
}

func TestLoad_NonPositiveBatchSize(t *testing.T) {
	t.Setenv("EXPO_BATCH_SIZE", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero EXPO_BATCH_SIZE")
	}

	t.Setenv("EXPO_BATCH_SIZE", "-5")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative EXPO_BATCH_SIZE")
	}
}

func TestLoad_BreakerToggle(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"false", false},
		{"0", false},
		{"off", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("GATEWAY_BREAKER", tt.value)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.BreakerEnabled != tt.want {
				t.Errorf("BreakerEnabled = %v, want %v", cfg.BreakerEnabled, tt.want)
			}
		})
	}
}
