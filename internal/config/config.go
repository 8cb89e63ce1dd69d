// Package config centralizes environment-driven configuration for the
// workflow manager. Every knob has a default; DB_DRIVER defaults to
// postgres, so running against a local sqlite file needs DB_DRIVER=sqlite
// (SQLITE_PATH picks the file).
package config

import (
	"fmt"
	"time"

	"github.com/gobflow/workflow-manager/internal/logger"
	"github.com/gobflow/workflow-manager/internal/platform/envutil"
	"github.com/gobflow/workflow-manager/internal/utils"
)

type Config struct {
	DBDriver   string // "postgres" or "sqlite"
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	SQLitePath string

	RedisAddr string
	RedisDB   int

	HeartbeatInterval   time.Duration
	ReconnectInterval   time.Duration
	ZombieMultiplier    int
	DeadMultiplier      int
	RemoveMultiplier    int
	DispatchConcurrency int

	WorkflowRegistryFile string
	ContentsDir          string

	LogName        string
	LogMode        string
	TracingEnabled bool
}

// Load reads configuration from the environment, logging which vars were
// found versus defaulted (via utils.GetEnv/GetEnvAsInt, same as the rest of
// the stack does for visibility into deploy misconfiguration).
func Load(log *logger.Logger) *Config {
	c := &Config{
		DBDriver:   utils.GetEnv("DB_DRIVER", "postgres", log),
		DBHost:     utils.GetEnv("POSTGRES_HOST", "localhost", log),
		DBPort:     utils.GetEnv("POSTGRES_PORT", "5432", log),
		DBUser:     utils.GetEnv("POSTGRES_USER", "workflow", log),
		DBPassword: utils.GetEnv("POSTGRES_PASSWORD", "", log),
		DBName:     utils.GetEnv("POSTGRES_NAME", "workflow_manager", log),
		DBSSLMode:  utils.GetEnv("POSTGRES_SSLMODE", "require", log),
		SQLitePath: utils.GetEnv("SQLITE_PATH", "workflow_manager.db", log),

		RedisAddr: utils.GetEnv("REDIS_ADDR", "localhost:6379", log),
		RedisDB:   utils.GetEnvAsInt("REDIS_DB", 0, log),

		HeartbeatInterval:   envutil.Duration("HEARTBEAT_INTERVAL", 30*time.Second),
		ReconnectInterval:   envutil.Duration("RECONNECT_INTERVAL", 60*time.Second),
		ZombieMultiplier:    utils.GetEnvAsInt("ZOMBIE_THRESHOLD_MULTIPLIER", 2, log),
		DeadMultiplier:      2,
		RemoveMultiplier:    60,
		DispatchConcurrency: envutil.Int("DISPATCH_CONCURRENCY", 1),

		WorkflowRegistryFile: utils.GetEnv("WORKFLOW_REGISTRY_FILE", "", log),
		ContentsDir:          utils.GetEnv("CONTENTS_DIR", "/tmp/workflow-manager/contents", log),

		LogName:        utils.GetEnv("LOG_NAME", "workflow-manager", log),
		LogMode:        utils.GetEnv("LOG_MODE", "production", log),
		TracingEnabled: utils.GetEnvAsBool("TRACING_ENABLED", true, log),
	}
	return c
}

// DSN builds the GORM-compatible data source name for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// ZombieThreshold is the heartbeat staleness past which a running job is
// considered a zombie rather than genuinely live (spec open question,
// pinned to 2x HEARTBEAT_INTERVAL by default, same as the dead-service
// threshold).
func (c *Config) ZombieThreshold() time.Duration {
	return time.Duration(c.ZombieMultiplier) * c.HeartbeatInterval
}

// DeadThreshold is the heartbeat staleness past which a Service is marked dead.
func (c *Config) DeadThreshold() time.Duration {
	return time.Duration(c.DeadMultiplier) * c.HeartbeatInterval
}

// RemoveThreshold is the heartbeat staleness past which a dead Service row
// is reaped entirely.
func (c *Config) RemoveThreshold() time.Duration {
	return time.Duration(c.RemoveMultiplier) * c.HeartbeatInterval
}
