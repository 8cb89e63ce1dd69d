// Package utils holds logging-aware env-var accessors: every lookup reports,
// at debug level, whether it found the variable or fell back to its
// default, so a misconfigured deploy shows up in the startup logs instead
// of silently defaulting.
package utils

import (
  "os"
  "strconv"
  "strings"
  "github.com/gobflow/workflow-manager/internal/logger"
)

func GetEnv(key, defaultVal string, log *logger.Logger) string {
  if log != nil {
    log = log.With("env_var", key)
  }
  val, ok := os.LookupEnv(key)
  if !ok {
    if log != nil {
      log.Debug("Environment variable not found, using default", "default", defaultVal)
    }
    return defaultVal
  }
  if log != nil {
    log.Debug("Environment variable found, using environment", "environment", val)
  }
  return val
}

func GetEnvAsInt(key string, defaultVal int, log *logger.Logger) int {
  if log != nil {
    log = log.With("env_var", key)
  }
  valStr, ok := os.LookupEnv(key)
  if !ok {
    if log != nil {
      log.Debug("Environment variable not found, using default", "default", defaultVal)
    }
    return defaultVal
  }
  i, err := strconv.Atoi(valStr)
  if err != nil {
    if log != nil {
      log.Debug("Environment variable could not be parsed as int, using default", "providedVal", valStr, "defaultVal", defaultVal, "error", err)
    }
    return defaultVal
  }
  if log != nil {
    log.Debug("Environment variable found, using it", "value", i)
  }
  return i
}

// GetEnvAsBool parses key as an on/off flag (config.go uses it for
// TRACING_ENABLED), defaulting and logging the same way GetEnv/GetEnvAsInt
// do. "0"/"false"/"no"/"off" (case-insensitive) is false; any other
// non-empty value is true.
func GetEnvAsBool(key string, defaultVal bool, log *logger.Logger) bool {
  if log != nil {
    log = log.With("env_var", key)
  }
  valStr, ok := os.LookupEnv(key)
  if !ok {
    if log != nil {
      log.Debug("Environment variable not found, using default", "default", defaultVal)
    }
    return defaultVal
  }
  switch strings.ToLower(strings.TrimSpace(valStr)) {
  case "0", "false", "no", "off":
    if log != nil {
      log.Debug("Environment variable found, using it", "value", false)
    }
    return false
  default:
    if log != nil {
      log.Debug("Environment variable found, using it", "value", true)
    }
    return true
  }
}
