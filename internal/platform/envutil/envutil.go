// Package envutil holds the no-logging, no-import-cycle env helpers: logger
// uses them because utils.GetEnv* cannot serve it (utils depends on logger
// itself), and config uses Duration and Int for its timing and concurrency
// knobs.
package envutil

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func Int(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Duration reads name as a count of seconds, returning def unset or
// unparsable. config.go uses it for the bus/service timing knobs
// (HEARTBEAT_INTERVAL, RECONNECT_INTERVAL) instead of the teacher's
// time.Duration(GetEnvAsInt(...))*time.Second pattern.
func Duration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(secs) * time.Second
}

// Bool reads name as an on/off flag the way LOG_REDACTION_ENABLED is read:
// "0"/"false"/"no"/"off" (case-insensitive) is false, anything else
// (including unset) is def when unset, true otherwise.
func Bool(name string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return def
	}
	switch v {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}
