// Package config loads gateway settings from the environment. Every value
// has a usable default so a bare `nodegated` starts locally.
package config

import (
	"os"
	"strconv"
	"time"
)

const (
	defaultHTTPAddr            = ":8090"
	defaultNodeWSPath          = "/ws/node"
	defaultPingIntervalSec     = 15
	defaultReplayWindowSec     = 60
	defaultInvokeTimeoutSec    = 30
	defaultMaxPendingPerNode   = 100
	defaultIdempotencyTTLSec   = 300
	defaultWheelTickMS         = 100
	defaultWheelSize           = 256
	defaultDatabasePath        = "./nodegate.db"
	defaultNodeCredentialsFile = "./node-credentials.json"
)

type Config struct {
	HTTPAddr            string
	NodeWSPath          string
	PingIntervalSec     int
	ReplayWindow        time.Duration
	InvokeTimeout       time.Duration
	MaxPendingPerNode   int
	IdempotencyTTL      time.Duration
	WheelTick           time.Duration
	WheelSize           int
	DatabasePath        string
	NodeCredentialsFile string
	OperatorUsername    string
	OperatorPassword    string
	LogLevel            string
}

func Load() Config {
	replayWindowSec := parsePositiveIntEnv("NODEGATE_REPLAY_WINDOW_SEC", defaultReplayWindowSec)
	invokeTimeoutSec := parsePositiveIntEnv("NODEGATE_INVOKE_TIMEOUT_SEC", defaultInvokeTimeoutSec)
	idempotencyTTLSec := parsePositiveIntEnv("NODEGATE_IDEMPOTENCY_TTL_SEC", defaultIdempotencyTTLSec)
	wheelTickMS := parsePositiveIntEnv("NODEGATE_WHEEL_TICK_MS", defaultWheelTickMS)

	return Config{
		HTTPAddr:            getEnv("NODEGATE_HTTP_ADDR", defaultHTTPAddr),
		NodeWSPath:          getEnv("NODEGATE_NODE_WS_PATH", defaultNodeWSPath),
		PingIntervalSec:     parsePositiveIntEnv("NODEGATE_PING_INTERVAL_SEC", defaultPingIntervalSec),
		ReplayWindow:        time.Duration(replayWindowSec) * time.Second,
		InvokeTimeout:       time.Duration(invokeTimeoutSec) * time.Second,
		MaxPendingPerNode:   parsePositiveIntEnv("NODEGATE_MAX_PENDING_PER_NODE", defaultMaxPendingPerNode),
		IdempotencyTTL:      time.Duration(idempotencyTTLSec) * time.Second,
		WheelTick:           time.Duration(wheelTickMS) * time.Millisecond,
		WheelSize:           parsePositiveIntEnv("NODEGATE_WHEEL_SIZE", defaultWheelSize),
		DatabasePath:        getEnv("NODEGATE_DB_PATH", defaultDatabasePath),
		NodeCredentialsFile: getEnv("NODEGATE_NODE_CREDENTIALS_FILE", defaultNodeCredentialsFile),
		OperatorUsername:    os.Getenv("NODEGATE_OPERATOR_USERNAME"),
		OperatorPassword:    os.Getenv("NODEGATE_OPERATOR_PASSWORD"),
		LogLevel:            getEnv("NODEGATE_LOG_LEVEL", "info"),
	}
}

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parsePositiveIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}
