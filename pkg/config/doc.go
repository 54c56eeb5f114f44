// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	RL_HOST="0.0.0.0"
//	RL_PORT="8080"
//	RL_HEALTH_PORT="9090"
//	RL_SECURE_COOKIES="true"
//
// Identity settings:
//
//	RL_IDENTITY_HOST="https://real-leaders.com/wp-json/real-leaders/v1"
//	RL_API_BASE_URL="https://api.real-leaders.com/api"
//	RL_APP_BASE_URL="https://app.real-leaders.com"
//	RL_LOGOUT_TIMEOUT="3s"
//
// Storage settings:
//
//	RL_STORAGE_TYPE="redis"  # memory, redis, sqlite
//	RL_REDIS_URL="redis://localhost:6379"
//	RL_SQLITE_PATH="/var/lib/portal/portal.db"
//	RL_SESSION_TTL="12h"
//
// Session settings:
//
//	RL_REFRESH_INTERVAL="23h"
//	RL_RELOAD_DELAY="100ms"
//	RL_WIZARD_STEPS="6"
//	RL_PROTECTED_PREFIXES="/dashboard,/profile"
//	RL_ROUTES_FILE="/etc/portal/routes.yaml"
//
// Observability settings:
//
//	RL_LOG_LEVEL="info"  # debug, info, warn, error
//	RL_METRICS_ENABLED="true"
//	RL_OTEL_ENABLED="true"
//	RL_OTEL_ENDPOINT="otel-collector:4317"
//
// The optional routes file is YAML and is reloaded on change by WatchRoutes.
package config
