// Package config loads and validates configuration.
//
// Values are layered: built-in defaults, then an optional YAML file named by
// SETLIST_CONFIG_FILE, then SETLIST_* environment variables.
//
// Server settings:
//
//	SETLIST_HOST="0.0.0.0"
//	SETLIST_PORT="8080"
//	SETLIST_METRICS_PORT="9090"
//
// Database settings:
//
//	SETLIST_DATABASE_URL="postgres://app@db:5432/setlist?sslmode=disable"
//	SETLIST_DATABASE_MAX_CONNS="25"
//	SETLIST_TENANT_SETTING="app.current_account_id"
//
// Role storage:
//
//	SETLIST_ENVIRONMENT="managed"   # local or managed; derived from the database host when unset
//	SETLIST_IDP_API_URL="https://idp.example.com"
//	SETLIST_IDP_SECRET_KEY="sk_live_..."
//
// The environment is resolved once at load time. Components receive the
// resolved Environment value and never inspect connection strings.
package config
