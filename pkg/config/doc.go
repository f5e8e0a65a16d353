// Package config loads billing service configuration from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	BMS_HOST="0.0.0.0"
//	BMS_PORT="8080"
//	BMS_HEALTH_PORT="9090"
//	BMS_CORS_ORIGINS="https://app.example.com,https://admin.example.com"
//
// Database settings:
//
//	BMS_DB_DRIVER="postgres"  # postgres, sqlite3, memory
//	BMS_DB_DSN="postgres://bms@localhost/bms?sslmode=disable"
//	BMS_DB_MAX_CONNS="20"
//
// Cache settings:
//
//	BMS_CACHE_ENABLED="true"
//	BMS_CACHE_TTL="30s"
//	BMS_REDIS_URL="localhost:6379"
//
// Invoice documents:
//
//	BMS_ARCHIVE_TYPE="s3"  # none, filesystem, s3
//	BMS_S3_BUCKET="bms-invoices"
//	BMS_ISSUER_NAME="Example Corp"
//
// Billing and sweeps:
//
//	BMS_INVOICE_DUE_DAYS="14"
//	BMS_DEFAULT_CURRENCY="USD"
//	BMS_SUBSCRIPTION_SWEEP_SCHEDULE="5 0 * * *"
//	BMS_INVOICE_SWEEP_SCHEDULE="15 * * * *"
//	BMS_CATALOG_FILE="/etc/bms/plans.yaml"
//	BMS_GATEWAY_SECRET="..."  # enables POST /api/v1/gateway/events
//
// Notifications:
//
//	BMS_WEBHOOK_URL="https://hooks.example.com/billing"
//	BMS_WEBHOOK_SECRET="..."
//	BMS_WEBHOOK_EVENTS="invoice.paid,payment.refunded"
//
// Observability settings:
//
//	BMS_LOG_LEVEL="info"  # debug, info, warn, error
//	BMS_LOG_FORMAT="json"  # json, text
//	BMS_METRICS_ENABLED="true"
//	BMS_OTEL_ENABLED="true"
//	BMS_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
