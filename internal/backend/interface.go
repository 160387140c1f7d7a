package backend

import (
	"context"

	"ledger/internal/events"
	"ledger/internal/insight"
	"ledger/internal/notify"
	"ledger/internal/sheets"
	"ledger/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// StoreResult contains the store instance and its cleanup function
type StoreResult struct {
	Store   storage.Store
	Cleanup CleanupFunc
}

// Factory builds the infrastructure a binary needs from configuration.
type Factory interface {
	// OpenStore opens the persistence backend selected by config.Type.
	OpenStore(ctx context.Context, config Config) (*StoreResult, error)
	// OpenDispatcher connects to AMQP, or returns an in-process queue when
	// no broker URL is configured.
	OpenDispatcher(config Config) (events.Dispatcher, error)
	// NewNotifier returns an SMTP mailer, or a logging notifier without SMTP.
	NewNotifier(config Config) (notify.Notifier, error)
	// NewInsights returns nil when no Gemini key is configured.
	NewInsights(ctx context.Context, config Config) (*insight.Service, error)
	// NewReportWriter returns nil when report export is disabled.
	NewReportWriter(ctx context.Context, config Config) (sheets.ReportWriter, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Postgres specific
	DatabaseURL string

	// AMQP; empty URL selects the in-process queue
	AMQPURL         string
	AMQPExchange    string
	AMQPQueuePrefix string
	AMQPPrefetch    int

	// SMTP; empty host logs notifications
	SMTP notify.SMTPConfig

	// Gemini; empty key disables model calls
	GeminiAPIKey string
	GeminiModel  string

	// Google Sheets report export; empty ID disables it
	GoogleSpreadsheetID      string
	ReportSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	MemoryBackend   BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, PostgresBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
