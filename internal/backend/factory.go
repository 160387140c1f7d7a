package backend

import (
	"context"
	"fmt"
	"time"

	"ledger/internal/amqp"
	"ledger/internal/cache"
	"ledger/internal/events"
	eventsmem "ledger/internal/events/memory"
	"ledger/internal/insight"
	"ledger/internal/log"
	"ledger/internal/notify"
	"ledger/internal/sheets"
	gsheet "ledger/internal/sheets/google"
	sheetsmem "ledger/internal/sheets/memory"
	"ledger/internal/storage"
	storemem "ledger/internal/storage/memory"
	"ledger/internal/storage/postgres"
)

const (
	insightCacheSize = 500
	insightCacheTTL  = 24 * time.Hour
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory() Factory {
	return &DefaultFactory{logger: log.For(log.ComponentStorage)}
}

// OpenStore implements Factory.OpenStore
func (f *DefaultFactory) OpenStore(ctx context.Context, config Config) (*StoreResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return &StoreResult{Store: repo, Cleanup: repo.Close}, nil

	case PostgresBackend:
		if err := postgres.RunMigrations(config.DatabaseURL); err != nil {
			return nil, fmt.Errorf("failed to migrate postgres: %w", err)
		}
		store, err := postgres.Open(ctx, config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Postgres backend")
		return &StoreResult{Store: store, Cleanup: store.Close}, nil

	case MemoryBackend:
		store := storemem.New()
		f.logger.InfoContext(ctx, "Initialized memory backend")
		return &StoreResult{Store: store, Cleanup: store.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// OpenDispatcher implements Factory.OpenDispatcher
func (f *DefaultFactory) OpenDispatcher(config Config) (events.Dispatcher, error) {
	if config.AMQPURL == "" {
		f.logger.Info("AMQP disabled, using in-process queue")
		return eventsmem.NewQueue(eventsmem.Config{}), nil
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueuePrefix, config.AMQPPrefetch)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue_prefix", config.AMQPQueuePrefix)
	return client, nil
}

// NewNotifier implements Factory.NewNotifier
func (f *DefaultFactory) NewNotifier(config Config) (notify.Notifier, error) {
	if config.SMTP.Host == "" {
		f.logger.Info("SMTP disabled, notifications will be logged")
		return notify.NewLogNotifier(), nil
	}
	mailer, err := notify.NewMailer(config.SMTP)
	if err != nil {
		return nil, err
	}
	return mailer, nil
}

// NewInsights implements Factory.NewInsights
func (f *DefaultFactory) NewInsights(ctx context.Context, config Config) (*insight.Service, error) {
	if config.GeminiAPIKey == "" {
		f.logger.InfoContext(ctx, "Gemini disabled, receipts unavailable and insights use defaults")
		return nil, nil
	}
	gen, err := insight.NewGemini(ctx, config.GeminiAPIKey, config.GeminiModel)
	if err != nil {
		return nil, err
	}
	return insight.NewService(gen, cache.NewLRUCache[[]string](insightCacheSize, insightCacheTTL)), nil
}

// NewReportWriter implements Factory.NewReportWriter
func (f *DefaultFactory) NewReportWriter(ctx context.Context, config Config) (sheets.ReportWriter, error) {
	if config.GoogleSpreadsheetID == "" {
		if config.Type == MemoryBackend {
			// Exports stay in process alongside the rest of the memory state.
			return sheetsmem.New(), nil
		}
		return nil, nil
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SheetName:       config.ReportSheetName,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
