package cli

import (
	"context"
	"time"

	"ledger/internal/backend"
	"ledger/internal/config"
	"ledger/internal/ledger"
	"ledger/internal/log"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/retry"
	"ledger/internal/services"
	"ledger/internal/storage"
)

// OpenStore opens the configured store or exits the process.
func OpenStore(ctx context.Context, logger *log.Logger, factory backend.Factory, bcfg backend.Config) *backend.StoreResult {
	res, err := factory.OpenStore(ctx, bcfg)
	if err != nil {
		Exit(logger, "Failed to open store", err)
	}
	return res
}

// BackendConfig converts cfg or exits the process.
func BackendConfig(logger *log.Logger, cfg *config.Config) backend.Config {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		Exit(logger, "Invalid backend configuration", err)
	}
	return bcfg
}

// NewRecurringProcessor builds the throttled, retrying consumer of
// recurring events. The returned limiter must be stopped on shutdown.
func NewRecurringProcessor(cfg *config.Config, store storage.Store, mgr *ledger.Manager) (*services.RecurringProcessor, *ratelimit.Limiter) {
	throttle := ratelimit.NewLimiter(ratelimit.Config{
		Limit:  cfg.RecurringThrottleLimit,
		Window: cfg.RecurringThrottleWindow,
	})
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.BaseDelay = cfg.RetryBaseDelay
	return services.NewRecurringProcessor(mgr, store, throttle, policy), throttle
}

// Close runs cleanup and logs its error.
func Close(logger *log.Logger, what string, cleanup func() error) {
	if cleanup == nil {
		return
	}
	if err := cleanup(); err != nil {
		logger.Warn("Cleanup failed", "resource", what, log.FieldError, err)
	}
}

// ShutdownTimeout bounds graceful shutdown in every binary.
const ShutdownTimeout = 30 * time.Second
