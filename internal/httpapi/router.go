package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"flowchart_gateway/internal/auth"
	"flowchart_gateway/internal/config"
	"flowchart_gateway/internal/gate"
	"flowchart_gateway/internal/generation"
	"flowchart_gateway/internal/ledger"
	"flowchart_gateway/internal/middleware"
	"flowchart_gateway/internal/models"
	"flowchart_gateway/internal/payment"
	"flowchart_gateway/internal/queue"
	"flowchart_gateway/internal/ratelimit"
	"flowchart_gateway/internal/storage"
	"flowchart_gateway/internal/utils"
)

// FlowchartGate runs one generation request through the credit state machine
type FlowchartGate interface {
	Generate(ctx context.Context, req gate.Request) (*gate.Result, error)
}

// PaymentService sells credits and applies confirmed payments
type PaymentService interface {
	CreatePaymentIntent(ctx context.Context, userID string, quantity int64) (*payment.Intent, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*payment.WebhookResult, error)
}

// HistoryReader lists recorded generation attempts
type HistoryReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.GenerationRecord, error)
}

// Dependencies aggregates all services the HTTP layer needs.
// Payments, History and AdminTokens are optional; their routes answer 503
// when unset.
type Dependencies struct {
	Ledger       ledger.Store
	Gate         FlowchartGate
	Payments     PaymentService
	History      HistoryReader
	RateLimit    ratelimit.Limiter
	AdminTokens  middleware.TokenValidator
	HealthChecks map[string]ledger.Pinger
	Logger       *utils.Logger

	// background work and connections owned by NewRouter
	historyWorker *storage.HistoryWorker
	closers       []func() error
}

// NewRouter creates an HTTP handler with all dependencies wired up from cfg
func NewRouter(ctx context.Context, cfg *config.Config) (http.Handler, *Dependencies, error) {
	deps := &Dependencies{
		HealthChecks: make(map[string]ledger.Pinger),
		Logger:       utils.NewLogger("http"),
	}
	logger := utils.NewLogger("router")

	var db *storage.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = storage.NewDB(storage.DBConfig{
			DSN:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		deps.closers = append(deps.closers, db.Close)
		deps.HealthChecks["database"] = db

		if err := db.EnsureSchema(ctx); err != nil {
			deps.Close()
			return nil, nil, err
		}
	}

	var redisClient *storage.RedisClient
	if cfg.Redis.Address != "" {
		redisCfg := storage.DefaultRedisConfig()
		redisCfg.Address = cfg.Redis.Address
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		var err error
		redisClient, err = storage.NewRedisClient(redisCfg)
		if err != nil {
			deps.Close()
			return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		deps.closers = append(deps.closers, redisClient.Close)
		deps.HealthChecks["redis"] = redisClient
	}

	// Ledger backend
	switch cfg.Ledger.Backend {
	case config.BackendPostgres:
		deps.Ledger = db.NewLedgerRepository()
	case config.BackendRedis:
		deps.Ledger = ledger.NewRedisStore(redisClient.Client(), cfg.Ledger.RedisPrefix)
	default:
		logger.Warn("Using in-memory ledger, balances are lost on restart")
		deps.Ledger = ledger.NewMemoryStore()
	}
	if p, ok := deps.Ledger.(ledger.Pinger); ok {
		deps.HealthChecks["ledger"] = p
	}

	// Generator
	generator, err := generation.New(ctx, generation.Config{
		Provider:     cfg.Generation.Provider,
		APIKey:       cfg.Generation.APIKey,
		Model:        cfg.Generation.Model,
		BaseURL:      cfg.Generation.BaseURL,
		SystemPrompt: cfg.Generation.SystemPrompt,
		Timeout:      cfg.Generation.Timeout,
	})
	if err != nil {
		deps.Close()
		return nil, nil, fmt.Errorf("failed to initialize generator: %w", err)
	}
	if c, ok := generator.(generation.Closer); ok {
		deps.closers = append(deps.closers, c.Close)
	}

	// Generation history needs a database to land in
	gateOpts := gate.DefaultOptions()
	gateOpts.RefundOnFailure = cfg.Ledger.RefundOnFailure
	if db != nil && cfg.History.Enabled {
		worker, err := newHistoryWorker(cfg, db, redisClient)
		if err != nil {
			deps.Close()
			return nil, nil, err
		}
		worker.Start(context.Background())
		deps.historyWorker = worker
		gateOpts.Recorder = worker
		deps.History = db.NewGenerationRepository()
	}
	deps.Gate = gate.New(deps.Ledger, generator, gateOpts)

	// Payments
	if cfg.Payment.Enabled() {
		var events payment.EventLog
		if db != nil {
			events = db.NewPaymentEventRepository()
		} else {
			logger.Warn("No database configured, webhook deduplication is in-process only")
			events = storage.NewEventCache(cfg.Payment.EventCacheSize, cfg.Payment.EventCacheTTL)
		}

		svc, err := payment.NewService(payment.Config{
			SecretKey:     cfg.Payment.StripeSecretKey,
			WebhookSecret: cfg.Payment.StripeWebhookSecret,
			Currency:      cfg.Payment.Currency,
			CreditPrice:   cfg.Payment.CreditPrice,
			MaxQuantity:   cfg.Payment.MaxQuantity,
		}, deps.Ledger, events, nil)
		if err != nil {
			deps.Close()
			return nil, nil, fmt.Errorf("failed to initialize payments: %w", err)
		}
		deps.Payments = svc
	}

	// Rate limiting
	if cfg.RateLimit.RequestsPerMinute > 0 && redisClient != nil {
		deps.RateLimit = ratelimit.NewFixedLimiter(ratelimit.NewRateLimiter(redisClient.Client()), cfg.RateLimit.RequestsPerMinute)
	} else {
		deps.RateLimit = ratelimit.NewNoopLimiter()
	}

	// Admin tokens
	if cfg.AdminEnabled() {
		issuer, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AdminTokenTTL)
		if err != nil {
			deps.Close()
			return nil, nil, err
		}
		deps.AdminTokens = issuer
	}

	return NewHandler(deps, cfg.CORSOrigins), deps, nil
}

func newHistoryWorker(cfg *config.Config, db *storage.DB, redisClient *storage.RedisClient) (*storage.HistoryWorker, error) {
	queueCfg := queue.DefaultConfig("generations")
	queueCfg.BatchSize = cfg.History.BatchSize
	queueCfg.BatchTimeout = cfg.History.BatchTimeout
	queueCfg.MaxRetries = cfg.History.MaxRetries
	queueCfg.RetryBackoff = cfg.History.RetryBackoff

	var q queue.Queue
	var dlq queue.DeadLetterQueue
	if redisClient != nil {
		var err error
		q, err = queue.NewRedisQueue(redisClient.Client(), queueCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create history queue: %w", err)
		}
		dlq, err = queue.NewRedisDeadLetterQueue(redisClient.Client(), queueCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create history DLQ: %w", err)
		}
	} else {
		q = queue.NewMemoryQueue(queueCfg)
		dlq = queue.NewMemoryDeadLetterQueue(queue.DefaultDeadLetterCapacity)
	}

	return storage.NewHistoryWorker(q, dlq, db.NewGenerationRepository(), queueCfg), nil
}

// NewHandler registers every route on a fresh mux and wraps it with CORS and
// request logging
func NewHandler(deps *Dependencies, corsOrigins []string) http.Handler {
	if deps.Logger == nil {
		deps.Logger = utils.NewLogger("http")
	}
	if deps.RateLimit == nil {
		deps.RateLimit = ratelimit.NewNoopLimiter()
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps)

	return middleware.Chain(mux,
		middleware.RequestLogging(deps.Logger),
		middleware.CORS(corsOrigins),
	)
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Public flowchart and payment endpoints
	mux.HandleFunc("POST /api/flowcharts/generate", deps.handleGenerate)
	mux.HandleFunc("GET /api/users/{userId}/credits", deps.handleGetCredits)
	mux.HandleFunc("POST /api/payment/buy-credit", deps.handleBuyCredit)
	mux.HandleFunc("POST /api/payment/webhook", deps.handleWebhook)

	// Health check endpoint - public
	mux.HandleFunc("GET /health", deps.handleHealth)

	// Admin endpoints - protected with AdminJWTMiddleware
	adminOnly := middleware.AdminJWTMiddleware(deps.AdminTokens, auth.RoleAdmin)
	viewer := middleware.AdminJWTMiddleware(deps.AdminTokens, auth.RoleViewer)
	mux.Handle("POST /admin/credits", adminOnly(http.HandlerFunc(deps.handleAdminGrantCredits)))
	mux.Handle("GET /admin/users/{userId}", viewer(http.HandlerFunc(deps.handleAdminGetUser)))
	mux.Handle("GET /admin/users/{userId}/generations", viewer(http.HandlerFunc(deps.handleAdminListGenerations)))
}

// Close stops the history worker, then closes generators and connections
func (d *Dependencies) Close() {
	if d.historyWorker != nil {
		if err := d.historyWorker.Stop(); err != nil {
			d.Logger.Error("Failed to stop history worker", "error", err)
		}
		d.historyWorker = nil
	}

	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Logger.Error("Failed to close resource", "error", err)
		}
	}
	d.closers = nil
}
