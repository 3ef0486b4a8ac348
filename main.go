package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"devdocs-chat/compactor"
	"devdocs-chat/config"
	"devdocs-chat/handlers"
	"devdocs-chat/middleware"
	"devdocs-chat/relay"
	"devdocs-chat/services"
	"devdocs-chat/store"
	"devdocs-chat/workflows"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

const redisPrefix = "devdocs:"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	ctx := context.Background()

	// History store
	historyStore, redisClient, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer closeStore()
	log.Printf("Using %s history store", cfg.Store.Driver)

	// Turn locking: shared through Redis when available
	var locker store.TurnLocker = store.NewLocalTurnLocker()
	if redisClient != nil {
		locker = store.NewRedisTurnLocker(redisClient, redisPrefix, cfg.Redis.LockTTL)
	}

	// Model provider
	provider, err := newProvider(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s provider: %v", cfg.LLM.Provider, err)
	}
	log.Printf("Using model provider %s (model %s)", provider.Name(), cfg.LLM.Model)

	// Durable whole-response completions
	if cfg.DBOS.Enabled {
		dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
			DatabaseURL: cfg.DatabaseURL,
			AppName:     cfg.DBOS.AppName,
		})
		if err != nil {
			log.Fatalf("Failed to initialize DBOS: %v", err)
		}
		durable := workflows.NewDurableProvider(dbosCtx, provider)

		// Register workflows with DBOS (MUST be before Launch)
		dbos.RegisterWorkflow(dbosCtx, durable.CompleteWorkflow)

		if err := dbos.Launch(dbosCtx); err != nil {
			log.Fatalf("Failed to launch DBOS: %v", err)
		}
		defer dbos.Shutdown(dbosCtx, 5*time.Second)
		provider = durable
		log.Println("DBOS initialized - durable completions enabled")
	}

	compact, err := compactor.New(provider, compactor.Options{
		RetainedTailSize:     cfg.Context.RetainedTailSize,
		SummarizationTrigger: cfg.Context.SummarizationTrigger,
		SummaryMaxLength:     cfg.Context.SummaryMaxLength,
		Temperature:          cfg.LLM.SummaryTemperature,
		Timeout:              cfg.Context.SummaryTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize compactor: %v", err)
	}
	streamRelay := relay.New(provider, relay.Options{
		ChunkSize:  cfg.Relay.ChunkSize,
		BufferSize: cfg.Relay.BufferSize,
		Timeout:    cfg.Relay.Timeout,
	})

	chatWorkflows := workflows.NewChatWorkflows(historyStore, locker, compact, streamRelay, workflows.Options{
		QueueTurns:  cfg.TurnPolicy == "queue",
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	// Initialize handlers
	chatHandler := handlers.NewChatHandler(chatWorkflows)
	deps := map[string]store.Pinger{}
	if p, ok := historyStore.(store.Pinger); ok {
		deps["store"] = p
	}
	healthHandler := handlers.NewHealthHandler(cfg.ServerName, cfg.Version, provider.Name(), deps)

	// Setup Gin router
	router := gin.Default()
	router.Use(middleware.CORS(cfg.Server.CORSOrigins, relay.ConversationHeader))

	// API routes
	api := router.Group("/api")
	if qps := cfg.Server.RateLimitQPS; qps > 0 {
		if redisClient != nil {
			api.Use(middleware.RedisRateLimit(redisClient, redisPrefix, qps))
		} else {
			api.Use(middleware.RateLimit(middleware.NewIPRateLimiter(qps, 10*time.Minute)))
		}
	}
	{
		api.POST("/chat", chatHandler.Chat)
		api.GET("/chat/conversations/:id", chatHandler.GetConversation)
		api.DELETE("/chat/conversations/:id", chatHandler.DeleteConversation)

		if cfg.Gateway.UpstreamURL != "" {
			gatewayHandler := handlers.NewGatewayHandler(relay.NewGateway(cfg.Gateway.UpstreamURL))
			api.POST("/gateway/chat", gatewayHandler.Chat)
			log.Printf("Gateway forwarding to %s", cfg.Gateway.UpstreamURL)
		}
	}

	// Health checks
	router.GET("/", healthHandler.Root)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)

	// Start server
	port := strconv.Itoa(cfg.Server.Port)
	log.Printf("Starting server on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// openStore opens the configured history store. The Redis client is
// returned for locking and rate limiting when the store uses Redis.
func openStore(ctx context.Context, cfg *config.AppConfig) (store.HistoryStore, *redis.Client, func(), error) {
	noop := func() {}
	switch cfg.Store.Driver {
	case "postgres":
		s, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, noop, err
		}
		return s, nil, func() { s.Close() }, nil
	case "sqlite":
		s, err := store.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, noop, err
		}
		return s, nil, func() { s.Close() }, nil
	case "bolt":
		s, err := store.OpenBolt(cfg.Store.BoltPath)
		if err != nil {
			return nil, nil, noop, err
		}
		return s, nil, func() { s.Close() }, nil
	case "redis":
		client, err := store.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, noop, err
		}
		return store.NewRedisStore(client, redisPrefix, cfg.Store.TTL), client, func() { client.Close() }, nil
	default:
		return store.NewMemoryStore(), nil, noop, nil
	}
}

// newProvider builds the configured model provider. With Anthropic as
// primary, a usable OpenAI key enables fallback to the OpenAI model.
func newProvider(cfg *config.AppConfig) (services.Provider, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		primary := services.NewAnthropicService(cfg.AnthropicAPIKey, cfg.LLM.Model)
		if !cfg.FallbackEnabled() {
			return primary, nil
		}
		secondary := services.NewOpenAIService(cfg.LLM.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.LLM.FallbackModel)
		log.Printf("OpenAI fallback enabled (model %s)", cfg.LLM.FallbackModel)
		return services.NewFallbackProvider(primary, secondary), nil
	case "openai":
		return services.NewOpenAIService(cfg.LLM.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.LLM.Model), nil
	case "dummy":
		p, err := services.NewDummyProvider(cfg.LLM.DummyScript, true)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.LLM.Provider)
	}
}
