/**
 * @description
 * This is the main entry point for the escrow-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, external API clients, message brokers, repositories, the core
 * application service, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/processorclient: Client for the payment processor API.
 * - pkg/profileclient: Client for the profile service's internal API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/gigvault/escrow-service/internal/api"
	"github.com/gigvault/escrow-service/internal/app"
	"github.com/gigvault/escrow-service/internal/config"
	"github.com/gigvault/escrow-service/internal/store"
	"github.com/gigvault/escrow-service/pkg/processorclient"
	"github.com/gigvault/escrow-service/pkg/profileclient"
	"github.com/gigvault/escrow-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting escrow-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish payment events. A broker
	// outage degrades to a logging fallback rather than blocking payments.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the payment processor API.
	processorTimeout := time.Duration(cfg.ProcessorTimeoutSec) * time.Second
	processorClient := processorclient.NewClient(cfg.ProcessorAPIBaseURL, cfg.ProcessorAPIKey, processorTimeout)

	// Initialize the client for the profile service. Missing config should not
	// prevent the service from booting; the rating consistency check degrades.
	var profileClient *profileclient.Client
	if strings.TrimSpace(cfg.ProfileServiceURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"profile service client not configured; rating consistency check disabled\" env=PROFILE_SERVICE_URL")
	} else {
		profileClient = profileclient.NewClient(cfg.ProfileServiceURL, cfg.ProfileServiceAPIKey)
	}

	// Connect to Redis for entity caching. A missing or unreachable Redis only
	// disables the cache; reads fall through to the database.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; entity cache disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; entity cache disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; entity cache disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	escrowService := app.NewService(repository, processorClient, producer, app.Options{
		PlatformFeePercent: cfg.PlatformFeePercent,
		DefaultCurrency:    cfg.DefaultCurrency,
		EventExchange:      cfg.PaymentEventExchange,
		PaymentReturnURL:   cfg.PaymentReturnURL,
		OnboardingReturn:   cfg.OnboardingReturnURL,
		OnboardingRefresh:  cfg.OnboardingRefreshURL,
		RefundWindow:       time.Duration(cfg.RefundWindowDays) * 24 * time.Hour,
	})
	if redisClient != nil {
		escrowService.SetCache(app.NewEntityCache(redisClient, cfg.RedisCachePrefix, 5*time.Minute))
	}

	// The consistency validator runs against the same repository; the profile
	// client may be nil, which disables only the rating check.
	var profiles app.ProfileDirectory
	if profileClient != nil {
		profiles = profileClient
	}
	validator := app.NewConsistencyValidator(repository, profiles)

	// Initialize the API handlers.
	paymentHandlers := api.NewPaymentHandlers(escrowService, validator)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/payments", api.PaymentRoutes(paymentHandlers, cfg.AuthJWKSURL))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the contract event consumer so the local contract/milestone read
	// model stays current.
	contractConsumer := app.NewContractEventConsumer(repository)

	rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	contractBindings := map[string]func([]byte) bool{
		"contract.created":   contractConsumer.HandleContractEvent,
		"contract.updated":   contractConsumer.HandleContractEvent,
		"milestone.created":  contractConsumer.HandleMilestoneEvent,
		"milestone.updated":  contractConsumer.HandleMilestoneEvent,
		"milestone.approved": contractConsumer.HandleMilestoneEvent,
	}

	if err := rabbitConsumer.ConsumeWithBindings(cfg.ContractEventExchange, cfg.ContractEventQueue, contractBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"contract consumer start failed\" err=%v", err)
	}

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
