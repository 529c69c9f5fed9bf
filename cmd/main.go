/**
 * @description
 * This is the main entry point for the chatpay-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/vtuclient, pkg/bankclient: Clients for the telco VTU and bank gateways.
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kudipay/chatpay-service/internal/api"
	"github.com/kudipay/chatpay-service/internal/app"
	"github.com/kudipay/chatpay-service/internal/config"
	"github.com/kudipay/chatpay-service/internal/store"
	"github.com/kudipay/chatpay-service/pkg/bankclient"
	rmrabbit "github.com/kudipay/chatpay-service/pkg/rabbitmq"
	"github.com/kudipay/chatpay-service/pkg/vtuclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if strings.TrimSpace(cfg.PaymentWebhookSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"payment webhook secret must be configured\" env=PAYMENT_WEBHOOK_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting chatpay-service\" port=%s", cfg.ServerPort)

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

	// Redis holds the conversational sessions, so it is mandatory.
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"redis url must be configured\" env=REDIS_URL")
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"redis url parse failed\" err=%v", err)
	}
	redisClient := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"redis ping failed\" err=%v", err)
	}
	defer redisClient.Close()
	log.Println("level=info component=bootstrap msg=\"redis connected\"")

	// Initialize the RabbitMQ producer for outbound chat notifications. A
	// missing broker degrades notifications, not message handling.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the gateway clients.
	vtuClient := vtuclient.NewClient(cfg.VTUAPIBaseURL, cfg.VTUAPIUsername, cfg.VTUAPIPassword)
	bankClient := bankclient.NewClient(cfg.BankAPIBaseURL, cfg.BankAPIKey)

	// Initialize the data access layer.
	repository := store.NewPostgresRepository(dbpool)
	sessionStore := store.NewRedisSessionStore(redisClient, cfg.RedisSessionPrefix)

	// Initialize the core application service with its dependencies.
	chatService := app.NewService(
		repository,
		sessionStore,
		vtuClient,
		bankClient,
		app.NewEventNotifier(producer),
		app.Settings{
			SessionTTL:             time.Duration(cfg.SessionTTLMinutes) * time.Minute,
			PINMaxAttempts:         cfg.PINMaxAttempts,
			AirtimeMinKobo:         cfg.AirtimeMinKobo,
			AirtimeMaxKobo:         cfg.AirtimeMaxKobo,
			TransferMinKobo:        cfg.TransferMinKobo,
			TransferMaxKobo:        cfg.TransferMaxKobo,
			TransferFeeBPS:         cfg.TransferFeeBPS,
			DataServiceFeeKobo:     cfg.DataServiceFeeKobo,
			ChatRateLimitPerMinute: cfg.ChatRateLimitPerMinute,
		},
	)
	chatService.SetRateLimiter(app.NewRedisChatRateLimiter(redisClient, cfg.RedisRateLimitPrefix))

	// Initialize the API handlers and router.
	handlers := api.NewChatPayHandlers(chatService)
	webhooks := api.NewWebhookHandlers(chatService, cfg.PaymentWebhookSecret)
	router := api.ChatPayRoutes(handlers, webhooks, cfg.JWKSURL, cfg.InternalAPIKey)

	// Wire up the transfer status consumer: bank transfers that settle
	// asynchronously are resolved through these events.
	transferConsumer := app.NewTransferStatusConsumer(chatService)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	transferBindings := map[string]func([]byte) bool{
		app.TransferStatusRoutingKey: transferConsumer.HandleMessage,
	}
	if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.EventsExchange, cfg.TransferEventQueue, transferBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"transfer consumer start failed\" err=%v", err)
	}

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

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
