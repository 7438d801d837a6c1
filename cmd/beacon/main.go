package main

import (
	"context"
	"strings"

	"grievanceportal/internal/chat"
	"grievanceportal/internal/gate"
	"grievanceportal/internal/metrics"
	"grievanceportal/internal/notify"
	"grievanceportal/internal/store"
	"grievanceportal/internal/ws"
	"grievanceportal/pkg/config"
	"grievanceportal/pkg/database"
	"grievanceportal/pkg/kafka"
	"grievanceportal/pkg/logging"
	"grievanceportal/pkg/monitoring"
	"grievanceportal/pkg/redis"
	"grievanceportal/pkg/server"
	"grievanceportal/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("beacon")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Beacon (Realtime Hub)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("beacon", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("beacon", version.Version, version.GitCommit)
	serviceMetrics := metrics.NewMetrics(metricsCollector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Record store
	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.RequireEnv("DATABASE_URL")
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()
	recordStore := store.NewStore(db)

	// Redis backbone for cross-instance group broadcasts
	redisURL := config.RequireEnv("REDIS_URL")
	redisClient, err := redis.NewClientFromURL(ctx, redisURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// WebSocket hub and broadcast backbone
	hub := ws.NewHub(logger, serviceMetrics)
	backboneChannel := config.GetEnv("BACKBONE_CHANNEL", ws.DefaultBackboneChannel)
	broadcaster := ws.NewBroadcaster(hub, redisClient, backboneChannel, logger, serviceMetrics)
	go func() {
		if err := broadcaster.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("Broadcast backbone subscriber stopped")
		}
	}()

	// Notification router and chat pipeline
	router := notify.NewRouter(recordStore, broadcaster, logger, serviceMetrics)
	pipeline := chat.NewPipeline(recordStore, broadcaster, router, logger, serviceMetrics)

	// Kafka consumer for post-commit domain events
	brokers := strings.Split(config.RequireEnv("KAFKA_BROKERS"), ",")
	groupID := config.GetEnv("KAFKA_GROUP_ID", "beacon-group")
	clientID := config.GetEnv("KAFKA_CLIENT_ID", "beacon")
	eventTopic := config.GetEnv("KAFKA_EVENT_TOPIC", notify.DefaultEventTopic)

	consumer, err := kafka.NewConsumer(brokers, groupID, clientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize Kafka consumer")
	}
	defer consumer.Close()
	consumer.AddHandler(eventTopic, notify.DomainEventHandler(router, logger, serviceMetrics))

	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("Kafka consumer error")
		}
	}()

	// Connection gate
	jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))
	verifier := gate.NewVerifier(jwtSecret, recordStore)
	connectionGate := gate.NewGate(verifier, recordStore, hub, pipeline, logger, serviceMetrics)

	// Health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	healthChecker.AddCheck("kafka", monitoring.KafkaConsumerHealthCheck(consumer.GetClient()))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":  dbConfig.URL,
		"REDIS_URL":     redisURL,
		"KAFKA_BROKERS": strings.Join(brokers, ","),
		"JWT_SECRET":    string(jwtSecret),
	}))
	healthChecker.AddDetails(hub.GetStats)

	// Setup router with unified monitoring
	ginRouter := server.SetupServiceRouter(logger, "beacon", healthChecker, metricsCollector)

	// WebSocket routes
	ginRouter.GET("/ws/chat/:conversationID", connectionGate.HandleChat)
	ginRouter.GET("/ws/notifications", connectionGate.HandleNotifications)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("beacon", "18020")
	if err := server.Start(serverConfig, ginRouter, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
