package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/AnshRaj112/workbridge/internal/config"
	"github.com/AnshRaj112/workbridge/internal/database"
	"github.com/AnshRaj112/workbridge/internal/handlers"
	"github.com/AnshRaj112/workbridge/internal/middleware"
	"github.com/AnshRaj112/workbridge/internal/routes"
	"github.com/AnshRaj112/workbridge/internal/services"
	"github.com/AnshRaj112/workbridge/internal/worklog"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}
	loc, _ := cfg.Location()

	// Connect to PostgreSQL (conversations, work logs)
	log.Printf("Connecting to PostgreSQL...")
	if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
		log.Fatal("Failed to connect to PostgreSQL:", err)
	}

	// Connect to Redis (sessions, presence, room fan-out, recent messages)
	log.Printf("Connecting to Redis...")
	if err := database.ConnectRedis(cfg.RedisURI); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}

	// Connect to MongoDB (messages, notifications)
	log.Printf("Connecting to MongoDB...")
	if err := database.Connect(cfg.MongoURI, cfg.MongoDatabase); err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}

	messages := services.NewMongoMessageStore(database.DB)
	notificationStore := services.NewMongoNotificationStore(database.DB)
	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), 30*time.Second)
	if err := messages.EnsureIndexes(indexCtx); err != nil {
		log.Printf("⚠️  WARNING: failed to ensure message indexes: %v", err)
	}
	if err := notificationStore.EnsureIndexes(indexCtx); err != nil {
		log.Printf("⚠️  WARNING: failed to ensure notification indexes: %v", err)
	} else {
		log.Println("✅ MongoDB indexes ensured")
	}
	cancelIndexes()

	var photos services.PhotoStore
	if cfg.CloudinaryConfigured() {
		cld, err := services.NewCloudinaryService(cfg.CloudinaryName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			log.Printf("⚠️  WARNING: failed to initialize Cloudinary: %v", err)
		} else {
			photos = cld
			log.Println("✅ Cloudinary service initialized")
		}
	} else {
		log.Println("⚠️  WARNING: Cloudinary credentials not found. Attendance photos will be rejected")
	}

	// Realtime gateway; every service publishes through it
	conversations := services.NewConversationService(database.PostgresDB)
	presence := services.NewRedisPresence(database.RedisClient)
	workLogs := services.NewPostgresWorkLogRepository(database.PostgresDB)
	gateway := services.NewGateway(
		services.NewRedisBroker(database.RedisClient),
		presence,
		services.NewCachedMembership(conversations, database.RedisClient),
		workLogs,
		cfg.SocketEventsPerSec,
		cfg.SocketEventBurst,
	)
	gatewayCtx, stopGateway := context.WithCancel(context.Background())
	go gateway.Run(gatewayCtx)

	notifications := services.NewNotificationService(notificationStore, gateway)
	machine := worklog.NewMachine(worklog.WithTTL(cfg.OTPTTL), worklog.WithLocation(loc))

	api := &handlers.API{
		Sessions: services.NewSessionStore(database.RedisClient, cfg.SessionTTL),
		Chat: services.NewChatService(
			messages,
			conversations,
			services.NewRecentCache(database.RedisClient),
			presence,
			gateway,
			notifications,
		),
		WorkLogs: services.NewWorkLogService(
			workLogs,
			machine,
			photos,
			cfg.PhotoFolder,
			gateway,
			notifications,
		),
		Notifications:  notifications,
		Gateway:        gateway,
		AllowedOrigins: cfg.AllowedOrigins,
	}

	// Setup router
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.IsProduction() {
		r.Use(middleware.SecurityHeaders)
		log.Println("✅ Production security headers enabled")
	}

	routes.SetupRoutes(r, api, routes.Options{
		DevSessions:      !cfg.IsProduction(),
		RateLimit:        middleware.APIRateLimit(),
		SessionRateLimit: middleware.SessionRateLimit(),
	})
	if !cfg.IsProduction() {
		log.Println("⚠️  Development sessions enabled at POST /api/auth/dev-session")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Hijacked sockets are not tracked by Shutdown
	server.RegisterOnShutdown(gateway.Close)
	go func() {
		log.Printf("🚀 Workbridge backend running on :%s (work day zone %s)", cfg.Port, loc)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	shutdownCtx, forceShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer forceShutdown()

	// Stores close only after in-flight requests drain
	wait := gfshutdown.GracefulShutdown(shutdownCtx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"workbridge": func(ctx context.Context) error {
			err := server.Shutdown(ctx)
			stopGateway()

			err = errors.Join(err,
				database.DisconnectRedis(),
				database.DisconnectPostgres(),
				database.Disconnect(),
			)
			return err
		},
	})

	exitCode := <-wait
	if exitCode != 0 {
		log.Printf("Shutdown completed with exit code: %d", exitCode)
		os.Exit(exitCode)
	}
	log.Println("Shutdown completed successfully")
}
