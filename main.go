package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CUknot/project_chat/config"
	"github.com/CUknot/project_chat/controllers"
	"github.com/CUknot/project_chat/database"
	"github.com/CUknot/project_chat/docs"
	"github.com/CUknot/project_chat/middleware"
	"github.com/CUknot/project_chat/websocket"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

// @title           Project Chat API
// @version         1.0
// @description     Room broker and REST fallback for project and task chat
// @host            localhost:8080
// @BasePath        /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Server shut down successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	store := database.NewMessageStore(db)
	hub := websocket.NewHub(store, cfg.HistoryLimit, logger)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		relay := websocket.NewRelay(rdb, cfg.Redis.Channel, hub, logger)
		g.Go(func() error { return relay.Run(ctx) })
	}

	limiter := middleware.NewIPRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RPS,
		BurstSize:         cfg.RateLimit.Burst,
	})
	g.Go(func() error { return limiter.Run(ctx) })

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: newRouter(cfg, hub, store, limiter, logger),
	}

	g.Go(func() error {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRouter(cfg *config.Config, hub *websocket.Hub, store *database.MessageStore, limiter *middleware.IPRateLimiter, logger *slog.Logger) *gin.Engine {
	router := gin.Default()
	router.Use(middleware.CORS())

	messageController := controllers.NewMessageController(hub)
	roomController := controllers.NewRoomController(hub, store)
	wsHandler := websocket.NewHandler(hub, cfg.JWTSecret, rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst, logger)

	router.GET("/hc", controllers.HealthCheck)
	registerDocs(router, cfg.Port)

	api := router.Group("/api", middleware.Identity(cfg.JWTSecret))
	{
		// REST fallback for clients without a live socket
		send := middleware.RateLimit(limiter)
		api.POST("/project-chat", send, messageController.CreateMessage)
		api.POST("/chat/project", send, messageController.CreateMessage)
		api.GET("/project-chat/:projectId", messageController.GetProjectMessages)

		api.GET("/rooms", roomController.GetRooms)
		api.GET("/rooms/:room/messages", messageController.GetRoomMessages)
		api.GET("/rooms/:room/unread", roomController.GetUnreadCount)
		api.POST("/rooms/:room/read", roomController.MarkRoomAsRead)
	}

	// WebSocket route
	router.GET("/ws", wsHandler.HandleConnection)

	return router
}

// registerDocs serves the Swagger UI and doc.json under /swagger.
func registerDocs(router *gin.Engine, port string) {
	docs.SwaggerInfo.Host = "localhost:" + port
	if port == "" {
		docs.SwaggerInfo.Host = "localhost:8080"
	}
	docs.SwaggerInfo.Schemes = []string{"http"}
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}
