package main

import (
	"context"
	"log"

	"github.com/mossy-p/liveclass/config"
	"github.com/mossy-p/liveclass/internal/handlers"
	"github.com/mossy-p/liveclass/internal/lesson"
	"github.com/mossy-p/liveclass/internal/redis"
	"github.com/mossy-p/liveclass/internal/signaling"
	"github.com/mossy-p/liveclass/internal/store"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()
	ctx := context.Background()

	// Connect to Redis
	if err := redis.Connect(cfg.Redis); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	log.Println("Redis connection established")

	lectures, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer lectures.Close()

	if err := lectures.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to prepare database: %v", err)
	}

	log.Println("Postgres connection established")

	blobs, err := store.NewBlobs(cfg.BlobDir)
	if err != nil {
		log.Fatalf("Failed to open blob store: %v", err)
	}

	transport := signaling.NewRedisTransport(redis.GetClient(), cfg.RetainTTL)
	lectureAPI := &handlers.Lectures{
		Store: lectures,
		Blobs: blobs,
		Cache: lesson.NewCache(redis.GetClient(), cfg.ArtifactCacheTTL),
	}

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(cfg, transport, lectureAPI)

	// Start server
	log.Printf("Starting liveclass server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
