package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leavetrack/internal/broadcast"
	"leavetrack/internal/config"
	"leavetrack/internal/httpmiddleware"
	"leavetrack/internal/leave"
	"leavetrack/internal/location"
	"leavetrack/internal/notify"
	"leavetrack/internal/school"
	"leavetrack/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		leaveStore  leave.Store
		sampleStore location.SampleStore
		noteStore   notify.Store
		dir         school.Directory
		db          *store.DB
	)

	if cfg.StoreBackend == "memory" {
		leaveStore = leave.NewMemoryStore()
		sampleStore = location.NewMemoryStore()
		noteStore = notify.NewMemoryStore()
		dir = seedDirectory(cfg)
		log.Println("using in-memory stores")
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		leaveStore = leave.NewRepository(db.Client)
		sampleStore = location.NewRepository(db.Client)
		noteStore = notify.NewRepository(db.Client)
		dir = school.NewRepository(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	hub := broadcast.NewHub()
	var pub broadcast.Publisher = hub
	if redisClient.Healthy(ctx) {
		relay := broadcast.NewRelay(hub, redisClient.Client)
		go relay.Run(ctx)
		pub = relay
	} else {
		log.Println("redis not reachable, broadcast limited to this instance")
	}

	leaves := leave.NewService(leaveStore, school.NewAuthz(dir))
	pipeline := location.NewPipeline(sampleStore, leaveStore, dir, pub, noteStore, cfg.UpdateInterval, cfg.DedupSlack)

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	// CORS middleware
	r.Use(corsMiddleware())

	// Security headers
	r.Use(securityHeaders())

	// Rate limiting
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil || cfg.StoreBackend == "memory"
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	app := &api{
		cfg:      cfg,
		leaves:   leaves,
		pipeline: pipeline,
		hub:      hub,
		notes:    noteStore,
		dir:      dir,
	}
	app.register(r)

	// Graceful shutdown
	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: the live event stream keeps its response open.
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	cancel()

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// seedDirectory builds the dev-mode directory from env config: one school
// with the configured geofence and a demo member per role.
func seedDirectory(cfg config.App) *school.MemoryDirectory {
	dir := school.NewMemoryDirectory()
	lat, lng := cfg.SchoolLat, cfg.SchoolLng
	dir.AddSchool(school.School{
		ID:           cfg.SchoolID,
		Name:         "Dev School",
		Latitude:     &lat,
		Longitude:    &lng,
		RadiusMeters: cfg.RadiusMeters,
	})
	dir.AddMember(school.Member{ID: "student-1", SchoolID: cfg.SchoolID, Role: school.RoleStudent, FullName: "Demo Student"})
	dir.AddMember(school.Member{ID: "teacher-1", SchoolID: cfg.SchoolID, Role: school.RoleTeacher, FullName: "Demo Teacher"})
	dir.AddMember(school.Member{ID: "admin-1", SchoolID: cfg.SchoolID, Role: school.RoleAdmin, FullName: "Demo Admin"})
	return dir
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
