package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/quillvault/quillvault/internal/cache"
	"github.com/quillvault/quillvault/internal/config"
	"github.com/quillvault/quillvault/internal/database"
	"github.com/quillvault/quillvault/internal/document/handler"
	"github.com/quillvault/quillvault/internal/document/repository"
	"github.com/quillvault/quillvault/internal/document/service"
	"github.com/quillvault/quillvault/internal/oidc"
	"github.com/quillvault/quillvault/internal/storage"
	"github.com/quillvault/quillvault/internal/tokens"
	"github.com/quillvault/quillvault/internal/users"
	"github.com/quillvault/quillvault/pkg/logger"
	"github.com/quillvault/quillvault/pkg/metrics"
	"github.com/quillvault/quillvault/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// log level controlled with LOG_LEVEL env: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: mongo=%v redis=%v oidc=%v", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.OIDC.IssuerURL != "")

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Lightweight CORS middleware for dev/test. Production should sit
	// behind a stricter policy.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	ctx := context.Background()

	// Redis: content cache plus optional distributed rate limiter
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			logger.Infof("connected to Redis %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	// token verifier: OIDC when configured, HMAC fallback, insecure for
	// integration tests under explicit opt-in
	var verifier middleware.Verifier
	if cfg.OIDC.IssuerURL != "" && cfg.OIDC.ClientID != "" {
		ver, err := oidc.NewVerifier(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			verifier = ver
		}
	}
	if verifier == nil && cfg.JWT.Secret != "" {
		verifier = tokens.NewHMACVerifier(cfg.JWT.Secret)
		logger.Infof("using HMAC token verifier")
	}
	if verifier == nil && strings.EqualFold(os.Getenv("ALLOW_INSECURE_TOKEN"), "true") {
		logger.Warnf("enabling insecure token verifier (integration mode)")
		verifier = oidc.NewInsecureVerifier()
	}
	if verifier != nil {
		r.Use(middleware.OptionalAuthMiddleware(verifier))
	}

	// repositories: Mongo when reachable, memory otherwise
	var (
		docRepo  repository.DocumentRepo
		evtRepo  repository.EventRepo
		snapRepo repository.SnapshotRepo
		userSvc  *users.Service
		mongoTxn *database.MongoTxn
	)
	if cfg.MongoDB.URI != "" {
		client, errConn := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5)
		if errConn != nil {
			logger.Warnf("could not connect to MongoDB: %v", errConn)
		} else {
			defer func() { _ = client.Disconnect(ctx) }()
			db := client.Database(cfg.MongoDB.Database)
			docRepo = repository.NewMongoDocumentRepo(db.Collection("documents"))
			evtRepo = repository.NewMongoEventRepo(db.Collection("events"))
			snapRepo = repository.NewMongoSnapshotRepo(db.Collection("snapshots"))
			userSvc = users.NewService(users.NewMongoUserRepository(db.Collection("users")))
			if cfg.MongoDB.UseTransactions {
				mongoTxn = database.NewMongoTxn(client)
			}
		}
	}
	if docRepo == nil {
		logger.Warnf("running with in-memory repositories; data is not durable")
		docRepo = repository.NewMemoryDocumentRepo()
		evtRepo = repository.NewMemoryEventRepo()
		snapRepo = repository.NewMemorySnapshotRepo()
	}

	svc := service.New(docRepo, evtRepo, snapRepo)
	if mongoTxn != nil {
		svc.SetTxn(mongoTxn)
	}
	if redisClient != nil {
		svc.SetCache(cache.New(redisClient, "", 0))
	}
	if cfg.MinIO.Endpoint != "" {
		archive, err := storage.NewSnapshotArchive(&cfg.MinIO)
		if err != nil {
			logger.Warnf("snapshot archive unavailable: %v", err)
		} else {
			svc.SetArchive(archive)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness: 200 only when critical dependencies answered
	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{
			"storage": docRepo != nil,
			"redis":   redisClient != nil || cfg.Redis.Host == "",
			"users":   userSvc != nil,
		}
		if !deps["storage"] || !deps["redis"] {
			ready = false
		}
		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	handler.RegisterDocumentRoutes(r, svc, cfg.Versioning.DisposableTTL)
	handler.RegisterSwagger(r)

	api := r.Group("/api/v1")
	if verifier != nil {
		api.GET("/me", middleware.AuthMiddleware(verifier), func(c *gin.Context) {
			claims, _ := c.Get("claims")
			if userSvc != nil {
				if cm, ok := claims.(map[string]interface{}); ok {
					u, err := userSvc.UpsertFromClaims(c.Request.Context(), cm)
					if err == nil && u != nil {
						c.JSON(http.StatusOK, gin.H{"user": u})
						return
					}
				}
			}
			c.JSON(http.StatusOK, gin.H{"claims": claims})
		})
		if cfg.JWT.Secret != "" {
			tokens.RegisterTokenRoute(api.Group("", middleware.AuthMiddleware(verifier)), cfg, userSvc)
		}
	} else {
		api.GET("/me", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "identity provider not configured"})
		})
	}

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("starting quillvault on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
