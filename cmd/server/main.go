package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"azkaban/internal/audit"
	auditproducer "azkaban/internal/audit/producer"
	auditrepo "azkaban/internal/audit/repository"
	"azkaban/internal/authorizer"
	authzhandler "azkaban/internal/authorizer/handler"
	"azkaban/internal/config"
	"azkaban/internal/db"
	mfahandler "azkaban/internal/mfa/handler"
	mfarepo "azkaban/internal/mfa/repository"
	mfasvc "azkaban/internal/mfa/service"
	policyengine "azkaban/internal/policy/engine"
	"azkaban/internal/rbac"
	rbachandler "azkaban/internal/rbac/handler"
	rbacrepo "azkaban/internal/rbac/repository"
	"azkaban/internal/security"
	"azkaban/internal/server"
	"azkaban/internal/telemetry/otel"
	userhandler "azkaban/internal/user/handler"
	userrepo "azkaban/internal/user/repository"
	usersvc "azkaban/internal/user/service"

	"github.com/gofiber/fiber/v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "azkaban")
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	// Issuer key set, cached with a bounded TTL and refresh-on-miss.
	jwksTTL, _ := cfg.JWKSCacheTTLDuration()
	keySource := security.NewCachedKeySource(&security.HTTPKeySource{URL: cfg.IDPJWKSURL}, jwksTTL)
	verifier := security.NewVerifier(keySource, cfg.IDPIssuer, cfg.IDPAudience)

	// Decision cache: in-process by default, redis when replicas share state.
	cacheTTL, _ := cfg.DecisionCacheTTLDuration()
	var cache authorizer.DecisionCache
	switch cfg.DecisionCacheBackend {
	case "redis":
		cache = authorizer.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	default:
		cache = authorizer.NewMemoryCache()
	}

	// RBAC bindings load once at start; Reload is the explicit refresh hook.
	bindingRepo := rbacrepo.NewPostgresRepository(database)
	engine := rbac.NewEngine(bindingRepo)
	if err := engine.Reload(ctx); err != nil {
		log.Fatalf("rbac: %v", err)
	}
	overrides, err := cfg.PermissionOverrideMap()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	mapper := rbac.NewPermissionMapper(overrides)

	users := usersvc.New(
		userrepo.NewPostgresRepository(database),
		engine,
		cache,
		cfg.AllowedEmailDomain,
	)

	box, err := security.NewSecretBox(cfg.MFASecretKeyBytes())
	if err != nil {
		log.Fatalf("mfa secret key: %v", err)
	}
	assertionTTL, _ := cfg.MFAAssertionTTLDuration()
	assertions := security.NewAssertionProvider([]byte(cfg.MFAAssertionSecret), assertionTTL)
	mfaService := mfasvc.NewService(mfarepo.NewPostgresRepository(database), box, assertions, users, "azkaban")

	evaluator, err := policyengine.NewOPAEvaluator(cfg.MFAPolicyRego)
	if err != nil {
		log.Fatalf("mfa policy: %v", err)
	}

	producer := auditproducer.NewKafkaProducer(cfg.KafkaBrokerList(), cfg.DecisionKafkaTopic)
	defer producer.Close()
	auditor := audit.NewLogger(auditrepo.NewPostgresRepository(database), producer, server.ClientIP)

	gateway := authorizer.NewGateway(verifier, users, engine, mapper, evaluator, assertions, authorizer.Options{
		Cache:        cache,
		Auditor:      auditor,
		CacheTTL:     cacheTTL,
		OnUnenrolled: cfg.MFAOnUnenrolled,
	})

	srv := server.New(cfg.HTTPAddr, database)
	app := srv.App()

	authzhandler.NewHTTP(gateway).RegisterRoutes(app)
	gate := func(resource, action string) fiber.Handler {
		return server.RequireAuthorization(gateway, resource, action)
	}
	userhandler.NewHTTP(users).RegisterRoutes(app, gate)
	mfahandler.NewHTTP(mfaService).RegisterRoutes(app, gate("mfa", "manage"))
	rbachandler.NewHTTP(bindingRepo).RegisterRoutes(app, gate("users", "list"))

	go func() {
		log.Printf("http server listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down http server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("http server stopped")
}
