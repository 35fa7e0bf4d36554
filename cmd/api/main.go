package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crmapi/docs"
	"crmapi/internal/auth"
	"crmapi/internal/config"
	"crmapi/internal/database"
	"crmapi/internal/database/migration"
	handlers "crmapi/internal/http/handler"
	"crmapi/internal/http/middleware"
	"crmapi/internal/logging"
	"crmapi/internal/metrics"
	"crmapi/internal/otel"
	"crmapi/internal/repository/postgres"
	"crmapi/internal/service"
	"crmapi/internal/storage"
)

const (
	documentLinkTTL = 15 * time.Minute
	shutdownTimeout = 10 * time.Second
	// multipart framing and text fields on top of the file itself
	bodyOverhead = 1 << 20
)

// @title						CRM API
// @version					1.0
// @BasePath					/
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	log := logging.New(os.Stdout, cfg.Location(), logging.ParseLevel(cfg.LogLevel))

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, log *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// PostgreSQL pool via database/sql, traced by otelsql
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
			return err
		}
	}

	objStore, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	blobs := storage.NewBlobStore(objStore, storage.PublicBaseURL(cfg.Storage))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewRecorder(reg)
	if err != nil {
		return err
	}
	promMW, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return err
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = randomSecret()
		log.Warn("JWT_SECRET is not set; using a random secret, sessions will not survive a restart")
	}
	issuer, err := auth.NewIssuer(secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	customerRepo := postgres.NewCustomerPostgres(db)
	userRepo := postgres.NewUserPostgres(db)

	customerSvc := service.NewCustomerService(customerRepo, blobs, log, rec)
	documentSvc := service.NewDocumentService(blobs, customerRepo, log, rec)
	authSvc := service.NewAuthService(userRepo, issuer, log)
	userSvc := service.NewUserService(userRepo, log)

	if _, err := userSvc.EnsureAdmin(ctx, cfg.Admin); err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(log, cfg.IsProduction()),
		BodyLimit:    int(cfg.Upload.MaxBytes) + bodyOverhead,
		// params and headers outlive the handler in spans, metrics and logs
		Immutable: true,
	})

	// Tracing first so RequestID can tag the server span; everything after sees the id.
	app.Use(otelfiber.Middleware())
	app.Use(middleware.RequestID())
	app.Use(promMW.Handler())
	app.Use(middleware.LoggerWith(log))
	if origins := strings.TrimSpace(cfg.CORSOrigins); origins != "" && origins != "*" {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowCredentials: true,
		}))
	}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	handlers.RegisterRoutes(app, handlers.Deps{
		DB:              db,
		Customers:       customerSvc,
		Documents:       documentSvc,
		Auth:            authSvc,
		Users:           userSvc,
		Tokens:          issuer,
		Upload:          handlers.UploadPolicy{MaxBytes: cfg.Upload.MaxBytes},
		Cookie:          handlers.CookieConfig{Secure: cfg.Auth.CookieSecure, TTL: issuer.TTL()},
		DocumentLinkTTL: documentLinkTTL,
	})

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	if cfg.StaticDir != "" {
		serveFrontend(app, cfg.StaticDir)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(":" + cfg.Port)
	}()
	log.Info("server started", slog.String("addr", ":"+cfg.Port), slog.String("env", cfg.Env))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveFrontend serves the built front end and falls back to index.html for client-side routes.
func serveFrontend(app *fiber.App, dir string) {
	app.Static("/", dir)
	index := filepath.Join(dir, "index.html")
	app.Get("/*", func(c *fiber.Ctx) error {
		if strings.HasPrefix(c.Path(), "/api/") {
			return fiber.ErrNotFound
		}
		return c.SendFile(index)
	})
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
