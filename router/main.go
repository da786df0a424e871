package router

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/upsc-prep-api/config"
	"github.com/sahilchouksey/upsc-prep-api/database"
	"github.com/sahilchouksey/upsc-prep-api/handlers"
	auth_handlers "github.com/sahilchouksey/upsc-prep-api/handlers/auth"
	import_handlers "github.com/sahilchouksey/upsc-prep-api/handlers/imports"
	"github.com/sahilchouksey/upsc-prep-api/services"
	"github.com/sahilchouksey/upsc-prep-api/services/digitalocean"
	"github.com/sahilchouksey/upsc-prep-api/utils/auth"
	"github.com/sahilchouksey/upsc-prep-api/utils/cache"
	"github.com/sahilchouksey/upsc-prep-api/utils/metrics"
	"github.com/sahilchouksey/upsc-prep-api/utils/middleware"
	"github.com/sahilchouksey/upsc-prep-api/utils/pdfvalidation"
)

// Dependencies are the long-lived components routes are built from.
// Redis and Spaces are nil when not configured.
type Dependencies struct {
	Env     *config.EnviornmentVariable
	Store   database.Storage
	Imports *services.ImportService
	Redis   *cache.RedisCache
	Spaces  *digitalocean.SpacesClient
}

// SetupRoutes attaches middleware and all routes to app
func SetupRoutes(app *fiber.App, deps Dependencies) error {
	env := deps.Env
	if env.JWT_SECRET == "" {
		return errors.New("JWT_SECRET environment variable is not set")
	}

	jwtIssuer := env.JWT_ISSUER
	if jwtIssuer == "" {
		jwtIssuer = "upsc-prep-api"
	}
	jwtManager := auth.NewJWTManager(auth.JWTConfig{
		Secret: env.JWT_SECRET,
		Expiry: 24 * time.Hour,
		Issuer: jwtIssuer,
	})

	// Interfaces must stay nil, not hold a nil pointer, when Redis is off
	var revocationStore auth.KeyStore
	var quotaCounter middleware.Counter
	healthDeps := map[string]handlers.Pinger{"redis": nil, "spaces": nil}
	if deps.Redis != nil {
		revocationStore = deps.Redis
		quotaCounter = deps.Redis
		healthDeps["redis"] = deps.Redis
	}
	if deps.Spaces != nil {
		healthDeps["spaces"] = deps.Spaces
	}

	revocation := auth.NewRevocationService(revocationStore)
	authMiddleware := middleware.NewAuthMiddleware(jwtManager, revocation)
	uploadQuota := middleware.NewUploadQuota(quotaCounter, env.IMPORT_QUOTA_PER_HOUR, time.Hour)

	tokenHandler := auth_handlers.NewTokenHandler(revocation)
	importHandler := import_handlers.NewImportHandler(deps.Imports,
		pdfvalidation.QuestionPaperLimits.WithMax(env.IMPORT_MAX_FILE_MB, env.IMPORT_MAX_PAGES),
		pdfvalidation.AnswerKeyLimits,
	)

	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    env.ALLOWED_ORIGINS,
		RateLimitRequests: 100,             // 100 requests
		RateLimitWindow:   1 * time.Minute, // per minute
	})
	app.Use(metrics.Middleware())

	// Public probes
	app.Get("/ping", handlers.HandlePing)
	app.Get("/health", handlers.HandleCheckHealth(deps.Store, healthDeps))
	app.Get("/metrics", metrics.Handler())

	api := app.Group("/api/v1")

	authGroup := api.Group("/auth", authMiddleware.Required())
	authGroup.Get("/me", tokenHandler.Me)
	authGroup.Post("/logout", tokenHandler.Logout)

	imports := api.Group("/imports", authMiddleware.Required(), authMiddleware.RequireRole(auth.RoleEditor, auth.RoleAdmin))
	imports.Post("/", uploadQuota.Handler(), importHandler.CreateImport)               // Upload a paper (and key) and parse it
	imports.Get("/", importHandler.ListImports)                                        // Own imports, all for admins
	imports.Get("/:id", importHandler.GetImport)                                       // Import summary
	imports.Get("/:id/status", importHandler.GetStatus)                                // Pipeline state
	imports.Get("/:id/stream", importHandler.StreamStatus)                             // Pipeline state as SSE
	imports.Get("/:id/questions", importHandler.ListQuestions)                         // Parsed questions, ?invalid=true for review
	imports.Post("/:id/reparse", uploadQuota.Handler(), importHandler.Reparse)         // Parse archived PDFs again
	imports.Delete("/:id", authMiddleware.RequireAdmin(), importHandler.DeleteImport) // Admin only

	return nil
}
