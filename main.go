package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/template/html/v2"
	"github.com/nicksnyder/go-i18n/v2/i18n"

	"tidemail/config"
	"tidemail/handlers/api"
	"tidemail/handlers/web"
	"tidemail/mailsync"
	"tidemail/middleware"
	"tidemail/signaling"
	"tidemail/storage"
	"tidemail/utils"
)

func main() {
	utils.Log.Info("Initializing tidemail...")

	cfg, err := config.LoadConfig("config.toml")
	if err != nil {
		utils.Log.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	utils.Log.SetLevel(utils.ParseLevel(cfg.Log.Level))

	if err := utils.InitI18n(cfg.Server.LocalesDir); err != nil {
		utils.Log.Error("Failed to initialize i18n: %v", err)
	}

	// Storage
	db, err := storage.InitDB(cfg.Storage.DataDir)
	if err != nil {
		utils.Log.Error("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	users := storage.NewUserStorage(db)
	accounts := storage.NewAccountStorage(db, []byte(cfg.Encryption.Key))
	sessions := storage.NewSessionStorage(db)
	defer sessions.Close()

	mailStore, err := storage.NewMailStore(filepath.Join(cfg.Storage.DataDir, "mailcache.db"))
	if err != nil {
		utils.Log.Error("Failed to open mail store: %v", err)
		os.Exit(1)
	}
	defer mailStore.Close()

	store := session.New(session.Config{
		Storage:        sessions,
		Expiration:     24 * time.Hour,
		CookieHTTPOnly: true,
	})

	// Signaling
	hub := signaling.NewHub(cfg.Signaling, func(token string) (string, error) {
		claims, err := utils.ValidateToken(token, cfg.JWT.Secret)
		if err != nil {
			return "", err
		}
		return claims.UserID, nil
	})
	hub.Start()
	dispatcher := signaling.NewDispatcher(hub)

	// Sync engine
	coordinator := mailsync.NewCoordinator(mailStore, accounts, users, nil, dispatcher, cfg.Sync)

	// Template engine with custom functions
	engine := html.New(cfg.Server.TemplatesDir, ".html")
	engine.AddFunc("split", strings.Split)
	engine.AddFunc("join", strings.Join)
	engine.AddFunc("lower", strings.ToLower)
	engine.AddFunc("upper", strings.ToUpper)
	engine.AddFunc("trim", strings.TrimSpace)
	engine.AddFunc("hasPrefix", strings.HasPrefix)
	engine.AddFunc("t", func(messageID string) string {
		return utils.T(utils.Localizer, messageID)
	})
	engine.AddFunc("tWithData", func(messageID string, data map[string]interface{}) string {
		return utils.TWithData(utils.Localizer, messageID, data)
	})
	engine.AddFunc("tPlural", func(messageID string, count int) string {
		return utils.TPlural(utils.Localizer, messageID, count)
	})
	engine.AddFunc("formatDate", func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Jan 02, 2006 15:04")
	})
	engine.AddFunc("formatSize", func(size int64) string {
		const unit = 1024
		if size < unit {
			return fmt.Sprintf("%d B", size)
		}
		div, exp := int64(unit), 0
		for n := size / unit; n >= unit; n /= unit {
			div *= unit
			exp++
		}
		return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
	})

	app := fiber.New(fiber.Config{
		Views:       engine,
		ViewsLayout: "layouts/main",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := err.Error()

			var appErr *utils.AppError
			var fiberErr *fiber.Error
			if errors.As(err, &appErr) {
				code = appErr.Code
				message = appErr.Message
				utils.Log.Error("Application error: %v", appErr)
			} else if errors.As(err, &fiberErr) {
				code = fiberErr.Code
			} else {
				utils.Log.Error("Unhandled error: %v", err)
			}

			if api.WantsJSON(c) {
				resp := fiber.Map{"error": message}
				if appErr != nil {
					resp["kind"] = appErr.Kind
				}
				return c.Status(code).JSON(resp)
			}
			return c.Status(code).Render("error", fiber.Map{
				"Error": message,
				"Code":  code,
			})
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New())
	app.Use(helmet.New(helmet.Config{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "SAMEORIGIN",
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; connect-src 'self' ws: wss:;",
	}))
	app.Use(middleware.LocaleMiddleware())
	app.Use(middleware.RateLimiter(cfg.RateLimit))
	app.Use(middleware.CSRFProtection())

	app.Static("/assets", "./assets", fiber.Static{
		Compress:      true,
		CacheDuration: 24 * time.Hour,
	})

	// Handlers
	authHandler := web.NewAuthHandler(store, cfg, users)
	inboxPage := web.NewInboxHandler(coordinator, users, accounts)
	settingsPage := web.NewSettingsHandler(users, accounts, dispatcher)
	inboxAPI := api.NewInboxHandler(coordinator, users, dispatcher)
	accountAPI := api.NewAccountHandler(accounts, coordinator, nil)
	userAPI := api.NewUserHandler(store, users, accounts, coordinator)
	mailboxAPI := api.NewMailboxHandler(accounts, nil)
	attachmentAPI := api.NewAttachmentHandler(accounts, nil)
	pushHandler := api.NewPushHandler(hub)
	i18nHandler := &api.I18nHandler{}

	// Public routes
	app.Get("/login", authHandler.ShowLogin)
	app.Post("/login", authHandler.HandleLogin)
	app.Get("/register", authHandler.ShowRegister)
	app.Post("/register", authHandler.HandleRegister)
	app.Get("/logout", authHandler.HandleLogout)

	// Push socket. Authentication happens in-band with an auth frame,
	// so the route sits outside the session middleware.
	app.Get("/push", pushHandler.UpgradeRequired, pushHandler.HandleWebSocket())

	// Protected routes
	protected := app.Group("", api.SessionMiddleware(store, cfg.JWT.Secret))

	protected.Get("/", inboxPage.HandleInbox)
	protected.Get("/inbox", inboxPage.HandleInbox)
	protected.Get("/settings", settingsPage.ShowSettings)
	protected.Post("/settings", settingsPage.HandleUpdate)

	protected.Get("/inbox/cached", inboxAPI.HandleCached)
	protected.Get("/inbox/fetch", inboxAPI.HandleFetch)
	protected.Post("/inbox/sync", inboxAPI.HandleSync)
	protected.Post("/inbox/search", inboxAPI.HandleSearch)
	protected.Get("/inbox/settings", inboxAPI.HandleGetSettings)
	protected.Put("/inbox/settings", inboxAPI.HandleUpdateSettings)

	protected.Get("/events", pushHandler.HandleSSE)

	apiRoutes := protected.Group("/api")
	{
		apiRoutes.Get("/accounts", accountAPI.HandleList)
		apiRoutes.Post("/accounts", accountAPI.HandleCreate)
		apiRoutes.Get("/accounts/:code", accountAPI.HandleGet)
		apiRoutes.Put("/accounts/:code", accountAPI.HandleUpdate)
		apiRoutes.Delete("/accounts/:code", accountAPI.HandleDelete)
		apiRoutes.Post("/accounts/:code/default", accountAPI.HandleSetDefault)

		apiRoutes.Get("/user", userAPI.HandleGet)
		apiRoutes.Put("/user", userAPI.HandleUpdate)
		apiRoutes.Put("/user/password", userAPI.HandlePassword)
		apiRoutes.Delete("/user", userAPI.HandleDelete)

		apiRoutes.Get("/mailboxes", mailboxAPI.HandleList)
		apiRoutes.Get("/attachment/:code/:uid/:index", attachmentAPI.HandleDownload)
		apiRoutes.Get("/attachment/:code/:uid/:index/preview", attachmentAPI.HandlePreview)

		apiRoutes.Get("/i18n/:lang", i18nHandler.HandleTranslations)
	}

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"signaling": hub.Enabled(),
			"time":      time.Now().Format(time.RFC3339),
		})
	})

	// 404 handler for undefined routes
	app.Use(func(c *fiber.Ctx) error {
		localizer, _ := c.Locals("localizer").(*i18n.Localizer)
		if api.WantsJSON(c) {
			return c.Status(404).JSON(fiber.Map{
				"error": utils.T(localizer, "error_404"),
			})
		}
		return c.Status(404).Render("error", fiber.Map{
			"Error": utils.T(localizer, "error_404"),
			"Code":  404,
		})
	})

	// Graceful shutdown: drain the hub first so every tab gets a normal
	// closure, then stop accepting requests.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		utils.Log.Info("Shutting down...")
		hub.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			utils.Log.Error("Server shutdown: %v", err)
		}
	}()

	utils.Log.Info("Starting server on port %d...", cfg.Server.Port)
	if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		utils.Log.Error("Error starting server: %v", err)
	}
}
