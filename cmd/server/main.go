// Package main is the entry point for the admin backend. It wires the
// database pool, the domain services, the PC-facing pull protocol and the
// API-key-scoped admin surface into one Fiber application.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/config"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/handlers"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/middleware"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/security"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	if err := database.RunMigrations(cfg.MigrationsURL, cfg.DatabaseURL); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	if err := database.Connect(&database.Config{URL: cfg.DatabaseURL, MaxConns: 25, MinConns: 5}); err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()

	securityConfig := security.DefaultSecurityConfig()
	logger := security.NewLogger()

	sm := middleware.NewSecurityMiddleware(logger, securityConfig, nil)

	var mailer services.Mailer
	if cfg.SMTP.Addr != "" {
		mailer = &services.SMTPMailer{Addr: cfg.SMTP.Addr, From: cfg.SMTP.From}
	} else {
		logger.Warn("no SMTP relay configured, alert mails go to the log")
		mailer = &services.LogMailer{Logger: logger}
	}

	validator := services.NewHTTPCredentialValidator(cfg.Citizen.ValidatorURL, cfg.Citizen.Timeout)
	var booking services.BookingClient
	if cfg.Citizen.BookingURL != "" {
		booking = services.NewHTTPBookingClient(cfg.Citizen.BookingURL, cfg.Citizen.Timeout)
	}

	dispatch := services.NewDispatchService(logger)
	events := services.NewSecurityService(mailer, logger)
	citizens := services.NewCitizenService(validator, booking, logger)
	keys := services.NewAPIKeyService(securityConfig, logger)
	scripts := services.NewScriptService()
	policy := services.NewPolicyService(logger)
	jobs := services.NewJobAdminService()

	rpc := handlers.NewRPCHandler(dispatch, events, citizens, sm.Validation())
	admin := handlers.NewAdminHandler(scripts, policy, jobs, events, keys,
		sm.Validation(), cfg.EventRetention(), cfg.LoginLogRetention())

	app := fiber.New(fiber.Config{
		AppName:               "os2borgerpc-admin",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(sm.RequestLogger())
	app.Use(sm.SecureHeaders())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := database.DB.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// PC-facing pull protocol, throttled per PC uid.
	system := app.Group("/api/system", sm.PollRateLimit(bodyPCUID))
	system.Post("/register_new_computer_v2", rpc.RegisterNewComputer)
	system.Post("/send_status_info_v2", rpc.SendStatusInfo)
	system.Post("/get_instructions", rpc.GetInstructions)
	system.Post("/push_config_keys", rpc.PushConfigKeys)
	system.Post("/push_security_events", rpc.PushSecurityEvents)

	citizen := app.Group("/api/citizen")
	citizen.Post("/citizen_login", rpc.CitizenLogin)
	citizen.Post("/general_citizen_login", rpc.GeneralCitizenLogin)
	citizen.Post("/sms_login", rpc.SMSLogin)
	citizen.Post("/sms_login_finalize", rpc.SMSLoginFinalize)
	citizen.Post("/citizen_logout", rpc.CitizenLogout)
	citizen.Post("/sms_logout", rpc.CitizenLogout)
	citizen.Post("/general_citizen_logout", rpc.CitizenLogout)

	// Admin surface, scoped to the API key's site.
	api := app.Group("/api/admin", sm.InputValidation(), middleware.APIKeyAuth(keys, sm))
	api.Get("/pcs", admin.ListPCs)
	api.Get("/pcs/:id", admin.GetPC)
	api.Get("/security_events", admin.ListSecurityEvents)
	api.Get("/security_events/:id", admin.GetSecurityEvent)
	api.Get("/configuration", admin.GetSiteConfiguration)
	api.Get("/jobs", admin.ListJobs)
	api.Post("/jobs/:id/resolve", admin.ResolveJob)
	api.Post("/jobs/:id/restart", admin.RestartJob)
	api.Post("/scripts/run", admin.RunScript)
	api.Get("/groups", admin.ListGroups)
	api.Post("/groups", admin.CreateGroup)
	api.Delete("/groups/:id", admin.DeleteGroup)
	api.Put("/groups/:id/members", admin.UpdateGroupMembers)
	api.Post("/groups/:id/policy", admin.AddPolicyScript)
	api.Delete("/groups/:id/policy/:slot", admin.RemovePolicyScript)
	api.Put("/groups/:id/wake_plan", admin.SetGroupWakePlan)
	api.Post("/wake_plans", admin.CreateWakePlan)
	api.Put("/wake_plans/:id/schedule", admin.UpdateWakeSchedule)
	api.Put("/wake_plans/:id/enabled", admin.SetWakePlanEnabled)
	api.Post("/wake_plans/:id/change_events", admin.AttachChangeEvents)
	api.Post("/maintenance/offline_sweep", admin.TriggerOfflineSweep)
	api.Post("/maintenance/retention_cleanup", admin.TriggerRetentionCleanup)
	api.Post("/api_keys", admin.CreateAPIKey)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down")
		if err := app.Shutdown(); err != nil {
			logger.Error("shutdown failed", err)
		}
	}()

	logger.Infof("listening on %s", cfg.Listen)
	if err := app.Listen(cfg.Listen); err != nil {
		logger.Critical("server stopped", err)
		os.Exit(1)
	}
}

// bodyPCUID pulls the pc uid out of the request body for rate limiting.
// Returns empty when the body carries none, which falls back to the IP.
func bodyPCUID(c *fiber.Ctx) string {
	var body struct {
		PCUID string `json:"pc_uid"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return ""
	}
	return body.PCUID
}
