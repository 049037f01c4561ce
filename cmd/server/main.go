package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edutrack/backend/internal/config"
	"github.com/edutrack/backend/internal/database"
	"github.com/edutrack/backend/internal/handlers"
	"github.com/edutrack/backend/internal/middleware"
	"github.com/edutrack/backend/internal/services"
	"github.com/edutrack/backend/internal/storage"
	"github.com/edutrack/backend/pkg/logger"
	"github.com/edutrack/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)
	utils.ConfigureEncryption(cfg.JWT.Secret)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	storageClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("minio initialization failed: %v", err)
	}
	if err := storageClient.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("failed ensuring minio bucket: %v", err)
	}

	// Redis is optional. Without it progress listings fall back to
	// recomputing from completion rows on every request.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis_unavailable", map[string]interface{}{"error": err.Error()})
			redisClient = nil
		}
	}

	auditService := services.NewAuditService(db)
	progressService := services.NewProgressService(db, redisClient, cfg.Redis.ProgressTTL)
	stepUpService := services.NewStepUpService(db, cfg.MFA.Issuer, cfg.MFA.ChallengeExpiry)
	certificateService := services.NewCertificateService(db, storageClient, progressService)
	assistantService := services.NewAssistantService()

	authHandler := handlers.NewAuthHandler(db, auditService)
	mfaHandler := handlers.NewMFAHandler(stepUpService, auditService)
	coursesHandler := handlers.NewCoursesHandler(db, stepUpService, progressService, auditService)
	lessonsHandler := handlers.NewLessonsHandler(db, stepUpService, progressService, storageClient, auditService)
	enrollmentsHandler := handlers.NewEnrollmentsHandler(db, stepUpService, progressService, certificateService, auditService)
	chatHandler := handlers.NewChatHandler(db, assistantService)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 50 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Put("/password", authMiddleware.RequireAuth, authHandler.ChangePassword)

	mfaRoutes := api.Group("/auth/mfa", authMiddleware.RequireAuth)
	mfaRoutes.Get("/status", mfaHandler.Status)
	mfaRoutes.Post("/totp/setup", mfaHandler.TOTPSetup)
	mfaRoutes.Post("/totp/challenge", mfaHandler.TOTPChallenge)
	mfaRoutes.Post("/totp/verify", mfaHandler.TOTPVerify)
	mfaRoutes.Post("/totp/cancel", mfaHandler.TOTPCancel)
	mfaRoutes.Post("/totp/disable", mfaHandler.TOTPDisable)

	courseRoutes := api.Group("/courses")
	courseRoutes.Get("/", authMiddleware.OptionalAuth, coursesHandler.List)
	courseRoutes.Post("/", authMiddleware.RequireAuth, coursesHandler.Create)
	courseRoutes.Get("/:id", authMiddleware.OptionalAuth, coursesHandler.Get)
	courseRoutes.Put("/:id", authMiddleware.RequireAuth, coursesHandler.Update)
	courseRoutes.Post("/:id/publish", authMiddleware.RequireAuth, coursesHandler.TogglePublish)
	courseRoutes.Post("/:id/enroll", authMiddleware.RequireAuth, enrollmentsHandler.Enroll)
	courseRoutes.Get("/:id/progress", authMiddleware.RequireAuth, enrollmentsHandler.CourseProgress)
	courseRoutes.Post("/:id/certificate", authMiddleware.RequireAuth, enrollmentsHandler.IssueCertificate)
	courseRoutes.Post("/:courseId/lessons", authMiddleware.RequireAuth, lessonsHandler.Create)
	courseRoutes.Get("/:id/chat", authMiddleware.RequireAuth, chatHandler.List)
	courseRoutes.Post("/:id/chat", authMiddleware.RequireAuth, chatHandler.Post)
	courseRoutes.Post("/:id/assistant", authMiddleware.RequireAuth, chatHandler.AskAssistant)

	lessonRoutes := api.Group("/lessons")
	lessonRoutes.Get("/:id", authMiddleware.OptionalAuth, lessonsHandler.Get)
	lessonRoutes.Put("/:id", authMiddleware.RequireAuth, lessonsHandler.Update)
	lessonRoutes.Delete("/:id", authMiddleware.RequireAuth, lessonsHandler.Delete)
	lessonRoutes.Post("/:id/move", authMiddleware.RequireAuth, lessonsHandler.Move)
	lessonRoutes.Post("/:id/material", authMiddleware.RequireAuth, lessonsHandler.UploadMaterial)
	lessonRoutes.Get("/:id/material-url", authMiddleware.OptionalAuth, lessonsHandler.MaterialURL)
	lessonRoutes.Post("/:id/complete", authMiddleware.RequireAuth, lessonsHandler.Complete)

	api.Get("/enrollments", authMiddleware.RequireAuth, enrollmentsHandler.MyEnrollments)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
