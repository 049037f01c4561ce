package handlers

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/edutrack/backend/internal/middleware"
	"github.com/edutrack/backend/internal/models"
	"github.com/edutrack/backend/internal/services"
	"github.com/edutrack/backend/pkg/logger"
	"github.com/edutrack/backend/pkg/utils"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"
)

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	stepUp *services.StepUpService
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
		utils.ConfigureEncryption("test-secret")
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.Course{},
		&models.Lesson{},
		&models.Enrollment{},
		&models.LessonCompletion{},
		&models.MFAFactor{},
		&models.MFAChallenge{},
		&models.ChatMessage{},
		&models.Diploma{},
		&models.AuditLog{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	auditService := services.NewAuditService(db)
	progressService := services.NewProgressService(db, nil, 5*time.Minute)
	stepUpService := services.NewStepUpService(db, "EduTrack Test", 5*time.Minute)
	certificateService := services.NewCertificateService(db, nil, progressService)
	assistantService := services.NewAssistantService()

	authHandler := NewAuthHandler(db, auditService)
	mfaHandler := NewMFAHandler(stepUpService, auditService)
	coursesHandler := NewCoursesHandler(db, stepUpService, progressService, auditService)
	lessonsHandler := NewLessonsHandler(db, stepUpService, progressService, nil, auditService)
	enrollmentsHandler := NewEnrollmentsHandler(db, stepUpService, progressService, certificateService, auditService)
	chatHandler := NewChatHandler(db, assistantService)
	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 50 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS("http://localhost:3000"))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

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

	return &testEnv{app: app, db: db, stepUp: stepUpService}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     "Test User",
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

// giveVerifiedFactor plants a verified TOTP factor so the user passes the
// step-up gate without walking the enrollment handshake.
func giveVerifiedFactor(t *testing.T, db *gorm.DB, user *models.User) *models.MFAFactor {
	t.Helper()

	secret, err := utils.EncryptAESGCM("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("failed encrypting test secret: %v", err)
	}
	now := time.Now().UTC()
	factor := &models.MFAFactor{
		UserID:     user.ID,
		Secret:     secret,
		Status:     models.MFAFactorVerified,
		VerifiedAt: &now,
	}
	if err := db.Create(factor).Error; err != nil {
		t.Fatalf("failed creating verified factor: %v", err)
	}
	return factor
}

func createTestCourse(t *testing.T, db *gorm.DB, tutor *models.User, title string, published bool) *models.Course {
	t.Helper()

	course := &models.Course{
		TutorID:     tutor.ID,
		Title:       title,
		Description: "A course used in tests",
		IsPublished: published,
	}
	if err := db.Create(course).Error; err != nil {
		t.Fatalf("failed creating test course: %v", err)
	}
	return course
}

func createTestLesson(t *testing.T, db *gorm.DB, course *models.Course, title string, sortOrder int) *models.Lesson {
	t.Helper()

	lesson := &models.Lesson{
		CourseID:  course.ID,
		Title:     title,
		BodyMD:    "Lesson body for " + title,
		SortOrder: sortOrder,
	}
	if err := db.Create(lesson).Error; err != nil {
		t.Fatalf("failed creating test lesson: %v", err)
	}
	return lesson
}

func enrollStudent(t *testing.T, db *gorm.DB, student *models.User, course *models.Course) {
	t.Helper()
	enrollment := &models.Enrollment{StudentID: student.ID, CourseID: course.ID}
	if err := db.Create(enrollment).Error; err != nil {
		t.Fatalf("failed creating test enrollment: %v", err)
	}
}

func completeLesson(t *testing.T, db *gorm.DB, student *models.User, lesson *models.Lesson) {
	t.Helper()
	completion := &models.LessonCompletion{StudentID: student.ID, LessonID: lesson.ID}
	if err := db.Create(completion).Error; err != nil {
		t.Fatalf("failed creating test completion: %v", err)
	}
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertDenyReason(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["reason"].(string); got != expected {
		t.Fatalf("expected denial reason %q, got %q", expected, got)
	}
}
