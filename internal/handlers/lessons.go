package handlers

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/edutrack/backend/internal/middleware"
	"github.com/edutrack/backend/internal/models"
	"github.com/edutrack/backend/internal/services"
	"github.com/edutrack/backend/internal/storage"
	"github.com/edutrack/backend/pkg/logger"
	"github.com/edutrack/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LessonsHandler struct {
	DB       *gorm.DB
	StepUp   *services.StepUpService
	Progress *services.ProgressService
	Storage  *storage.MinIOClient
	Audit    *services.AuditService
}

func NewLessonsHandler(db *gorm.DB, stepUp *services.StepUpService, progress *services.ProgressService, store *storage.MinIOClient, audit *services.AuditService) *LessonsHandler {
	return &LessonsHandler{DB: db, StepUp: stepUp, Progress: progress, Storage: store, Audit: audit}
}

type lessonRequest struct {
	Title    string `json:"title"`
	BodyMD   string `json:"bodyMD"`
	VideoURL string `json:"videoURL"`
}

func (h *LessonsHandler) Create(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	courseID, err := parseUUID(c.Params("courseId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid course id")
	}

	var course models.Course
	if err := h.DB.First(&course, "id = ?", courseID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "course not found")
	}
	if user.Role != models.UserRoleTutor || course.TutorID != user.ID {
		return utils.Deny(c, services.ReasonWrongRole, "not the owner of this course")
	}
	if ok, err := requireVerifiedFactor(c, h.StepUp, user); !ok {
		return err
	}

	var req lessonRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return utils.Error(c, fiber.StatusBadRequest, "title is required")
	}

	// New lessons always go to the end of the sequence.
	var maxOrder int
	h.DB.Model(&models.Lesson{}).
		Where("course_id = ?", courseID).
		Select("COALESCE(MAX(sort_order), -1)").
		Scan(&maxOrder)

	lesson := models.Lesson{
		CourseID:  courseID,
		Title:     req.Title,
		BodyMD:    sanitize(req.BodyMD),
		VideoURL:  strings.TrimSpace(req.VideoURL),
		SortOrder: maxOrder + 1,
	}
	if err := h.DB.Create(&lesson).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating lesson")
	}

	return utils.Success(c, fiber.StatusCreated, lesson)
}

// Get serves a single lesson, enforcing the access policy. Existence is
// checked before policy so unknown ids read as 404 rather than leaking
// whether a lesson is locked.
func (h *LessonsHandler) Get(c *fiber.Ctx) error {
	lessonID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid lesson id")
	}

	var lesson models.Lesson
	if err := h.DB.First(&lesson, "id = ?", lessonID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "lesson not found")
	}

	var course models.Course
	if err := h.DB.First(&course, "id = ?", lesson.CourseID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "lesson not found")
	}

	user := middleware.GetCurrentUser(c)

	// An unpublished course is invisible to everyone but its tutor and admins.
	isOwner := user != nil && user.ID == course.TutorID
	isAdmin := user != nil && user.Role == models.UserRoleAdmin
	if !course.IsPublished && !isOwner && !isAdmin {
		return utils.Error(c, fiber.StatusNotFound, "lesson not found")
	}

	decision, err := h.decideAccess(c, user, &course, lessonID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed evaluating access")
	}
	if !decision.Allowed {
		if user != nil {
			logger.WarnWithUser(user.ID.String(), "lesson_access_denied", map[string]interface{}{
				"lesson_id": lessonID.String(),
				"reason":    decision.Reason,
			})
		}
		return utils.Deny(c, decision.Reason, "lesson is locked")
	}

	return utils.Success(c, fiber.StatusOK, lesson)
}

// decideAccess gathers the course ordering and the student's completions
// and delegates the verdict to the pure policy function.
func (h *LessonsHandler) decideAccess(c *fiber.Ctx, user *models.User, course *models.Course, lessonID uuid.UUID) (services.Decision, error) {
	var lessons []models.Lesson
	if err := h.DB.Where("course_id = ?", course.ID).Find(&lessons).Error; err != nil {
		return services.Decision{}, err
	}

	role := models.UserRole("")
	enrolled := false
	completed := map[uuid.UUID]bool{}

	if user != nil {
		role = user.Role
		if user.Role == models.UserRoleStudent {
			var enrollment models.Enrollment
			enrolled = h.DB.First(&enrollment, "student_id = ? AND course_id = ?", user.ID, course.ID).Error == nil
			if enrolled {
				set, err := h.Progress.CompletedSet(c.Context(), user.ID)
				if err != nil {
					return services.Decision{}, err
				}
				completed = set
			}
		}
	}

	return services.CanAccessLesson(role, enrolled, lessonID, lessons, completed), nil
}

func (h *LessonsHandler) Update(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	lesson, _, errResp := h.loadOwnedLesson(c, user)
	if lesson == nil {
		return errResp
	}
	if ok, err := requireVerifiedFactor(c, h.StepUp, user); !ok {
		return err
	}

	var req lessonRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if title := strings.TrimSpace(req.Title); title != "" {
		updates["title"] = title
	}
	if req.BodyMD != "" {
		updates["body_md"] = sanitize(req.BodyMD)
	}
	if v := strings.TrimSpace(req.VideoURL); v != "" {
		updates["video_url"] = v
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "nothing to update")
	}

	if err := h.DB.Model(lesson).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating lesson")
	}
	return utils.Success(c, fiber.StatusOK, lesson)
}

func (h *LessonsHandler) Delete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	lesson, _, errResp := h.loadOwnedLesson(c, user)
	if lesson == nil {
		return errResp
	}
	if ok, err := requireVerifiedFactor(c, h.StepUp, user); !ok {
		return err
	}

	if lesson.MaterialPath != nil && h.Storage != nil {
		if err := h.Storage.Delete(c.Context(), *lesson.MaterialPath); err != nil {
			logger.ErrorWithUser(user.ID.String(), "material_delete_failed", err, map[string]interface{}{
				"lesson_id": lesson.ID.String(),
			})
		}
	}

	if err := h.DB.Delete(lesson).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting lesson")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}

type moveLessonRequest struct {
	Direction string `json:"direction"`
}

// Move swaps the lesson's sort order with its neighbor in the given
// direction. Moving past either end is a no-op.
func (h *LessonsHandler) Move(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	lesson, course, errResp := h.loadOwnedLesson(c, user)
	if lesson == nil {
		return errResp
	}
	if ok, err := requireVerifiedFactor(c, h.StepUp, user); !ok {
		return err
	}

	var req moveLessonRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Direction != "up" && req.Direction != "down" {
		return utils.Error(c, fiber.StatusBadRequest, "direction must be up or down")
	}

	var siblings []models.Lesson
	if err := h.DB.Where("course_id = ?", course.ID).Find(&siblings).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading lessons")
	}
	siblings = services.SortLessons(siblings)

	idx := -1
	for i := range siblings {
		if siblings[i].ID == lesson.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return utils.Error(c, fiber.StatusNotFound, "lesson not found")
	}

	swap := idx - 1
	if req.Direction == "down" {
		swap = idx + 1
	}
	if swap < 0 || swap >= len(siblings) {
		return utils.Success(c, fiber.StatusOK, siblings)
	}

	a, b := siblings[idx], siblings[swap]
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Lesson{}).Where("id = ?", a.ID).Update("sort_order", b.SortOrder).Error; err != nil {
			return err
		}
		return tx.Model(&models.Lesson{}).Where("id = ?", b.ID).Update("sort_order", a.SortOrder).Error
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed reordering lessons")
	}

	siblings[idx].SortOrder, siblings[swap].SortOrder = b.SortOrder, a.SortOrder
	return utils.Success(c, fiber.StatusOK, services.SortLessons(siblings))
}

// UploadMaterial stores a lesson attachment in object storage and records
// its path on the lesson.
func (h *LessonsHandler) UploadMaterial(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	lesson, course, errResp := h.loadOwnedLesson(c, user)
	if lesson == nil {
		return errResp
	}
	if ok, err := requireVerifiedFactor(c, h.StepUp, user); !ok {
		return err
	}
	if h.Storage == nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, "file storage is not configured")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "could not read file")
	}
	defer file.Close()

	objectPath := fmt.Sprintf("materials/%s/%s/%s%s",
		course.ID.String(), lesson.ID.String(), uuid.New().String(), filepath.Ext(fileHeader.Filename))

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := h.Storage.Upload(c.Context(), objectPath, file, fileHeader.Size, contentType); err != nil {
		logger.ErrorWithUser(user.ID.String(), "material_upload_failed", err, map[string]interface{}{
			"lesson_id": lesson.ID.String(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed storing material")
	}

	if err := h.DB.Model(lesson).Update("material_path", objectPath).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed recording material")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"materialPath": objectPath})
}

// MaterialURL hands out a short-lived download link. The link is gated
// by the same access policy as the lesson body.
func (h *LessonsHandler) MaterialURL(c *fiber.Ctx) error {
	lessonID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid lesson id")
	}

	var lesson models.Lesson
	if err := h.DB.First(&lesson, "id = ?", lessonID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "lesson not found")
	}
	if lesson.MaterialPath == nil {
		return utils.Error(c, fiber.StatusNotFound, "lesson has no material")
	}

	var course models.Course
	if err := h.DB.First(&course, "id = ?", lesson.CourseID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "lesson not found")
	}

	user := middleware.GetCurrentUser(c)

	// Unpublished courses are invisible to everyone but their tutor and admins.
	isOwner := user != nil && user.ID == course.TutorID
	isAdmin := user != nil && user.Role == models.UserRoleAdmin
	if !course.IsPublished && !isOwner && !isAdmin {
		return utils.Error(c, fiber.StatusNotFound, "lesson not found")
	}

	decision, err := h.decideAccess(c, user, &course, lessonID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed evaluating access")
	}
	if !decision.Allowed {
		return utils.Deny(c, decision.Reason, "lesson is locked")
	}

	if h.Storage == nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, "file storage is not configured")
	}
	url, err := h.Storage.PresignedGetURL(c.Context(), *lesson.MaterialPath, 10*time.Minute)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed signing download link")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"url": url})
}

// Complete records a lesson completion for the calling student. The row
// is append-only; repeating the call is a no-op.
func (h *LessonsHandler) Complete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if user.Role != models.UserRoleStudent {
		return utils.Deny(c, services.ReasonWrongRole, "only students track completions")
	}

	lessonID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid lesson id")
	}

	var lesson models.Lesson
	if err := h.DB.First(&lesson, "id = ?", lessonID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "lesson not found")
	}

	var course models.Course
	if err := h.DB.First(&course, "id = ?", lesson.CourseID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "lesson not found")
	}
	if !course.IsPublished {
		return utils.Error(c, fiber.StatusNotFound, "lesson not found")
	}

	// Completions belong to enrolled students only. The preview rule lets
	// outsiders read the first lesson but never write progress against it.
	var enrollment models.Enrollment
	if err := h.DB.First(&enrollment, "student_id = ? AND course_id = ?", user.ID, course.ID).Error; err != nil {
		return utils.Deny(c, services.ReasonNotEnrolled, "not enrolled in this course")
	}

	// Completing a lesson requires being able to reach it.
	decision, err := h.decideAccess(c, user, &course, lessonID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed evaluating access")
	}
	if !decision.Allowed {
		return utils.Deny(c, decision.Reason, "lesson is locked")
	}

	var existing models.LessonCompletion
	if h.DB.First(&existing, "student_id = ? AND lesson_id = ?", user.ID, lessonID).Error == nil {
		progress, perr := h.Progress.ForCourse(c.Context(), user.ID, course.ID)
		if perr != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed computing progress")
		}
		return utils.Success(c, fiber.StatusOK, fiber.Map{"progress": progress})
	}

	completion := models.LessonCompletion{StudentID: user.ID, LessonID: lessonID}
	if err := h.DB.Create(&completion).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed recording completion")
	}

	progress, err := h.Progress.ForCourse(c.Context(), user.ID, course.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed computing progress")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "lesson.complete",
		ResourceType: "lesson",
		ResourceID:   &lessonID,
		Details:      map[string]interface{}{"course_id": course.ID.String()},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{"progress": progress})
}

// loadOwnedLesson resolves the :id param to a lesson whose course user
// owns. On failure it writes the response and returns nils.
func (h *LessonsHandler) loadOwnedLesson(c *fiber.Ctx, user *models.User) (*models.Lesson, *models.Course, error) {
	lessonID, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, nil, utils.Error(c, fiber.StatusBadRequest, "invalid lesson id")
	}

	var lesson models.Lesson
	if err := h.DB.First(&lesson, "id = ?", lessonID).Error; err != nil {
		return nil, nil, utils.Error(c, fiber.StatusNotFound, "lesson not found")
	}

	var course models.Course
	if err := h.DB.First(&course, "id = ?", lesson.CourseID).Error; err != nil {
		return nil, nil, utils.Error(c, fiber.StatusNotFound, "lesson not found")
	}

	if user.Role != models.UserRoleTutor || course.TutorID != user.ID {
		return nil, nil, utils.Deny(c, services.ReasonWrongRole, "not the owner of this course")
	}
	return &lesson, &course, nil
}
