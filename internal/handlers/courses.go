package handlers

import (
	"strings"

	"github.com/edutrack/backend/internal/middleware"
	"github.com/edutrack/backend/internal/models"
	"github.com/edutrack/backend/internal/services"
	"github.com/edutrack/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CoursesHandler struct {
	DB       *gorm.DB
	StepUp   *services.StepUpService
	Progress *services.ProgressService
	Audit    *services.AuditService
}

func NewCoursesHandler(db *gorm.DB, stepUp *services.StepUpService, progress *services.ProgressService, audit *services.AuditService) *CoursesHandler {
	return &CoursesHandler{DB: db, StepUp: stepUp, Progress: progress, Audit: audit}
}

type createCourseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	VideoURL    string `json:"videoURL"`
}

func (h *CoursesHandler) Create(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if user.Role != models.UserRoleTutor {
		return utils.Deny(c, services.ReasonWrongRole, "only tutors can create courses")
	}
	if ok, err := requireVerifiedFactor(c, h.StepUp, user); !ok {
		return err
	}

	var req createCourseRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return utils.Error(c, fiber.StatusBadRequest, "title is required")
	}

	course := models.Course{
		TutorID:     user.ID,
		Title:       req.Title,
		Description: strings.TrimSpace(req.Description),
		VideoURL:    strings.TrimSpace(req.VideoURL),
	}
	if err := h.DB.Create(&course).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating course")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "course.create",
		ResourceType: "course",
		ResourceID:   &course.ID,
		Details:      map[string]interface{}{"title": course.Title},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, course)
}

// List returns published courses for everyone; tutors additionally see
// their own unpublished drafts and admins see everything.
func (h *CoursesHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	query := h.DB.Order("created_at DESC")
	switch {
	case user == nil:
		query = query.Where("is_published = ?", true)
	case user.Role == models.UserRoleAdmin:
		// no filter
	case user.Role == models.UserRoleTutor:
		query = query.Where("is_published = ? OR tutor_id = ?", true, user.ID)
	default:
		query = query.Where("is_published = ?", true)
	}

	var courses []models.Course
	if err := query.Find(&courses).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing courses")
	}
	return utils.Success(c, fiber.StatusOK, courses)
}

func (h *CoursesHandler) Get(c *fiber.Ctx) error {
	courseID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid course id")
	}

	var course models.Course
	if err := h.DB.First(&course, "id = ?", courseID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "course not found")
	}

	user := middleware.GetCurrentUser(c)
	isOwner := user != nil && user.ID == course.TutorID
	isAdmin := user != nil && user.Role == models.UserRoleAdmin
	if !course.IsPublished && !isOwner && !isAdmin {
		return utils.Error(c, fiber.StatusNotFound, "course not found")
	}

	var lessons []models.Lesson
	if err := h.DB.Where("course_id = ?", courseID).Find(&lessons).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading lessons")
	}
	lessons = services.SortLessons(lessons)

	response := fiber.Map{"course": course, "lessons": lessons}

	if user != nil && user.Role == models.UserRoleStudent {
		var enrollment models.Enrollment
		enrolled := h.DB.First(&enrollment, "student_id = ? AND course_id = ?", user.ID, courseID).Error == nil
		response["enrolled"] = enrolled

		if enrolled {
			progress, err := h.Progress.ForCourse(c.Context(), user.ID, courseID)
			if err != nil {
				return utils.Error(c, fiber.StatusInternalServerError, "failed computing progress")
			}
			response["progress"] = progress
		}
	}

	return utils.Success(c, fiber.StatusOK, response)
}

type updateCourseRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	VideoURL    *string `json:"videoURL"`
	IsCompleted *bool   `json:"isCompleted"`
}

func (h *CoursesHandler) Update(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	course, errResp := h.loadOwnedCourse(c, user)
	if course == nil {
		return errResp
	}
	if ok, err := requireVerifiedFactor(c, h.StepUp, user); !ok {
		return err
	}

	var req updateCourseRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return utils.Error(c, fiber.StatusBadRequest, "title cannot be empty")
		}
		updates["title"] = title
	}
	if req.Description != nil {
		updates["description"] = strings.TrimSpace(*req.Description)
	}
	if req.VideoURL != nil {
		updates["video_url"] = strings.TrimSpace(*req.VideoURL)
	}
	if req.IsCompleted != nil {
		updates["is_completed"] = *req.IsCompleted
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "nothing to update")
	}

	if err := h.DB.Model(course).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating course")
	}

	return utils.Success(c, fiber.StatusOK, course)
}

// TogglePublish flips is_published. Owning tutors pass through the step-up
// gate; admins toggle unconditionally. That asymmetry is the configured
// gate policy, not an accident.
func (h *CoursesHandler) TogglePublish(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	courseID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid course id")
	}

	var course models.Course
	if err := h.DB.First(&course, "id = ?", courseID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "course not found")
	}

	isAdmin := user.Role == models.UserRoleAdmin
	isOwner := user.Role == models.UserRoleTutor && course.TutorID == user.ID
	if !isAdmin && !isOwner {
		return utils.Deny(c, services.ReasonWrongRole, "not allowed to publish this course")
	}

	if !isAdmin {
		if ok, err := requireVerifiedFactor(c, h.StepUp, user); !ok {
			return err
		}
	}

	if err := h.DB.Model(&course).Update("is_published", !course.IsPublished).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed toggling publish state")
	}
	course.IsPublished = !course.IsPublished

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "course.publish_toggle",
		ResourceType: "course",
		ResourceID:   &course.ID,
		Details:      map[string]interface{}{"is_published": course.IsPublished},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, course)
}

// loadOwnedCourse resolves the :id param to a course owned by user. On
// failure it writes the response and returns nil.
func (h *CoursesHandler) loadOwnedCourse(c *fiber.Ctx, user *models.User) (*models.Course, error) {
	courseID, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid course id")
	}

	var course models.Course
	if err := h.DB.First(&course, "id = ?", courseID).Error; err != nil {
		return nil, utils.Error(c, fiber.StatusNotFound, "course not found")
	}

	if user.Role != models.UserRoleTutor || course.TutorID != user.ID {
		return nil, utils.Deny(c, services.ReasonWrongRole, "not the owner of this course")
	}
	return &course, nil
}
