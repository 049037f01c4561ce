package handlers

import (
	"errors"

	"github.com/edutrack/backend/internal/middleware"
	"github.com/edutrack/backend/internal/models"
	"github.com/edutrack/backend/internal/services"
	"github.com/edutrack/backend/pkg/logger"
	"github.com/edutrack/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type EnrollmentsHandler struct {
	DB          *gorm.DB
	StepUp      *services.StepUpService
	Progress    *services.ProgressService
	Certificate *services.CertificateService
	Audit       *services.AuditService
}

func NewEnrollmentsHandler(db *gorm.DB, stepUp *services.StepUpService, progress *services.ProgressService, cert *services.CertificateService, audit *services.AuditService) *EnrollmentsHandler {
	return &EnrollmentsHandler{DB: db, StepUp: stepUp, Progress: progress, Certificate: cert, Audit: audit}
}

// Enroll joins the calling student to a course. Enrollment is the gated
// action for students: it requires a verified second factor.
func (h *EnrollmentsHandler) Enroll(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if user.Role != models.UserRoleStudent {
		return utils.Deny(c, services.ReasonWrongRole, "only students enroll in courses")
	}

	verified, err := h.StepUp.VerifiedFactor(c.Context(), user)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "stepup_status_unavailable", err, nil)
		return utils.Deny(c, services.ReasonMFARequired, "could not confirm two-factor status")
	}
	if !h.StepUp.IsPrivilegedActionAllowed(user.Role, verified != nil) {
		return utils.Deny(c, services.ReasonMFARequired, "activate two-factor authentication to enroll")
	}

	courseID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid course id")
	}

	var course models.Course
	if err := h.DB.First(&course, "id = ?", courseID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, "course not found")
	}
	if !course.IsPublished {
		return utils.Error(c, fiber.StatusNotFound, "course not found")
	}

	var existing models.Enrollment
	if h.DB.First(&existing, "student_id = ? AND course_id = ?", user.ID, courseID).Error == nil {
		return utils.Success(c, fiber.StatusOK, existing)
	}

	enrollment := models.Enrollment{StudentID: user.ID, CourseID: courseID}
	if err := h.DB.Create(&enrollment).Error; err != nil {
		// A concurrent enroll can lose the race to the unique index.
		if h.DB.First(&existing, "student_id = ? AND course_id = ?", user.ID, courseID).Error == nil {
			return utils.Success(c, fiber.StatusOK, existing)
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed enrolling")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "course.enroll",
		ResourceType: "course",
		ResourceID:   &courseID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	logger.InfoWithUser(user.ID.String(), "course_enrolled", map[string]interface{}{
		"course_id": courseID.String(),
	})
	return utils.Success(c, fiber.StatusCreated, enrollment)
}

// MyEnrollments lists the calling student's courses with cached progress
// counters. Listing tolerates a stale counter; per-course views recompute.
func (h *EnrollmentsHandler) MyEnrollments(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var enrollments []models.Enrollment
	if err := h.DB.Where("student_id = ?", user.ID).Order("created_at DESC").Find(&enrollments).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing enrollments")
	}

	type enrolledCourse struct {
		Course   models.Course     `json:"course"`
		Progress services.Progress `json:"progress"`
	}

	out := make([]enrolledCourse, 0, len(enrollments))
	for _, e := range enrollments {
		var course models.Course
		if err := h.DB.First(&course, "id = ?", e.CourseID).Error; err != nil {
			continue
		}
		progress, err := h.Progress.CachedForCourse(c.Context(), user.ID, e.CourseID)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed computing progress")
		}
		out = append(out, enrolledCourse{Course: course, Progress: progress})
	}

	return utils.Success(c, fiber.StatusOK, out)
}

// CourseProgress recomputes the calling student's progress for one course.
func (h *EnrollmentsHandler) CourseProgress(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	courseID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid course id")
	}

	var enrollment models.Enrollment
	if h.DB.First(&enrollment, "student_id = ? AND course_id = ?", user.ID, courseID).Error != nil {
		return utils.Deny(c, services.ReasonNotEnrolled, "not enrolled in this course")
	}

	progress, err := h.Progress.ForCourse(c.Context(), user.ID, courseID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed computing progress")
	}
	return utils.Success(c, fiber.StatusOK, progress)
}

// IssueCertificate mints (or re-serves) the diploma for a finished course.
// Eligibility is recomputed server side from completion rows; the client's
// idea of its own progress carries no weight here.
func (h *EnrollmentsHandler) IssueCertificate(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if user.Role != models.UserRoleStudent {
		return utils.Deny(c, services.ReasonWrongRole, "only students earn certificates")
	}

	courseID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid course id")
	}

	var enrollment models.Enrollment
	if h.DB.First(&enrollment, "student_id = ? AND course_id = ?", user.ID, courseID).Error != nil {
		return utils.Deny(c, services.ReasonNotEnrolled, "not enrolled in this course")
	}

	diploma, downloadURL, err := h.Certificate.Issue(c.Context(), user, courseID)
	if err != nil {
		if errors.Is(err, services.ErrCourseNotCompleted) {
			return utils.Error(c, fiber.StatusConflict, "course is not completed yet")
		}
		logger.ErrorWithUser(user.ID.String(), "certificate_issue_failed", err, map[string]interface{}{
			"course_id": courseID.String(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed issuing certificate")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "certificate.issue",
		ResourceType: "course",
		ResourceID:   &courseID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"diploma":     diploma,
		"downloadURL": downloadURL,
	})
}
