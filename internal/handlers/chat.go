package handlers

import (
	"strings"

	"github.com/edutrack/backend/internal/middleware"
	"github.com/edutrack/backend/internal/models"
	"github.com/edutrack/backend/internal/services"
	"github.com/edutrack/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChatHandler struct {
	DB        *gorm.DB
	Assistant *services.AssistantService
}

func NewChatHandler(db *gorm.DB, assistant *services.AssistantService) *ChatHandler {
	return &ChatHandler{DB: db, Assistant: assistant}
}

// requireParticipant checks that user may read or write the course chat:
// the owning tutor, an admin, or an enrolled student. On false the denial
// has already been written and the handler returns the accompanying error.
func (h *ChatHandler) requireParticipant(c *fiber.Ctx, user *models.User, course *models.Course) (bool, error) {
	switch {
	case user.Role == models.UserRoleAdmin:
		return true, nil
	case user.Role == models.UserRoleTutor && course.TutorID == user.ID:
		return true, nil
	case user.Role == models.UserRoleStudent:
		var enrollment models.Enrollment
		if h.DB.First(&enrollment, "student_id = ? AND course_id = ?", user.ID, course.ID).Error == nil {
			return true, nil
		}
		return false, utils.Deny(c, services.ReasonNotEnrolled, "not enrolled in this course")
	}
	return false, utils.Deny(c, services.ReasonWrongRole, "no access to this chat")
}

func (h *ChatHandler) loadCourse(c *fiber.Ctx) (*models.Course, error) {
	courseID, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid course id")
	}
	var course models.Course
	if err := h.DB.First(&course, "id = ?", courseID).Error; err != nil {
		return nil, utils.Error(c, fiber.StatusNotFound, "course not found")
	}
	return &course, nil
}

func (h *ChatHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	course, errResp := h.loadCourse(c)
	if course == nil {
		return errResp
	}
	if ok, err := h.requireParticipant(c, user, course); !ok {
		return err
	}

	var messages []models.ChatMessage
	if err := h.DB.Where("course_id = ?", course.ID).Order("created_at ASC").Limit(200).Find(&messages).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing messages")
	}
	return utils.Success(c, fiber.StatusOK, messages)
}

type postMessageRequest struct {
	Body string `json:"body"`
}

func (h *ChatHandler) Post(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	course, errResp := h.loadCourse(c)
	if course == nil {
		return errResp
	}
	if ok, err := h.requireParticipant(c, user, course); !ok {
		return err
	}

	var req postMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	body := strings.TrimSpace(sanitize(req.Body))
	if body == "" {
		return utils.Error(c, fiber.StatusBadRequest, "message body is required")
	}

	userID := user.ID
	message := models.ChatMessage{CourseID: course.ID, UserID: &userID, Body: body}
	if err := h.DB.Create(&message).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed posting message")
	}
	return utils.Success(c, fiber.StatusCreated, message)
}

type askAssistantRequest struct {
	LessonID *uuid.UUID `json:"lessonID"`
	Message  string     `json:"message"`
}

// AskAssistant answers a study question about the course. Both the question
// and the reply are persisted to the chat; assistant rows carry a nil user.
func (h *ChatHandler) AskAssistant(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	course, errResp := h.loadCourse(c)
	if course == nil {
		return errResp
	}
	if ok, err := h.requireParticipant(c, user, course); !ok {
		return err
	}

	var req askAssistantRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	message := strings.TrimSpace(sanitize(req.Message))
	if message == "" {
		return utils.Error(c, fiber.StatusBadRequest, "message is required")
	}

	assistantReq := services.AssistantRequest{
		CourseTitle: course.Title,
		Message:     message,
	}
	if req.LessonID != nil {
		var lesson models.Lesson
		if err := h.DB.First(&lesson, "id = ? AND course_id = ?", *req.LessonID, course.ID).Error; err == nil {
			assistantReq.LessonTitle = lesson.Title
			assistantReq.LessonBody = lesson.BodyMD
		}
	}

	reply := h.Assistant.Respond(assistantReq)

	userID := user.ID
	question := models.ChatMessage{CourseID: course.ID, UserID: &userID, Body: message}
	answer := models.ChatMessage{CourseID: course.ID, UserID: nil, Body: reply}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&question).Error; err != nil {
			return err
		}
		return tx.Create(&answer).Error
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed recording conversation")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"question": question,
		"answer":   answer,
	})
}
