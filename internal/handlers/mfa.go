package handlers

import (
	"errors"

	"github.com/edutrack/backend/internal/middleware"
	"github.com/edutrack/backend/internal/services"
	"github.com/edutrack/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MFAHandler struct {
	StepUp *services.StepUpService
	Audit  *services.AuditService
}

func NewMFAHandler(stepUp *services.StepUpService, audit *services.AuditService) *MFAHandler {
	return &MFAHandler{StepUp: stepUp, Audit: audit}
}

// Status reconciles the mirror columns against the factor table and reports
// the authoritative state.
func (h *MFAHandler) Status(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	verified, err := h.StepUp.VerifiedFactor(c.Context(), user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading factor status")
	}

	factors, err := h.StepUp.ListFactors(c.Context(), user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing factors")
	}

	response := fiber.Map{
		"mfaEnabled": verified != nil,
		"factors":    factors,
	}
	if verified != nil {
		response["factorId"] = verified.ID
		response["verifiedAt"] = verified.VerifiedAt
	}
	return utils.Success(c, fiber.StatusOK, response)
}

func (h *MFAHandler) TOTPSetup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	material, err := h.StepUp.BeginEnrollment(c.Context(), user)
	if err != nil {
		if errors.Is(err, services.ErrFactorAlreadyVerified) {
			return utils.Error(c, fiber.StatusConflict, "TOTP is already enabled")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed starting TOTP setup")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "mfa.totp_setup_started",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, material)
}

type challengeRequest struct {
	FactorID string `json:"factorId"`
}

func (h *MFAHandler) TOTPChallenge(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req challengeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	factorID, err := parseUUID(req.FactorID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid factorId")
	}

	challenge, err := h.StepUp.Challenge(c.Context(), user, factorID)
	if err != nil {
		if errors.Is(err, services.ErrFactorNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "factor not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating challenge")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"challengeId": challenge.ID,
		"expiresAt":   challenge.ExpiresAt,
	})
}

type verifyRequest struct {
	FactorID    string `json:"factorId"`
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

func (h *MFAHandler) TOTPVerify(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	req, factorID, challengeID, err := parseVerifyRequest(c)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.StepUp.VerifyEnrollment(c.Context(), user, factorID, challengeID, req.Code); err != nil {
		return h.verifyError(c, err)
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "mfa.totp_enabled",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"mfaEnabled": true})
}

type cancelRequest struct {
	FactorID string `json:"factorId"`
}

func (h *MFAHandler) TOTPCancel(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req cancelRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	factorID, err := parseUUID(req.FactorID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid factorId")
	}

	if err := h.StepUp.CancelEnrollment(c.Context(), user, factorID); err != nil {
		if errors.Is(err, services.ErrFactorAlreadyVerified) {
			return utils.Error(c, fiber.StatusConflict, "factor is already verified")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed cancelling setup")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "setup cancelled"})
}

func (h *MFAHandler) TOTPDisable(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	req, factorID, challengeID, err := parseVerifyRequest(c)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.StepUp.RemoveFactor(c.Context(), user, factorID, challengeID, req.Code); err != nil {
		return h.verifyError(c, err)
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "mfa.totp_disabled",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"mfaEnabled": false})
}

func parseVerifyRequest(c *fiber.Ctx) (*verifyRequest, uuid.UUID, uuid.UUID, error) {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, uuid.Nil, uuid.Nil, errors.New("invalid request body")
	}

	factorID, err := parseUUID(req.FactorID)
	if err != nil {
		return nil, uuid.Nil, uuid.Nil, errors.New("invalid factorId")
	}
	challengeID, err := parseUUID(req.ChallengeID)
	if err != nil {
		return nil, uuid.Nil, uuid.Nil, errors.New("invalid challengeId")
	}
	return &req, factorID, challengeID, nil
}

func (h *MFAHandler) verifyError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrCodeFormat):
		return utils.Error(c, fiber.StatusBadRequest, "code must be exactly 6 digits")
	case errors.Is(err, services.ErrInvalidCode), errors.Is(err, services.ErrChallengeRequired):
		return utils.Error(c, fiber.StatusBadRequest, "invalid or expired verification code")
	case errors.Is(err, services.ErrFactorNotFound):
		return utils.Error(c, fiber.StatusNotFound, "factor not found")
	case errors.Is(err, services.ErrFactorAlreadyVerified):
		return utils.Error(c, fiber.StatusConflict, "TOTP is already enabled")
	case errors.Is(err, gorm.ErrRecordNotFound):
		return utils.Error(c, fiber.StatusNotFound, "not found")
	default:
		return utils.Error(c, fiber.StatusInternalServerError, "verification failed")
	}
}
