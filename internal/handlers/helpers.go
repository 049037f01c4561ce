package handlers

import (
	"strings"

	"github.com/edutrack/backend/internal/models"
	"github.com/edutrack/backend/internal/services"
	"github.com/edutrack/backend/pkg/logger"
	"github.com/edutrack/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// requireVerifiedFactor runs the step-up gate for the current user. When it
// returns false the denial has already been written and the handler must
// return the accompanying error. A factor status that cannot be loaded
// fails closed.
func requireVerifiedFactor(c *fiber.Ctx, stepUp *services.StepUpService, user *models.User) (bool, error) {
	verified, err := stepUp.VerifiedFactor(c.Context(), user)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "stepup_status_unavailable", err, nil)
		return false, utils.Deny(c, services.ReasonMFARequired, "could not confirm two-factor status")
	}
	if !stepUp.IsPrivilegedActionAllowed(user.Role, verified != nil) {
		return false, utils.Deny(c, services.ReasonMFARequired, "activate two-factor authentication to continue")
	}
	return true, nil
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestID").(string); ok {
		return id
	}
	return ""
}

// sanitizePolicy strips markup from user-authored content (lesson bodies,
// chat messages) before it is stored.
var sanitizePolicy = bluemonday.UGCPolicy()

func sanitize(value string) string {
	return strings.TrimSpace(sanitizePolicy.Sanitize(value))
}
