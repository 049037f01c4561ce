package services

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/edutrack/backend/internal/models"
	"github.com/edutrack/backend/pkg/logger"
	"github.com/edutrack/backend/pkg/utils"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

var (
	// ErrFactorAlreadyVerified short-circuits enrollment when the user
	// already holds a verified factor.
	ErrFactorAlreadyVerified = errors.New("a verified factor already exists")

	// ErrInvalidCode covers every recoverable handshake failure: wrong
	// code, expired challenge, mismatched handle. The user may retry.
	ErrInvalidCode = errors.New("invalid or expired verification code")

	// ErrCodeFormat rejects codes that are not exactly six digits before
	// any challenge lookup happens.
	ErrCodeFormat = errors.New("code must be exactly 6 digits")

	ErrFactorNotFound    = errors.New("factor not found")
	ErrChallengeRequired = errors.New("a fresh challenge is required")
)

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

// GatePolicy parameterizes which roles must hold a verified second factor
// before privileged actions. Admin exemption is deliberate: admins sit in a
// higher trust tier and their publish/hide toggle is unconditional.
type GatePolicy struct {
	AdminExempt bool
}

// StepUpService owns the TOTP factor lifecycle (enroll, challenge, verify,
// cancel, remove) and the privileged-action gate that depends on it.
type StepUpService struct {
	DB              *gorm.DB
	Issuer          string
	ChallengeExpiry time.Duration
	Policy          GatePolicy
}

func NewStepUpService(db *gorm.DB, issuer string, challengeExpiry time.Duration) *StepUpService {
	return &StepUpService{
		DB:              db,
		Issuer:          issuer,
		ChallengeExpiry: challengeExpiry,
		Policy:          GatePolicy{AdminExempt: true},
	}
}

// IsPrivilegedActionAllowed is the gate contract: student enrollment and
// tutor course mutations require a verified factor; admins are exempt under
// the configured policy.
func (s *StepUpService) IsPrivilegedActionAllowed(role models.UserRole, hasVerifiedFactor bool) bool {
	if role == models.UserRoleAdmin && s.Policy.AdminExempt {
		return true
	}
	return hasVerifiedFactor
}

// VerifiedFactor returns the user's verified factor, if any, and reconciles
// the mirror columns on the user row against it. The factor table is
// authoritative; when the mirror disagrees, the mirror is corrected. The
// mirror is never consulted to answer the question.
func (s *StepUpService) VerifiedFactor(ctx context.Context, user *models.User) (*models.MFAFactor, error) {
	var factor models.MFAFactor
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND status = ?", user.ID, models.MFAFactorVerified).
		Order("verified_at DESC").
		First(&factor).Error

	switch {
	case err == nil:
		if !user.MFAEnabled || user.MFAFactorID == nil || *user.MFAFactorID != factor.ID {
			s.reconcileMirror(ctx, user, true, &factor.ID)
		}
		return &factor, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if user.MFAEnabled || user.MFAFactorID != nil {
			s.reconcileMirror(ctx, user, false, nil)
		}
		return nil, nil
	default:
		return nil, err
	}
}

func (s *StepUpService) reconcileMirror(ctx context.Context, user *models.User, enabled bool, factorID *uuid.UUID) {
	updates := map[string]interface{}{
		"mfa_enabled":   enabled,
		"mfa_factor_id": factorID,
	}
	if err := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		logger.ErrorWithUser(user.ID.String(), "mfa_mirror_reconcile_failed", err, nil)
		return
	}
	user.MFAEnabled = enabled
	user.MFAFactorID = factorID
	logger.InfoWithUser(user.ID.String(), "mfa_mirror_reconciled", map[string]interface{}{
		"mfa_enabled": enabled,
	})
}

// EnrollmentMaterial is what the client needs to finish setup: the factor
// handle, the shared secret, and the otpauth:// URI to render as a QR code.
type EnrollmentMaterial struct {
	FactorID uuid.UUID `json:"factorId"`
	Secret   string    `json:"secret"`
	QRUri    string    `json:"qrUri"`
}

// BeginEnrollment starts the NONE -> PENDING_VERIFICATION transition. An
// existing verified factor short-circuits; stale unverified factors from
// abandoned attempts are purged first so at most one pending factor exists.
func (s *StepUpService) BeginEnrollment(ctx context.Context, user *models.User) (*EnrollmentMaterial, error) {
	verified, err := s.VerifiedFactor(ctx, user)
	if err != nil {
		return nil, err
	}
	if verified != nil {
		return nil, ErrFactorAlreadyVerified
	}

	if err := s.purgeUnverified(ctx, user.ID); err != nil {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, err
	}

	secret, err := utils.EncryptAESGCM(key.Secret())
	if err != nil {
		return nil, err
	}

	factor := models.MFAFactor{
		UserID: user.ID,
		Secret: secret,
		Status: models.MFAFactorUnverified,
	}
	if err := s.DB.WithContext(ctx).Create(&factor).Error; err != nil {
		return nil, err
	}

	logger.InfoWithUser(user.ID.String(), "mfa_factor_enrolled", map[string]interface{}{
		"factor_id": factor.ID.String(),
	})

	return &EnrollmentMaterial{
		FactorID: factor.ID,
		Secret:   key.Secret(),
		QRUri:    key.URL(),
	}, nil
}

func (s *StepUpService) purgeUnverified(ctx context.Context, userID uuid.UUID) error {
	var stale []models.MFAFactor
	if err := s.DB.WithContext(ctx).
		Where("user_id = ? AND status <> ?", userID, models.MFAFactorVerified).
		Find(&stale).Error; err != nil {
		return err
	}

	for _, factor := range stale {
		if err := s.deleteFactor(ctx, factor.ID); err != nil {
			return err
		}
	}
	if len(stale) > 0 {
		logger.InfoWithUser(userID.String(), "mfa_stale_factors_purged", map[string]interface{}{
			"count": len(stale),
		})
	}
	return nil
}

func (s *StepUpService) deleteFactor(ctx context.Context, factorID uuid.UUID) error {
	if err := s.DB.WithContext(ctx).Where("factor_id = ?", factorID).Delete(&models.MFAChallenge{}).Error; err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Where("id = ?", factorID).Delete(&models.MFAFactor{}).Error
}

// Challenge issues a fresh challenge handle for the given factor. Verify
// calls without one fail, which is what makes the handshake two-step.
func (s *StepUpService) Challenge(ctx context.Context, user *models.User, factorID uuid.UUID) (*models.MFAChallenge, error) {
	var factor models.MFAFactor
	if err := s.DB.WithContext(ctx).First(&factor, "id = ? AND user_id = ?", factorID, user.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFactorNotFound
		}
		return nil, err
	}

	s.sweepExpiredChallenges(ctx)

	challenge := models.MFAChallenge{
		FactorID:  factor.ID,
		ExpiresAt: time.Now().Add(s.ChallengeExpiry),
	}
	if err := s.DB.WithContext(ctx).Create(&challenge).Error; err != nil {
		return nil, err
	}
	return &challenge, nil
}

func (s *StepUpService) sweepExpiredChallenges(ctx context.Context) {
	if err := s.DB.WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&models.MFAChallenge{}).Error; err != nil {
		logger.Error("mfa_challenge_sweep_failed", err, nil)
	}
}

// consumeChallenge loads and deletes the challenge handle, enforcing the
// factor match and expiry. A consumed handle cannot be replayed.
func (s *StepUpService) consumeChallenge(ctx context.Context, factorID, challengeID uuid.UUID) error {
	var challenge models.MFAChallenge
	if err := s.DB.WithContext(ctx).First(&challenge, "id = ?", challengeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChallengeRequired
		}
		return err
	}

	if err := s.DB.WithContext(ctx).Delete(&challenge).Error; err != nil {
		return err
	}

	if challenge.FactorID != factorID {
		return ErrInvalidCode
	}
	if time.Now().After(challenge.ExpiresAt) {
		return ErrInvalidCode
	}
	return nil
}

// VerifyEnrollment completes PENDING_VERIFICATION -> VERIFIED. On a wrong
// code the pending factor is torn down so no half-enrolled state lingers;
// the caller starts over with a new enrollment.
func (s *StepUpService) VerifyEnrollment(ctx context.Context, user *models.User, factorID, challengeID uuid.UUID, code string) error {
	if !sixDigits.MatchString(code) {
		return ErrCodeFormat
	}

	var factor models.MFAFactor
	if err := s.DB.WithContext(ctx).First(&factor, "id = ? AND user_id = ?", factorID, user.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFactorNotFound
		}
		return err
	}
	if factor.Status == models.MFAFactorVerified {
		return ErrFactorAlreadyVerified
	}

	if err := s.consumeChallenge(ctx, factorID, challengeID); err != nil {
		return err
	}

	if !totp.Validate(code, utils.DecryptOrPlaintext(factor.Secret)) {
		if err := s.deleteFactor(ctx, factor.ID); err != nil {
			logger.ErrorWithUser(user.ID.String(), "mfa_factor_teardown_failed", err, map[string]interface{}{
				"factor_id": factor.ID.String(),
			})
		}
		logger.WarnWithUser(user.ID.String(), "mfa_verify_failed", map[string]interface{}{
			"factor_id": factor.ID.String(),
		})
		return ErrInvalidCode
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":      models.MFAFactorVerified,
		"verified_at": now,
	}
	if err := s.DB.WithContext(ctx).Model(&factor).Updates(updates).Error; err != nil {
		return err
	}

	s.reconcileMirror(ctx, user, true, &factor.ID)

	logger.InfoWithUser(user.ID.String(), "mfa_factor_verified", map[string]interface{}{
		"factor_id": factor.ID.String(),
	})
	return nil
}

// CancelEnrollment is the explicit PENDING_VERIFICATION -> NONE transition.
// It synchronously removes the pending factor and its challenges so nothing
// orphaned survives the user closing the setup dialog.
func (s *StepUpService) CancelEnrollment(ctx context.Context, user *models.User, factorID uuid.UUID) error {
	var factor models.MFAFactor
	if err := s.DB.WithContext(ctx).First(&factor, "id = ? AND user_id = ?", factorID, user.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Already gone; cancel is idempotent.
			return nil
		}
		return err
	}
	if factor.Status == models.MFAFactorVerified {
		return ErrFactorAlreadyVerified
	}

	if err := s.deleteFactor(ctx, factor.ID); err != nil {
		return err
	}

	logger.InfoWithUser(user.ID.String(), "mfa_enrollment_cancelled", map[string]interface{}{
		"factor_id": factor.ID.String(),
	})
	return nil
}

// RemoveFactor is VERIFIED -> NONE. The same challenge/verify handshake is
// required with the current valid code before unenrollment; the mirror is
// cleared alongside.
func (s *StepUpService) RemoveFactor(ctx context.Context, user *models.User, factorID, challengeID uuid.UUID, code string) error {
	if !sixDigits.MatchString(code) {
		return ErrCodeFormat
	}

	var factor models.MFAFactor
	if err := s.DB.WithContext(ctx).First(&factor, "id = ? AND user_id = ?", factorID, user.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFactorNotFound
		}
		return err
	}
	if factor.Status != models.MFAFactorVerified {
		return ErrFactorNotFound
	}

	if err := s.consumeChallenge(ctx, factorID, challengeID); err != nil {
		return err
	}

	if !totp.Validate(code, utils.DecryptOrPlaintext(factor.Secret)) {
		return ErrInvalidCode
	}

	if err := s.deleteFactor(ctx, factor.ID); err != nil {
		return err
	}

	s.reconcileMirror(ctx, user, false, nil)

	logger.InfoWithUser(user.ID.String(), "mfa_factor_removed", map[string]interface{}{
		"factor_id": factor.ID.String(),
	})
	return nil
}

// ListFactors returns every factor row for the user, verified or not.
func (s *StepUpService) ListFactors(ctx context.Context, userID uuid.UUID) ([]models.MFAFactor, error) {
	var factors []models.MFAFactor
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&factors).Error
	return factors, err
}
