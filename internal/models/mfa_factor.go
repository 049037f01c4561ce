package models

import (
	"time"

	"github.com/google/uuid"
)

type MFAFactorStatus string

const (
	MFAFactorUnverified MFAFactorStatus = "unverified"
	MFAFactorVerified   MFAFactorStatus = "verified"
)

// MFAFactor is the authoritative record of a user's TOTP second factor.
// At most one verified factor per user is meaningful; unverified rows are
// abandoned setup attempts and get purged before a new enrollment starts.
type MFAFactor struct {
	BaseModel
	UserID     uuid.UUID       `json:"userID" gorm:"type:uuid;not null;index"`
	Secret     string          `json:"-" gorm:"type:text;not null"`
	Status     MFAFactorStatus `json:"status" gorm:"type:varchar(20);not null;default:'unverified';index"`
	VerifiedAt *time.Time      `json:"verifiedAt,omitempty"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID"`
}

func (MFAFactor) TableName() string {
	return "mfa_factors"
}

// MFAChallenge is the short-lived handle issued by the challenge step of the
// challenge/verify handshake. Verify consumes it; expired rows are swept
// opportunistically.
type MFAChallenge struct {
	BaseModel
	FactorID  uuid.UUID `json:"factorID" gorm:"type:uuid;not null;index"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"not null;index"`

	Factor MFAFactor `json:"-" gorm:"foreignKey:FactorID;references:ID"`
}

func (MFAChallenge) TableName() string {
	return "mfa_challenges"
}
