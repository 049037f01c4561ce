package models

import "github.com/google/uuid"

type UserRole string

const (
	UserRoleStudent UserRole = "student"
	UserRoleTutor   UserRole = "tutor"
	UserRoleAdmin   UserRole = "admin"
)

// ValidRole reports whether value is one of the closed role set. Role
// branching happens in the services package, never on raw strings.
func ValidRole(value string) bool {
	switch UserRole(value) {
	case UserRoleStudent, UserRoleTutor, UserRoleAdmin:
		return true
	default:
		return false
	}
}

type User struct {
	BaseModel
	Email        string   `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string   `json:"-" gorm:"type:text;not null"`
	FullName     string   `json:"fullName" gorm:"type:varchar(200);not null"`
	Role         UserRole `json:"role" gorm:"type:varchar(20);not null;default:'student'"`

	// MFAEnabled and MFAFactorID mirror the authoritative mfa_factors
	// table. They exist so listing screens can avoid a join; any security
	// decision must reconcile them against the factor rows first.
	MFAEnabled  bool       `json:"mfaEnabled" gorm:"not null;default:false"`
	MFAFactorID *uuid.UUID `json:"mfaFactorID,omitempty" gorm:"type:uuid"`

	Courses     []Course     `json:"-" gorm:"foreignKey:TutorID"`
	Enrollments []Enrollment `json:"-" gorm:"foreignKey:StudentID"`
}
