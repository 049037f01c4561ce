package models

import (
	"time"

	"github.com/google/uuid"
)

// Diploma records an issued course-completion certificate. The pair is
// unique: re-issuing returns the existing artifact.
type Diploma struct {
	BaseModel
	CourseID    uuid.UUID `json:"courseID" gorm:"type:uuid;not null;uniqueIndex:idx_diploma_pair"`
	StudentID   uuid.UUID `json:"studentID" gorm:"type:uuid;not null;uniqueIndex:idx_diploma_pair"`
	StoragePath string    `json:"-" gorm:"type:text;not null"`
	IssuedAt    time.Time `json:"issuedAt" gorm:"not null"`

	Course  Course `json:"course,omitempty" gorm:"foreignKey:CourseID;references:ID"`
	Student User   `json:"-" gorm:"foreignKey:StudentID;references:ID"`
}

func (Diploma) TableName() string {
	return "course_diplomas"
}
