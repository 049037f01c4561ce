package models

import "github.com/google/uuid"

type Enrollment struct {
	BaseModel
	StudentID uuid.UUID `json:"studentID" gorm:"type:uuid;not null;uniqueIndex:idx_enrollment_pair"`
	CourseID  uuid.UUID `json:"courseID" gorm:"type:uuid;not null;uniqueIndex:idx_enrollment_pair;index"`

	Student User   `json:"student,omitempty" gorm:"foreignKey:StudentID;references:ID"`
	Course  Course `json:"course,omitempty" gorm:"foreignKey:CourseID;references:ID"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}

// LessonCompletion is append-only: there is no "uncomplete" path anywhere in
// the codebase, which is what makes progress computation monotonic.
type LessonCompletion struct {
	BaseModel
	StudentID uuid.UUID `json:"studentID" gorm:"type:uuid;not null;uniqueIndex:idx_completion_pair"`
	LessonID  uuid.UUID `json:"lessonID" gorm:"type:uuid;not null;uniqueIndex:idx_completion_pair;index"`

	Student User   `json:"-" gorm:"foreignKey:StudentID;references:ID"`
	Lesson  Lesson `json:"-" gorm:"foreignKey:LessonID;references:ID"`
}

func (LessonCompletion) TableName() string {
	return "lesson_completions"
}
