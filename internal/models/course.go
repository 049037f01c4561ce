package models

import "github.com/google/uuid"

type Course struct {
	BaseModel
	TutorID     uuid.UUID `json:"tutorID" gorm:"type:uuid;not null;index"`
	Title       string    `json:"title" gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
	VideoURL    string    `json:"videoURL,omitempty" gorm:"type:text"`
	IsPublished bool      `json:"isPublished" gorm:"not null;default:false;index"`

	// IsCompleted is the tutor-declared "content finalized" flag. It is
	// unrelated to any student's progress.
	IsCompleted bool `json:"isCompleted" gorm:"not null;default:false"`

	Tutor   User     `json:"tutor,omitempty" gorm:"foreignKey:TutorID;references:ID"`
	Lessons []Lesson `json:"lessons,omitempty" gorm:"foreignKey:CourseID"`
}

func (Course) TableName() string {
	return "courses"
}

type Lesson struct {
	BaseModel
	CourseID     uuid.UUID `json:"courseID" gorm:"type:uuid;not null;index"`
	Title        string    `json:"title" gorm:"type:varchar(255);not null"`
	BodyMD       string    `json:"bodyMD" gorm:"type:text"`
	VideoURL     string    `json:"videoURL,omitempty" gorm:"type:text"`
	MaterialPath *string   `json:"materialPath,omitempty" gorm:"type:text"`

	// SortOrder defines the lesson sequence within a course. Only the
	// relative order is meaningful; deletions leave gaps.
	SortOrder int `json:"sortOrder" gorm:"not null;index"`

	Course Course `json:"-" gorm:"foreignKey:CourseID;references:ID"`
}

func (Lesson) TableName() string {
	return "lessons"
}
