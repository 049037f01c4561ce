package models

import "github.com/google/uuid"

// ChatMessage is a message in a course's chat room. UserID is nil for
// messages written by the tutor assistant.
type ChatMessage struct {
	BaseModel
	CourseID uuid.UUID  `json:"courseID" gorm:"type:uuid;not null;index"`
	UserID   *uuid.UUID `json:"userID,omitempty" gorm:"type:uuid;index"`
	Body     string     `json:"body" gorm:"type:text;not null"`

	Course Course `json:"-" gorm:"foreignKey:CourseID;references:ID"`
	User   *User  `json:"user,omitempty" gorm:"foreignKey:UserID;references:ID"`
}

func (ChatMessage) TableName() string {
	return "course_chats"
}
